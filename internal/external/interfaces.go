package external

import (
	"context"

	"subtrack/internal/types"
)

// EmailProvider transmits pre-rendered email content and returns the
// provider's message id.
//
// Failures are *types.AppError. Codes prefixed email_ are permanent for the
// recipient; everything else may succeed on a later attempt.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
