// Package email renders renewal reminders and hands them to an
// external.EmailProvider.
package email

import (
	"errors"

	"subtrack/internal/types"
)

// IsBlocklistError reports whether the provider refused the recipient
// because it is suppressed or blocked.
func IsBlocklistError(err error) bool {
	return types.HasCode(err, types.ErrCodeEmailBlocked)
}

// IsPermanent reports whether retrying the same message cannot succeed.
// Unclassified errors are treated as transient.
func IsPermanent(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case types.ErrCodeEmailBlocked, types.ErrCodeEmailInvalidRecipient:
		return true
	}
	return false
}
