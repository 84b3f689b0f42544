package external

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"subtrack/internal/types"
)

// StubEmailProvider logs instead of sending and remembers what it was asked
// to send. Selected with EMAIL_PROVIDER=stub for local runs.
type StubEmailProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []types.SendInput
}

var _ EmailProvider = (*StubEmailProvider)(nil)

// NewStubEmailProvider creates a StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.mu.Lock()
	s.sent = append(s.sent, input)
	s.mu.Unlock()

	id := "msg_stub_" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub: email not sent",
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
		"message_id", id,
	)
	return id, nil
}

// Sent returns a copy of every message accepted so far.
func (s *StubEmailProvider) Sent() []types.SendInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SendInput(nil), s.sent...)
}
