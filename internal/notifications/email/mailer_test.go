package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"subtrack/internal/types"
	"subtrack/internal/workflow"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

func newTestMailer(t *testing.T, p *mockProvider) *ReminderMailer {
	return NewReminderMailer(MailerConfig{
		Renderer: newTestRenderer(t),
		Provider: p,
		From:     types.SenderIdentity{Name: "SubTrack", Address: "reminders@subtrack.app"},
	})
}

func TestReminderMailer_Sends(t *testing.T) {
	p := new(mockProvider)
	p.On("Send", mock.Anything, mock.MatchedBy(func(in types.SendInput) bool {
		return in.To == "ada@example.com" &&
			in.From.Address == "reminders@subtrack.app" &&
			in.Subject == "Netflix renews tomorrow" &&
			in.ReferenceID == "sub_1:1:2026-06-08" &&
			strings.Contains(in.BodyText, "Netflix")
	})).Return("msg-1", nil)

	id, err := newTestMailer(t, p).SendReminder(context.Background(), testSub(), 1)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	p.AssertExpectations(t)
}

func TestReminderMailer_PermanentFailuresAreTerminal(t *testing.T) {
	for _, code := range []types.ErrorCode{types.ErrCodeEmailBlocked, types.ErrCodeEmailInvalidRecipient} {
		p := new(mockProvider)
		p.On("Send", mock.Anything, mock.Anything).Return("", types.NewAppError(code, "rejected", nil))

		_, err := newTestMailer(t, p).SendReminder(context.Background(), testSub(), 3)
		require.Error(t, err)
		assert.True(t, workflow.IsTerminal(err), "code %s", code)
		assert.True(t, types.HasCode(err, code))
	}
}

func TestReminderMailer_TransientFailuresAreRetryable(t *testing.T) {
	p := new(mockProvider)
	p.On("Send", mock.Anything, mock.Anything).Return("", types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil))

	_, err := newTestMailer(t, p).SendReminder(context.Background(), testSub(), 3)
	require.Error(t, err)
	assert.False(t, workflow.IsTerminal(err))
}

func TestReminderMailer_MissingOwnerEmail(t *testing.T) {
	p := new(mockProvider)
	sub := testSub()
	sub.Owner.Email = ""

	_, err := newTestMailer(t, p).SendReminder(context.Background(), sub, 3)
	assert.True(t, workflow.IsTerminal(err))
	p.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(types.NewAppError(types.ErrCodeEmailBlocked, "x", nil)))
	assert.False(t, IsPermanent(types.NewAppError(types.ErrCodeUpstreamRateLimited, "x", nil)))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.True(t, IsBlocklistError(types.NewAppError(types.ErrCodeEmailBlocked, "x", nil)))
}

type countingMetrics struct {
	sent, failed int
}

func (c *countingMetrics) RecordReminder(_ context.Context, provider string, _ int, ok bool) {
	if ok {
		c.sent++
	} else {
		c.failed++
	}
}

func TestReminderMailer_RecordsDeliveryMetrics(t *testing.T) {
	p := new(mockProvider)
	p.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil).Once()
	p.On("Send", mock.Anything, mock.Anything).Return("", errors.New("timeout")).Once()

	metrics := &countingMetrics{}
	m := NewReminderMailer(MailerConfig{
		Renderer:     newTestRenderer(t),
		Provider:     p,
		ProviderName: "stub",
		Metrics:      metrics,
	})

	_, err := m.SendReminder(context.Background(), testSub(), 7)
	require.NoError(t, err)
	_, err = m.SendReminder(context.Background(), testSub(), 3)
	require.Error(t, err)

	assert.Equal(t, 1, metrics.sent)
	assert.Equal(t, 1, metrics.failed)
}
