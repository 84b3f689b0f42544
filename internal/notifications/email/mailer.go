package email

import (
	"context"
	"fmt"
	"log/slog"

	"subtrack/internal/external"
	"subtrack/internal/types"
	"subtrack/internal/workflow"
)

// ReminderMailer renders and sends renewal reminders. It implements
// reminder.Sender.
type ReminderMailer struct {
	renderer *Renderer
	provider external.EmailProvider
	from     types.SenderIdentity
	logger   *slog.Logger
	metrics  DeliveryMetrics
	provName string
}

// DeliveryMetrics counts reminder sends by provider and offset.
type DeliveryMetrics interface {
	RecordReminder(ctx context.Context, provider string, daysBefore int, ok bool)
}

// MailerConfig holds the dependencies of a ReminderMailer.
type MailerConfig struct {
	Renderer *Renderer
	Provider external.EmailProvider
	From     types.SenderIdentity
	Logger   *slog.Logger
	// ProviderName labels delivery metrics.
	ProviderName string
	Metrics      DeliveryMetrics
}

// NewReminderMailer creates a ReminderMailer.
func NewReminderMailer(cfg MailerConfig) *ReminderMailer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopDeliveryMetrics{}
	}
	return &ReminderMailer{
		renderer: cfg.Renderer,
		provider: cfg.Provider,
		from:     cfg.From,
		logger:   logger,
		metrics:  metrics,
		provName: cfg.ProviderName,
	}
}

// SendReminder delivers one reminder. A blocked or invalid recipient is
// returned as a terminal error so the run is not retried.
func (m *ReminderMailer) SendReminder(ctx context.Context, sub *types.Subscription, daysBefore int) (string, error) {
	if sub.Owner.Email == "" {
		return "", workflow.Terminal(types.NewAppError(types.ErrCodeEmailInvalidRecipient, "subscription owner has no email address", nil))
	}

	rendered, err := m.renderer.RenderReminder(sub, daysBefore)
	if err != nil {
		return "", workflow.Terminal(err)
	}

	log := m.logger.With(
		slog.String("subscription_id", sub.ID),
		slog.String("to", RedactEmail(sub.Owner.Email)),
		slog.Int("days_before", daysBefore),
	)

	msgID, err := m.provider.Send(ctx, types.SendInput{
		To:          sub.Owner.Email,
		From:        m.from,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: fmt.Sprintf("%s:%d:%s", sub.ID, daysBefore, sub.RenewalDate.UTC().Format("2006-01-02")),
	})
	m.metrics.RecordReminder(ctx, m.provName, daysBefore, err == nil)
	if err != nil {
		if IsPermanent(err) {
			log.WarnContext(ctx, "reminder permanently rejected", slog.Bool("blocked", IsBlocklistError(err)), slog.Any("error", err))
			return "", workflow.Terminal(err)
		}
		log.WarnContext(ctx, "reminder send failed", slog.Any("error", err))
		return "", err
	}

	log.InfoContext(ctx, "reminder sent", slog.String("message_id", msgID))
	return msgID, nil
}

type nopDeliveryMetrics struct{}

func (nopDeliveryMetrics) RecordReminder(context.Context, string, int, bool) {}
