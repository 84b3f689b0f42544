package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subtrack/internal/types"
	"subtrack/internal/workflow"
)

// WorkflowName identifies reminder runs in storage and metrics.
const WorkflowName = "subscription-renewal-reminder"

// Run outcomes recorded on completion.
const (
	OutcomeRemindersSent = "reminders_sent"
	OutcomeRenewalPassed = "renewal_passed"
)

// SubscriptionSource reads subscriptions with their owner's contact details.
// A missing subscription is reported as an AppError coded
// ErrCodeNotFoundSubscription.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, id string) (*types.Subscription, error)
}

// Sender delivers one reminder email and returns the provider message id.
// Permanent failures are wrapped with workflow.Terminal.
type Sender interface {
	SendReminder(ctx context.Context, sub *types.Subscription, daysBefore int) (string, error)
}

// Delivery is the memoized result of a send step.
type Delivery struct {
	MessageID  string    `json:"message_id"`
	DaysBefore int       `json:"days_before"`
	SentAt     time.Time `json:"sent_at"`
}

// PeriodKey identifies the renewal a run is reminding about.
func PeriodKey(renewal time.Time) string {
	return renewal.UTC().Format("2006-01-02")
}

// Workflow is the reminder program executed by the engine for each run.
type Workflow struct {
	subs    SubscriptionSource
	sender  Sender
	offsets []int
	logger  *slog.Logger
}

// NewWorkflow builds the reminder program. offsets must already be
// normalized (see NormalizeOffsets).
func NewWorkflow(subs SubscriptionSource, sender Sender, offsets []int, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{subs: subs, sender: sender, offsets: offsets, logger: logger}
}

// Run evaluates the schedule against the current time and the freshly read
// subscription. Every resume replays it from the top; completed sends and
// sleeps are served from the step log.
//
// Once a reminder for the period has gone out, the next one is timed from
// that recorded delivery rather than from the clock alone, so a resume that
// lands on a later day never fires the following reminder early.
func (w *Workflow) Run(ctx context.Context, wc *workflow.Context) error {
	sub, err := w.loadActive(ctx, wc.SubscriptionID())
	if err != nil {
		return err
	}

	renewal := sub.RenewalDate
	period := PeriodKey(renewal)

	last, sent, err := w.lastDelivery(wc, period)
	if err != nil {
		return err
	}

	if !sent {
		plan := NextCheckpoints(DaysUntil(renewal, wc.Now()), w.offsets)
		switch {
		case plan.Passed:
			wc.SetOutcome(OutcomeRenewalPassed)
			return nil
		case plan.SleepFor > 0:
			return wc.Sleep(ctx, "until-window:"+period, plan.SleepFor)
		}
		if last, err = w.send(ctx, wc, sub, period, plan.Due[0].Offset); err != nil {
			return err
		}
	}

	for {
		next, ok := nextOffset(w.offsets, last.DaysBefore, DaysUntil(renewal, wc.Now()))
		if !ok {
			break
		}
		wake := last.SentAt.Add(Days(last.DaysBefore - next))
		if err := wc.Sleep(ctx, fmt.Sprintf("before-reminder-%d:%s", next, period), wake.Sub(wc.Now())); err != nil {
			return err
		}
		// Cancellation is only observable by reading the subscription again.
		if sub, err = w.loadActive(ctx, wc.SubscriptionID()); err != nil {
			return err
		}
		if last, err = w.send(ctx, wc, sub, period, next); err != nil {
			return err
		}
	}

	wc.SetOutcome(OutcomeRemindersSent)
	return nil
}

func (w *Workflow) send(ctx context.Context, wc *workflow.Context, sub *types.Subscription, period string, offset int) (Delivery, error) {
	return workflow.Step(ctx, wc, sendStepName(offset, period),
		func(ctx context.Context) (Delivery, error) {
			id, err := w.sender.SendReminder(ctx, sub, offset)
			if err != nil {
				return Delivery{}, err
			}
			return Delivery{MessageID: id, DaysBefore: offset, SentAt: wc.Now()}, nil
		})
}

// lastDelivery returns the smallest offset already sent for the period.
func (w *Workflow) lastDelivery(wc *workflow.Context, period string) (Delivery, bool, error) {
	for i := len(w.offsets) - 1; i >= 0; i-- {
		offset := w.offsets[i]
		rec, ok, err := workflow.Lookup[Delivery](wc, sendStepName(offset, period))
		if err != nil {
			return Delivery{}, false, err
		}
		if !ok {
			continue
		}
		d := rec.Value
		d.DaysBefore = offset
		if d.SentAt.IsZero() {
			d.SentAt = rec.CompletedAt
		}
		return d, true, nil
	}
	return Delivery{}, false, nil
}

// nextOffset picks the reminder that follows last. Offsets larger than the
// days left have been missed and are skipped.
func nextOffset(offsets []int, last, daysUntil int) (int, bool) {
	for _, o := range offsets {
		if o < last && o <= daysUntil {
			return o, true
		}
	}
	return 0, false
}

func sendStepName(offset int, period string) string {
	return fmt.Sprintf("send-reminder-%d:%s", offset, period)
}

func (w *Workflow) loadActive(ctx context.Context, id string) (*types.Subscription, error) {
	sub, err := w.subs.GetSubscription(ctx, id)
	if types.HasCode(err, types.ErrCodeNotFoundSubscription) {
		return nil, workflow.Skip("subscription_not_found")
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", id, err)
	}
	if !sub.IsActive() {
		w.logger.InfoContext(ctx, "subscription no longer active",
			slog.String("subscription_id", id),
			slog.String("status", string(sub.Status)),
		)
		return nil, workflow.Skip("subscription_" + string(sub.Status))
	}
	return sub, nil
}
