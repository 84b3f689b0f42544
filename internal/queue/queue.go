// Package queue carries wake messages from the producers (trigger,
// reconcile, sweep) to whatever executes runs: an SQS-fed Lambda worker or
// an in-process pool.
package queue

import (
	"context"
	"log/slog"

	"subtrack/internal/types"
)

// Executor resumes the active run of a subscription.
type Executor interface {
	Resume(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error)
}

// execute runs one wake message and classifies the outcome. It returns an
// error only when redelivery could help.
func execute(ctx context.Context, exec Executor, msg types.WakeMessage, logger *slog.Logger) error {
	if msg.TraceID != "" {
		ctx = types.WithRequestID(ctx, msg.TraceID)
	}
	log := logger.With(
		slog.String("subscription_id", msg.SubscriptionID),
		slog.String("reason", msg.Reason),
	)

	run, err := exec.Resume(ctx, msg.SubscriptionID)
	switch {
	case types.HasCode(err, types.ErrCodeNotFoundWorkflowRun):
		log.InfoContext(ctx, "no active run, dropping wake")
		return nil
	case err != nil:
		log.ErrorContext(ctx, "resume failed", slog.Any("error", err))
		return err
	}

	log.InfoContext(ctx, "run resumed",
		slog.String("run_id", run.ID),
		slog.String("state", string(run.State)),
	)
	return nil
}
