package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"subtrack/internal/types"
)

// SweepService re-dispatches due runs.
type SweepService interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ReconcileService starts runs for renewals that have none.
type ReconcileService interface {
	Reconcile(ctx context.Context, now time.Time) (*types.ReconcileResult, error)
}

// MetricsFlusher pushes buffered metrics before the invocation freezes.
type MetricsFlusher interface {
	Flush(ctx context.Context) error
}

// Handler routes scheduled events to the sweep and reconcile jobs.
type Handler struct {
	Sweeper    SweepService
	Reconciler ReconcileService
	Metrics    MetricsFlusher
	Clock      types.Clock
	Logger     *slog.Logger
}

// Handle runs the task named in the payload and returns a one-line summary.
func (h *Handler) Handle(ctx context.Context, payload Payload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if h.Metrics != nil {
		defer func() {
			if err := h.Metrics.Flush(context.WithoutCancel(ctx)); err != nil {
				logger.WarnContext(ctx, "metrics flush failed", slog.Any("error", err))
			}
		}()
	}

	now := h.now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	task := payload.Task
	if task == "" {
		task = TaskSweepAndReconcile
	}

	logger.InfoContext(ctx, "scheduled task invoked",
		slog.String("task", string(task)),
		slog.String("reference_time", now.Format(time.RFC3339)),
	)

	items, err := h.dispatch(ctx, task, now)
	if err != nil {
		logger.ErrorContext(ctx, "scheduled task failed",
			slog.String("task", string(task)),
			slog.Int("items_before_error", items),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("task %s failed: %w", task, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", task, items)
	logger.InfoContext(ctx, result, slog.String("task", string(task)), slog.Int("items", items))
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, task TaskType, now time.Time) (int, error) {
	switch task {
	case TaskSweepDueRuns:
		return h.Sweeper.Sweep(ctx, now)

	case TaskReconcileRenewals:
		res, err := h.Reconciler.Reconcile(ctx, now)
		if err != nil {
			return 0, err
		}
		return res.Count(), nil

	case TaskSweepAndReconcile:
		// Reconcile first so the runs it starts but fails to enqueue are
		// already visible to the sweep that follows on the next tick.
		res, recErr := h.Reconciler.Reconcile(ctx, now)
		started := 0
		if res != nil {
			started = res.Count()
		}
		swept, sweepErr := h.Sweeper.Sweep(ctx, now)
		return started + swept, errors.Join(recErr, sweepErr)

	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now().UTC()
}
