package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subtrack/internal/types"
	"subtrack/internal/workflow"
)

const (
	defaultSweepBatch = 100
	// maxSweepBatches bounds one sweep so a backlog cannot outlive a Lambda
	// invocation; the remainder is picked up by the next tick.
	maxSweepBatches = 50
)

// DueLister is the query half of workflow.Store used by the sweep.
type DueLister interface {
	ListDueRuns(ctx context.Context, q workflow.DueQuery) ([]*types.WorkflowRun, error)
}

// Dispatcher enqueues a wake-up for a run.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg types.WakeMessage) error
}

// SweeperConfig holds the collaborators of a Sweeper.
type SweeperConfig struct {
	Runs       DueLister
	Dispatcher Dispatcher
	// StaleAfter must match the engine's lease timeout.
	StaleAfter time.Duration
	BatchSize  int
	Logger     *slog.Logger
}

// Sweeper re-dispatches runs whose wake time has passed, whose running lease
// has gone stale, or which were left pending by a lost enqueue.
type Sweeper struct {
	runs       DueLister
	dispatcher Dispatcher
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		runs:       cfg.Runs,
		dispatcher: cfg.Dispatcher,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		logger:     cfg.Logger,
	}
}

// Sweep dispatches every due run as of now and returns how many wake-ups
// were enqueued. Dispatch failures are counted and reported after the scan
// completes; the affected runs stay due for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	q := workflow.DueQuery{
		Now:         now,
		StaleBefore: now.Add(-s.staleAfter),
		Limit:       s.batchSize,
	}

	dispatched, failed := 0, 0
	for batches := 0; batches < maxSweepBatches; batches++ {
		runs, err := s.runs.ListDueRuns(ctx, q)
		if err != nil {
			return dispatched, fmt.Errorf("list due runs: %w", err)
		}

		for _, run := range runs {
			err := s.dispatcher.Dispatch(ctx, types.WakeMessage{
				SubscriptionID: run.SubscriptionID,
				RunID:          run.ID,
				Reason:         types.WakeReasonSweep,
				EnqueuedAt:     now,
			})
			if err != nil {
				failed++
				s.logger.WarnContext(ctx, "sweep dispatch failed",
					slog.String("run_id", run.ID),
					slog.String("subscription_id", run.SubscriptionID),
					slog.String("error", err.Error()),
				)
				continue
			}
			dispatched++
		}

		if len(runs) < s.batchSize {
			break
		}
		q.AfterID = runs[len(runs)-1].ID
	}

	s.logger.InfoContext(ctx, "sweep complete",
		slog.Int("dispatched", dispatched),
		slog.Int("failed", failed),
	)
	if failed > 0 {
		return dispatched, fmt.Errorf("sweep: %d of %d dispatches failed", failed, dispatched+failed)
	}
	return dispatched, nil
}
