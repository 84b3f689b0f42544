package workflow

import (
	"context"
	"time"

	"subtrack/internal/types"
)

// DueQuery selects runs the host must resume.
type DueQuery struct {
	Now time.Time
	// StaleBefore reclaims running leases and pending runs older than this.
	StaleBefore time.Time
	AfterID     string
	Limit       int
}

// Store persists runs and their step logs.
//
// CreateRun must fail with an AppError coded ErrCodeConflictRunActive when
// the subscription already has a run in an active state. Lookups that find
// nothing return ErrCodeNotFoundWorkflowRun.
type Store interface {
	CreateRun(ctx context.Context, run *types.WorkflowRun) error
	GetRun(ctx context.Context, runID string) (*types.WorkflowRun, error)
	GetActiveRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error)
	GetLatestRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error)

	// ClaimRun moves a run to running when it is pending, sleeping past its
	// wake time, or running with a lease older than staleBefore. It reports
	// false when another caller holds the run.
	ClaimRun(ctx context.Context, runID string, now, staleBefore time.Time) (bool, error)

	// SaveStep upserts a step record. A completed record's result is never
	// overwritten.
	SaveStep(ctx context.Context, runID string, step types.StepRecord) error

	Suspend(ctx context.Context, runID string, wakeAt time.Time, attempts int, lastErr string) error
	CompleteRun(ctx context.Context, runID, outcome string, at time.Time) error
	FailRun(ctx context.Context, runID, reason string, at time.Time) error

	ListDueRuns(ctx context.Context, q DueQuery) ([]*types.WorkflowRun, error)
}
