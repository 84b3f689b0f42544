package workflow

import "context"

// Outcomes reported to Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeSuspended = "suspended"
	OutcomeRetry     = "retry"
	OutcomeConflict  = "conflict"
)

// Metrics receives engine events. Implementations must not block.
type Metrics interface {
	RecordRunOutcome(ctx context.Context, workflow, outcome string)
	RecordStepRetry(ctx context.Context, workflow, step string)
}

type nopMetrics struct{}

func (nopMetrics) RecordRunOutcome(context.Context, string, string) {}
func (nopMetrics) RecordStepRetry(context.Context, string, string)  {}
