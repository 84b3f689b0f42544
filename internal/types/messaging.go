package types

import "time"

// WakeMessage is the queue payload asking a worker to resume the active run
// of a subscription. Delivery is at-least-once; the engine's claim discards
// duplicates.
type WakeMessage struct {
	SubscriptionID string    `json:"subscription_id"`
	RunID          string    `json:"run_id,omitempty"`
	Reason         string    `json:"reason"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// Wake reasons.
const (
	WakeReasonTrigger = "trigger"
	WakeReasonSweep   = "sweep"
	WakeReasonRetry   = "retry"
)
