// Package scheduler hosts the periodic jobs that keep reminder runs moving:
// the resumption sweep, which re-dispatches due, stale and orphaned runs,
// and the renewal reconcile, which starts runs that were never triggered.
//
// Both jobs take a reference time so they can be driven deterministically
// from tests or a manual invocation.
package scheduler

import "time"

// TaskType identifies which job a scheduled event runs.
type TaskType string

const (
	TaskSweepDueRuns      TaskType = "sweep_due_runs"
	TaskReconcileRenewals TaskType = "reconcile_renewals"
	TaskSweepAndReconcile TaskType = "sweep_and_reconcile"
)

// Payload is the JSON document sent by the EventBridge rule.
//
//	{
//	  "task": "reconcile_renewals",
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type Payload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual runs.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
