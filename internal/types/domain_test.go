package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunState_Classification(t *testing.T) {
	for _, s := range ActiveRunStates {
		assert.True(t, s.IsActive(), "%s should be active", s)
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
	for _, s := range []RunState{RunCompleted, RunFailed} {
		assert.False(t, s.IsActive(), "%s should not be active", s)
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
}

func TestSubscription_IsActive(t *testing.T) {
	var nilSub *Subscription
	assert.False(t, nilSub.IsActive())
	assert.True(t, (&Subscription{Status: SubscriptionActive}).IsActive())
	assert.False(t, (&Subscription{Status: SubscriptionCanceled}).IsActive())
	assert.False(t, (&Subscription{Status: SubscriptionInactive}).IsActive())
}

func TestWorkflowRun_PutStepKeepsOrder(t *testing.T) {
	run := &WorkflowRun{}
	run.PutStep(StepRecord{Name: "send-reminder-7", Attempts: 1})
	run.PutStep(StepRecord{Name: "sleep:before-reminder-3"})
	run.PutStep(StepRecord{Name: "send-reminder-7", Completed: true, Attempts: 2})

	require.Len(t, run.Steps, 2)
	assert.Equal(t, "send-reminder-7", run.Steps[0].Name)
	assert.True(t, run.Steps[0].Completed)
	assert.Equal(t, 2, run.Steps[0].Attempts)

	rec, ok := run.Step("sleep:before-reminder-3")
	require.True(t, ok)
	assert.False(t, rec.Completed)

	_, ok = run.Step("send-reminder-1")
	assert.False(t, ok)
}

func TestWorkflowRun_CloneIsDeep(t *testing.T) {
	wake := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	run := &WorkflowRun{
		ID:     "run_1",
		WakeAt: &wake,
		Steps:  []StepRecord{{Name: "a", Result: json.RawMessage(`"x"`)}},
	}

	cp := run.Clone()
	cp.Steps[0].Result[1] = 'y'
	*cp.WakeAt = wake.Add(time.Hour)
	cp.Steps = append(cp.Steps, StepRecord{Name: "b"})

	assert.Equal(t, `"x"`, string(run.Steps[0].Result))
	assert.Equal(t, wake, *run.WakeAt)
	assert.Len(t, run.Steps, 1)
	assert.Nil(t, (*WorkflowRun)(nil).Clone())
}

func TestReconcileResult_Count(t *testing.T) {
	r := &ReconcileResult{Started: []string{"a", "b"}}
	assert.Equal(t, 2, r.Count())
}
