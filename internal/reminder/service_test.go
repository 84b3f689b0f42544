package reminder

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/types"
)

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Deps{}, Options{})
	assert.Error(t, err)

	_, err = NewService(Deps{
		Subscriptions: newFakeSubscriptions(),
		Runs:          nil,
		Sender:        &fakeSender{},
		Dispatcher:    &fakeDispatcher{},
	}, Options{})
	assert.Error(t, err)
}

func TestNewService_RejectsBadOffsets(t *testing.T) {
	h := newHarness(t)
	_, err := NewService(Deps{
		Subscriptions: h.subs,
		Runs:          h.runs,
		Sender:        h.sender,
		Dispatcher:    h.dispatcher,
	}, Options{Offsets: []int{7, -1}})
	assert.Error(t, err)
}

func TestService_TriggerEnqueuesWake(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, activeSub("sub_a", baseTime.Add(Days(20))))

	res, err := h.svc.Trigger(ctx, "sub_a")
	require.NoError(t, err)
	assert.Equal(t, types.TriggerStarted, res.Status)
	assert.NotEmpty(t, res.RunID)

	require.Equal(t, 1, h.dispatcher.count())
	msg := h.dispatcher.msgs[0]
	assert.Equal(t, "sub_a", msg.SubscriptionID)
	assert.Equal(t, res.RunID, msg.RunID)
	assert.Equal(t, types.WakeReasonTrigger, msg.Reason)

	run, err := h.runs.GetActiveRun(ctx, "sub_a")
	require.NoError(t, err)
	assert.Equal(t, types.RunPending, run.State)
	assert.Equal(t, PeriodKey(baseTime.Add(Days(20))), run.ScopeKey)
}

func TestService_TriggerReportsAlreadyRunning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, activeSub("sub_a", baseTime.Add(Days(20))))

	first, err := h.svc.Trigger(ctx, "sub_a")
	require.NoError(t, err)

	second, err := h.svc.Trigger(ctx, "sub_a")
	require.NoError(t, err)
	assert.Equal(t, types.TriggerAlreadyRunning, second.Status)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestService_TriggerSurvivesDispatchFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, activeSub("sub_a", baseTime.Add(Days(2))))
	h.dispatcher.err = errors.New("queue unavailable")

	res, err := h.svc.Trigger(ctx, "sub_a")
	require.NoError(t, err)
	assert.Equal(t, types.TriggerStarted, res.Status)

	run, err := h.runs.GetActiveRun(ctx, "sub_a")
	require.NoError(t, err)
	assert.Equal(t, types.RunPending, run.State)
}

func TestService_TriggerUnknownSubscription(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Trigger(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundSubscription))
}

func TestService_ReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	inactive := activeSub("sub_c", baseTime.Add(Days(2)))
	inactive.Status = types.SubscriptionInactive
	h := newHarness(t,
		activeSub("sub_a", baseTime.Add(Days(1))),
		activeSub("sub_b", baseTime.Add(Days(7))),
		inactive,
		activeSub("sub_d", baseTime.Add(Days(8))),
		activeSub("sub_e", baseTime.Add(-Days(1))),
	)

	first, err := h.svc.Reconcile(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_a", "sub_b"}, first.Started)
	assert.Equal(t, 2, first.Scanned)
	assert.Equal(t, 2, first.Count())

	second, err := h.svc.Reconcile(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, second.Started)
	assert.Equal(t, 2, second.AlreadyRunning)
	assert.Equal(t, 2, h.dispatcher.count())
}

func TestService_ReconcileSkipsFinishedRenewalPeriod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, activeSub("sub_a", baseTime.Add(Days(1))))

	h.start(t, "sub_a")
	run := h.resume(t, "sub_a")
	require.Equal(t, types.RunCompleted, run.State)
	require.Equal(t, []int{1}, h.sender.offsets("sub_a"))

	res, err := h.svc.Reconcile(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, res.Started)
	assert.Equal(t, 1, res.AlreadyDone)

	// A new renewal date inside the window is a new reminder period.
	h.subs.setRenewal("sub_a", baseTime.Add(Days(3)))
	res, err = h.svc.Reconcile(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_a"}, res.Started)
}

func TestService_ReconcilePagesThroughAllCandidates(t *testing.T) {
	ctx := context.Background()
	var subs []*types.Subscription
	for i := 0; i < 5; i++ {
		subs = append(subs, activeSub(fmt.Sprintf("sub_%d", i), baseTime.Add(Days(i+1))))
	}
	h := newHarness(t, subs...)

	res, err := h.svc.Reconcile(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scanned)
	assert.Len(t, res.Started, 5)
	assert.Equal(t, 5, h.dispatcher.count())
}

func TestService_LatestRunNotFound(t *testing.T) {
	h := newHarness(t, activeSub("sub_a", baseTime.Add(Days(3))))
	_, err := h.svc.LatestRun(context.Background(), "sub_a")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundWorkflowRun))
}
