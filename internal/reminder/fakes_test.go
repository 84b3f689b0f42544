package reminder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"subtrack/internal/types"
	"subtrack/internal/workflow"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSubscriptions struct {
	mu   sync.Mutex
	subs map[string]*types.Subscription
}

func newFakeSubscriptions(subs ...*types.Subscription) *fakeSubscriptions {
	f := &fakeSubscriptions{subs: make(map[string]*types.Subscription)}
	for _, s := range subs {
		f.subs[s.ID] = s
	}
	return f
}

func (f *fakeSubscriptions) GetSubscription(_ context.Context, id string) (*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubscriptions) ListRenewingBetween(_ context.Context, from, to time.Time, afterID string, limit int) ([]*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Subscription
	for _, s := range f.subs {
		if s.ID <= afterID || !s.IsActive() {
			continue
		}
		if s.RenewalDate.Before(from) || s.RenewalDate.After(to) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSubscriptions) setStatus(id string, status types.SubscriptionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id].Status = status
}

func (f *fakeSubscriptions) setRenewal(id string, renewal time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id].RenewalDate = renewal
}

func (f *fakeSubscriptions) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

type sentReminder struct {
	SubscriptionID string
	DaysBefore     int
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentReminder
	failFn func(call int) error
	calls  int
}

func (f *fakeSender) SendReminder(_ context.Context, sub *types.Subscription, daysBefore int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFn != nil {
		if err := f.failFn(f.calls); err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, sentReminder{SubscriptionID: sub.ID, DaysBefore: daysBefore})
	return fmt.Sprintf("msg_%s_%d", sub.ID, daysBefore), nil
}

func (f *fakeSender) offsets(subID string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, s := range f.sent {
		if s.SubscriptionID == subID {
			out = append(out, s.DaysBefore)
		}
	}
	return out
}

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []types.WakeMessage
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg types.WakeMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type testHarness struct {
	clock      *fakeClock
	subs       *fakeSubscriptions
	sender     *fakeSender
	dispatcher *fakeDispatcher
	runs       *workflow.MemoryStore
	svc        *Service
}

func newHarness(t *testing.T, subs ...*types.Subscription) *testHarness {
	t.Helper()
	h := &testHarness{
		clock:      &fakeClock{now: baseTime},
		subs:       newFakeSubscriptions(subs...),
		sender:     &fakeSender{},
		dispatcher: &fakeDispatcher{},
		runs:       workflow.NewMemoryStore(),
	}
	svc, err := NewService(Deps{
		Subscriptions: h.subs,
		Runs:          h.runs,
		Sender:        h.sender,
		Dispatcher:    h.dispatcher,
		Clock:         h.clock,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{
		Retry:              workflow.RetryPolicy{Initial: time.Minute, Max: time.Hour, Multiplier: 2},
		StaleAfter:         10 * time.Minute,
		ReconcileBatchSize: 2,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

var baseTime = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func activeSub(id string, renewal time.Time) *types.Subscription {
	return &types.Subscription{
		ID:          id,
		UserID:      "usr_" + id,
		Name:        "Streaming " + id,
		Price:       9.99,
		Currency:    "USD",
		Frequency:   types.FrequencyMonthly,
		Status:      types.SubscriptionActive,
		StartDate:   renewal.AddDate(0, -1, 0),
		RenewalDate: renewal,
		Owner:       types.SubscriptionOwner{ID: "usr_" + id, Name: "Owner " + id, Email: id + "@example.com"},
	}
}
