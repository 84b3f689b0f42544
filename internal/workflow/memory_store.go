package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"subtrack/internal/types"
)

// MemoryStore is an in-process Store used by tests and single-node local
// runs. State is lost when the process exits.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*types.WorkflowRun
	seq  map[string]int
	next int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*types.WorkflowRun),
		seq:  make(map[string]int),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *types.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.activeLocked(run.SubscriptionID); existing != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictRunActive,
			"an active workflow run already exists for this subscription", nil,
			map[string]any{"run_id": existing.ID, "subscription_id": run.SubscriptionID})
	}
	if _, dup := s.runs[run.ID]; dup {
		return types.NewAppError(types.ErrCodeInternalDB, "duplicate run id", nil)
	}
	s.runs[run.ID] = run.Clone()
	s.next++
	s.seq[run.ID] = s.next
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, notFoundRun()
	}
	return run.Clone(), nil
}

func (s *MemoryStore) GetActiveRun(_ context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.activeLocked(subscriptionID)
	if run == nil {
		return nil, notFoundRun()
	}
	return run.Clone(), nil
}

func (s *MemoryStore) GetLatestRun(_ context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *types.WorkflowRun
	for id, run := range s.runs {
		if run.SubscriptionID != subscriptionID {
			continue
		}
		if latest == nil || s.seq[id] > s.seq[latest.ID] {
			latest = run
		}
	}
	if latest == nil {
		return nil, notFoundRun()
	}
	return latest.Clone(), nil
}

func (s *MemoryStore) ClaimRun(_ context.Context, runID string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return false, notFoundRun()
	}
	if !claimable(run, now, staleBefore) {
		return false, nil
	}
	run.State = types.RunRunning
	woken := now
	run.LastWokenAt = &woken
	run.UpdatedAt = now
	return true, nil
}

func claimable(run *types.WorkflowRun, now, staleBefore time.Time) bool {
	switch run.State {
	case types.RunPending:
		return true
	case types.RunSleeping:
		return run.WakeAt == nil || !run.WakeAt.After(now)
	case types.RunRunning:
		return run.LastWokenAt != nil && !run.LastWokenAt.After(staleBefore)
	default:
		return false
	}
}

func (s *MemoryStore) SaveStep(_ context.Context, runID string, step types.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return notFoundRun()
	}
	if prev, ok := run.Step(step.Name); ok {
		if prev.Completed {
			step.Completed = true
			step.Result = prev.Result
		}
		step.CreatedAt = prev.CreatedAt
	}
	if step.Result != nil {
		step.Result = append([]byte(nil), step.Result...)
	}
	run.PutStep(step)
	run.UpdatedAt = step.UpdatedAt
	return nil
}

func (s *MemoryStore) Suspend(_ context.Context, runID string, wakeAt time.Time, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return notFoundRun()
	}
	wake := wakeAt
	run.State = types.RunSleeping
	run.WakeAt = &wake
	run.Attempts = attempts
	run.LastError = lastErr
	return nil
}

func (s *MemoryStore) CompleteRun(_ context.Context, runID, outcome string, at time.Time) error {
	return s.finish(runID, types.RunCompleted, outcome, "", at)
}

func (s *MemoryStore) FailRun(_ context.Context, runID, reason string, at time.Time) error {
	return s.finish(runID, types.RunFailed, "", reason, at)
}

func (s *MemoryStore) finish(runID string, state types.RunState, outcome, lastErr string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return notFoundRun()
	}
	finished := at
	run.State = state
	run.WakeAt = nil
	run.Outcome = outcome
	if lastErr != "" {
		run.LastError = lastErr
	}
	run.FinishedAt = &finished
	run.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListDueRuns(_ context.Context, q DueQuery) ([]*types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*types.WorkflowRun
	for _, run := range s.runs {
		if run.ID <= q.AfterID {
			continue
		}
		if isDue(run, q) {
			cp := run.Clone()
			cp.Steps = nil
			due = append(due, cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}
	return due, nil
}

func isDue(run *types.WorkflowRun, q DueQuery) bool {
	switch run.State {
	case types.RunSleeping:
		return run.WakeAt != nil && !run.WakeAt.After(q.Now)
	case types.RunPending:
		return !run.CreatedAt.After(q.StaleBefore)
	case types.RunRunning:
		return run.LastWokenAt != nil && !run.LastWokenAt.After(q.StaleBefore)
	default:
		return false
	}
}

func (s *MemoryStore) activeLocked(subscriptionID string) *types.WorkflowRun {
	for _, run := range s.runs {
		if run.SubscriptionID == subscriptionID && run.State.IsActive() {
			return run
		}
	}
	return nil
}

func notFoundRun() error {
	return types.NewAppError(types.ErrCodeNotFoundWorkflowRun, "workflow run not found", nil)
}
