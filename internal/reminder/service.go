package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"subtrack/internal/types"
	"subtrack/internal/workflow"
)

// SubscriptionStore is the read-only view of the subscription storage the
// service needs.
type SubscriptionStore interface {
	SubscriptionSource
	// ListRenewingBetween returns active subscriptions renewing in [from, to],
	// ordered by id, starting after afterID.
	ListRenewingBetween(ctx context.Context, from, to time.Time, afterID string, limit int) ([]*types.Subscription, error)
}

// Dispatcher hands a wake-up to whatever host executes runs.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg types.WakeMessage) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Subscriptions SubscriptionStore
	Runs          workflow.Store
	Sender        Sender
	Dispatcher    Dispatcher
	Clock         types.Clock
	Logger        *slog.Logger
	Metrics       workflow.Metrics
}

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	Offsets              []int
	Retry                workflow.RetryPolicy
	StaleAfter           time.Duration
	ReconcileBatchSize   int
	ReconcileConcurrency int
}

const (
	defaultReconcileBatch       = 100
	defaultReconcileConcurrency = 8
)

// Service exposes trigger, resume and reconcile over the reminder workflow.
type Service struct {
	engine      *workflow.Engine
	subs        SubscriptionStore
	dispatcher  Dispatcher
	clock       types.Clock
	logger      *slog.Logger
	offsets     []int
	batchSize   int
	concurrency int
}

// NewService wires the reminder workflow into a durable engine.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Subscriptions == nil || deps.Runs == nil || deps.Sender == nil || deps.Dispatcher == nil {
		return nil, errors.New("reminder: subscriptions, runs, sender and dispatcher are required")
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if len(opts.Offsets) == 0 {
		opts.Offsets = DefaultOffsets
	}
	offsets, err := NormalizeOffsets(opts.Offsets)
	if err != nil {
		return nil, err
	}
	if opts.ReconcileBatchSize <= 0 {
		opts.ReconcileBatchSize = defaultReconcileBatch
	}
	if opts.ReconcileConcurrency <= 0 {
		opts.ReconcileConcurrency = defaultReconcileConcurrency
	}

	wf := NewWorkflow(deps.Subscriptions, deps.Sender, offsets, deps.Logger)
	engine, err := workflow.NewEngine(workflow.Config{
		Name:       WorkflowName,
		Store:      deps.Runs,
		Clock:      deps.Clock,
		Retry:      opts.Retry,
		StaleAfter: opts.StaleAfter,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	}, wf.Run)
	if err != nil {
		return nil, err
	}

	return &Service{
		engine:      engine,
		subs:        deps.Subscriptions,
		dispatcher:  deps.Dispatcher,
		clock:       deps.Clock,
		logger:      deps.Logger,
		offsets:     offsets,
		batchSize:   opts.ReconcileBatchSize,
		concurrency: opts.ReconcileConcurrency,
	}, nil
}

// StaleAfter is the running-lease timeout used by the engine.
func (s *Service) StaleAfter() time.Duration {
	return s.engine.StaleAfter()
}

// Trigger starts a run for the subscription and enqueues its first
// execution. An existing active run is reported as already running, not as
// an error. A failed enqueue leaves the run pending for the sweep.
func (s *Service) Trigger(ctx context.Context, subscriptionID string) (*types.TriggerResult, error) {
	sub, err := s.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	run, err := s.engine.Start(ctx, subscriptionID, workflow.WithScope(PeriodKey(sub.RenewalDate)))
	if types.HasCode(err, types.ErrCodeConflictRunActive) {
		res := &types.TriggerResult{SubscriptionID: subscriptionID, Status: types.TriggerAlreadyRunning}
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			res.RunID, _ = appErr.Details["run_id"].(string)
		}
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	msg := types.WakeMessage{
		SubscriptionID: subscriptionID,
		RunID:          run.ID,
		Reason:         types.WakeReasonTrigger,
		EnqueuedAt:     s.clock.Now(),
		TraceID:        types.GetRequestID(ctx),
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "enqueue failed, run left pending for sweep",
			slog.String("run_id", run.ID),
			slog.String("subscription_id", subscriptionID),
			slog.String("error", err.Error()),
		)
	}

	return &types.TriggerResult{
		SubscriptionID: subscriptionID,
		RunID:          run.ID,
		Status:         types.TriggerStarted,
	}, nil
}

// Resume executes the subscription's active run if it is due. Duplicate
// wake-ups return the run unchanged.
func (s *Service) Resume(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	return s.engine.Resume(ctx, subscriptionID)
}

// LatestRun returns the most recent run for the subscription.
func (s *Service) LatestRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	return s.engine.LatestRun(ctx, subscriptionID)
}

type reconcileOutcome int

const (
	reconcileStarted reconcileOutcome = iota
	reconcileAlreadyRunning
	reconcileAlreadyDone
	reconcileFailed
)

// Reconcile starts runs for active subscriptions renewing within the reminder
// window that have no active run and no finished run for their current
// renewal date. Running it again without changes starts nothing.
func (s *Service) Reconcile(ctx context.Context, now time.Time) (*types.ReconcileResult, error) {
	from, to := now, now.Add(Window(s.offsets))
	result := &types.ReconcileResult{Started: []string{}}
	var mu sync.Mutex

	afterID := ""
	for {
		batch, err := s.subs.ListRenewingBetween(ctx, from, to, afterID, s.batchSize)
		if err != nil {
			return result, fmt.Errorf("list renewing subscriptions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for _, sub := range batch {
			g.Go(func() error {
				outcome := s.reconcileOne(ctx, sub)
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case reconcileStarted:
					result.Started = append(result.Started, sub.ID)
				case reconcileAlreadyRunning:
					result.AlreadyRunning++
				case reconcileAlreadyDone:
					result.AlreadyDone++
				default:
					result.Failed++
				}
				return nil
			})
		}
		_ = g.Wait()

		result.Scanned += len(batch)
		afterID = batch[len(batch)-1].ID
		if len(batch) < s.batchSize {
			break
		}
	}

	sort.Strings(result.Started)
	s.logger.InfoContext(ctx, "reconcile complete",
		slog.Int("scanned", result.Scanned),
		slog.Int("started", len(result.Started)),
		slog.Int("already_running", result.AlreadyRunning),
		slog.Int("already_done", result.AlreadyDone),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Service) reconcileOne(ctx context.Context, sub *types.Subscription) reconcileOutcome {
	latest, err := s.engine.LatestRun(ctx, sub.ID)
	switch {
	case err == nil && latest.State.IsActive():
		return reconcileAlreadyRunning
	case err == nil && latest.State.IsTerminal() && latest.ScopeKey == PeriodKey(sub.RenewalDate):
		return reconcileAlreadyDone
	case err != nil && !types.HasCode(err, types.ErrCodeNotFoundWorkflowRun):
		s.logger.ErrorContext(ctx, "reconcile lookup failed",
			slog.String("subscription_id", sub.ID),
			slog.String("error", err.Error()),
		)
		return reconcileFailed
	}

	res, err := s.Trigger(ctx, sub.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "reconcile trigger failed",
			slog.String("subscription_id", sub.ID),
			slog.String("error", err.Error()),
		)
		return reconcileFailed
	}
	if res.Status == types.TriggerAlreadyRunning {
		return reconcileAlreadyRunning
	}
	return reconcileStarted
}
