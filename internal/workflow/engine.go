package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"subtrack/internal/types"
)

// Func is a workflow program. It is replayed from the beginning on every
// resume and must reach side effects only through Step.
type Func func(ctx context.Context, wc *Context) error

// DefaultStaleAfter is how long a running lease is honoured before the run
// may be claimed again.
const DefaultStaleAfter = 15 * time.Minute

// Config configures an Engine.
type Config struct {
	Name       string
	Store      Store
	Clock      types.Clock
	Retry      RetryPolicy
	StaleAfter time.Duration
	Logger     *slog.Logger
	Metrics    Metrics
}

// Engine executes one workflow function over durable runs.
type Engine struct {
	name       string
	fn         Func
	store      Store
	clock      types.Clock
	retry      RetryPolicy
	staleAfter time.Duration
	logger     *slog.Logger
	metrics    Metrics
}

// NewEngine validates cfg and returns an engine running fn.
func NewEngine(cfg Config, fn Func) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("workflow: store is required")
	}
	if fn == nil {
		return nil, errors.New("workflow: function is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("workflow: name is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Engine{
		name:       cfg.Name,
		fn:         fn,
		store:      cfg.Store,
		clock:      cfg.Clock,
		retry:      cfg.Retry,
		staleAfter: cfg.StaleAfter,
		logger:     cfg.Logger.With(slog.String("workflow", cfg.Name)),
		metrics:    cfg.Metrics,
	}, nil
}

// Name returns the workflow name.
func (e *Engine) Name() string { return e.name }

// StaleAfter returns the running-lease timeout.
func (e *Engine) StaleAfter() time.Duration { return e.staleAfter }

// StartOption customizes Start.
type StartOption func(*types.WorkflowRun)

// WithScope tags the run with a caller-defined scope key.
func WithScope(key string) StartOption {
	return func(r *types.WorkflowRun) { r.ScopeKey = key }
}

// Start creates a pending run for the subscription. It fails with an AppError
// coded ErrCodeConflictRunActive when an active run already exists.
func (e *Engine) Start(ctx context.Context, subscriptionID string, opts ...StartOption) (*types.WorkflowRun, error) {
	now := e.clock.Now()
	run := &types.WorkflowRun{
		ID:             "run_" + uuid.NewString(),
		Workflow:       e.name,
		SubscriptionID: subscriptionID,
		State:          types.RunPending,
		Steps:          []types.StepRecord{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, opt := range opts {
		opt(run)
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "run started",
		slog.String("run_id", run.ID),
		slog.String("subscription_id", subscriptionID),
	)
	return run, nil
}

// ActiveRun returns the subscription's active run.
func (e *Engine) ActiveRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	return e.store.GetActiveRun(ctx, subscriptionID)
}

// LatestRun returns the most recently created run for the subscription.
func (e *Engine) LatestRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	return e.store.GetLatestRun(ctx, subscriptionID)
}

// Resume executes the subscription's active run if it can be claimed. When
// another execution holds the run, or it is sleeping and not yet due, the
// run is returned as observed and nothing else happens.
func (e *Engine) Resume(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	run, err := e.store.GetActiveRun(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	claimed, err := e.store.ClaimRun(ctx, run.ID, now, now.Add(-e.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("claim run %s: %w", run.ID, err)
	}
	if !claimed {
		e.metrics.RecordRunOutcome(ctx, e.name, OutcomeConflict)
		e.logger.DebugContext(ctx, "run not claimable, discarding wake-up",
			slog.String("run_id", run.ID),
			slog.String("state", string(run.State)),
		)
		return run, nil
	}

	run, err = e.store.GetRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, run)
}

func (e *Engine) execute(ctx context.Context, run *types.WorkflowRun) (*types.WorkflowRun, error) {
	wc := &Context{engine: e, run: run}
	runErr := e.invoke(ctx, wc)

	// Bookkeeping must land even when the caller's context is gone; a lost
	// write here leaves the run running until its lease goes stale.
	bctx := context.WithoutCancel(ctx)
	now := e.clock.Now()
	log := e.logger.With(
		slog.String("run_id", run.ID),
		slog.String("subscription_id", run.SubscriptionID),
	)

	var err error
	switch skip, isSkip := AsSkip(runErr); {
	case runErr == nil:
		outcome := wc.outcome
		if outcome == "" {
			outcome = OutcomeCompleted
		}
		err = e.store.CompleteRun(bctx, run.ID, outcome, now)
		e.metrics.RecordRunOutcome(bctx, e.name, OutcomeCompleted)
		log.InfoContext(ctx, "run completed", slog.String("outcome", outcome))

	case errors.Is(runErr, ErrSuspended):
		e.metrics.RecordRunOutcome(bctx, e.name, OutcomeSuspended)

	case isSkip:
		err = e.store.CompleteRun(bctx, run.ID, "skipped:"+skip.Reason, now)
		e.metrics.RecordRunOutcome(bctx, e.name, OutcomeSkipped)
		log.InfoContext(ctx, "run skipped", slog.String("reason", skip.Reason))

	case IsTerminal(runErr):
		err = e.fail(bctx, log, run, runErr, now)

	default:
		attempts := run.Attempts + 1
		if e.retry.Exhausted(attempts) {
			err = e.fail(bctx, log, run, fmt.Errorf("gave up after %d attempts: %w", attempts, runErr), now)
			break
		}
		wake := now.Add(e.retry.Backoff(attempts))
		err = e.store.Suspend(bctx, run.ID, wake, attempts, runErr.Error())
		e.metrics.RecordRunOutcome(bctx, e.name, OutcomeRetry)
		log.WarnContext(ctx, "run failed, retry scheduled",
			slog.Int("attempt", attempts),
			slog.Time("wake_at", wake),
			slog.String("error", runErr.Error()),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("record result of run %s: %w", run.ID, err)
	}

	return e.store.GetRun(bctx, run.ID)
}

func (e *Engine) fail(ctx context.Context, log *slog.Logger, run *types.WorkflowRun, cause error, now time.Time) error {
	e.metrics.RecordRunOutcome(ctx, e.name, OutcomeFailed)
	log.ErrorContext(ctx, "run failed", slog.String("error", cause.Error()))
	return e.store.FailRun(ctx, run.ID, cause.Error(), now)
}

func (e *Engine) invoke(ctx context.Context, wc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = Terminal(&PanicError{Value: r, Stack: string(buf[:n])})
		}
	}()
	return e.fn(ctx, wc)
}
