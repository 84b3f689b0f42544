package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"subtrack/internal/types"
)

const sleepPrefix = "sleep:"

// Context is handed to a workflow function for one execution of a run. It
// holds the step log loaded when the run was claimed.
type Context struct {
	engine  *Engine
	run     *types.WorkflowRun
	outcome string
}

// RunID returns the id of the run being executed.
func (c *Context) RunID() string { return c.run.ID }

// SubscriptionID returns the subscription the run belongs to.
func (c *Context) SubscriptionID() string { return c.run.SubscriptionID }

// Now returns the engine clock's current time.
func (c *Context) Now() time.Time { return c.engine.clock.Now() }

// SetOutcome records the label stored on the run when it completes.
func (c *Context) SetOutcome(outcome string) { c.outcome = outcome }

// Step runs fn once per run under name. When the step log already holds a
// completed record for name, the stored result is decoded and returned
// without calling fn.
//
// A failing fn leaves the step incomplete. Retryable failures park the run
// with backoff and return ErrSuspended; terminal failures, or a retryable
// one that exhausted the policy, are returned as TerminalError.
func Step[T any](ctx context.Context, wc *Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	e := wc.engine

	memo, done, err := Lookup[T](wc, name)
	if err != nil {
		return zero, err
	}
	if done {
		e.logger.DebugContext(ctx, "replaying completed step",
			slog.String("run_id", wc.run.ID),
			slog.String("step", name),
		)
		return memo.Value, nil
	}

	prev, seen := wc.run.Step(name)

	attempts := 1
	created := e.clock.Now()
	if seen {
		attempts = prev.Attempts + 1
		created = prev.CreatedAt
	}

	result, stepErr := fn(ctx)
	now := e.clock.Now()

	if stepErr != nil {
		rec := types.StepRecord{
			Name:      name,
			Attempts:  attempts,
			LastError: stepErr.Error(),
			CreatedAt: created,
			UpdatedAt: now,
		}
		if err := e.store.SaveStep(ctx, wc.run.ID, rec); err != nil {
			return zero, fmt.Errorf("record failure of step %q: %w", name, err)
		}
		wc.run.PutStep(rec)

		if IsTerminal(stepErr) {
			return zero, stepErr
		}
		if _, ok := AsSkip(stepErr); ok {
			return zero, stepErr
		}
		if e.retry.Exhausted(attempts) {
			return zero, Terminal(fmt.Errorf("step %q gave up after %d attempts: %w", name, attempts, stepErr))
		}

		wake := now.Add(e.retry.Backoff(attempts))
		if err := e.store.Suspend(ctx, wc.run.ID, wake, attempts, stepErr.Error()); err != nil {
			return zero, fmt.Errorf("schedule retry of step %q: %w", name, err)
		}
		e.metrics.RecordStepRetry(ctx, e.name, name)
		e.logger.WarnContext(ctx, "step failed, retry scheduled",
			slog.String("run_id", wc.run.ID),
			slog.String("step", name),
			slog.Int("attempt", attempts),
			slog.Time("wake_at", wake),
			slog.String("error", stepErr.Error()),
		)
		return zero, ErrSuspended
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, Terminal(fmt.Errorf("encode result of step %q: %w", name, err))
	}
	rec := types.StepRecord{
		Name:      name,
		Completed: true,
		Result:    data,
		Attempts:  attempts,
		CreatedAt: created,
		UpdatedAt: now,
	}
	if err := e.store.SaveStep(ctx, wc.run.ID, rec); err != nil {
		return zero, fmt.Errorf("persist step %q: %w", name, err)
	}
	wc.run.PutStep(rec)

	e.logger.InfoContext(ctx, "step completed",
		slog.String("run_id", wc.run.ID),
		slog.String("step", name),
		slog.Int("attempts", attempts),
	)
	return result, nil
}

// Recorded is the stored result of a completed step.
type Recorded[T any] struct {
	Value       T
	CompletedAt time.Time
}

// Lookup reads the result of name from the step log without running
// anything. ok is false while the step has not completed.
func Lookup[T any](wc *Context, name string) (rec Recorded[T], ok bool, err error) {
	prev, seen := wc.run.Step(name)
	if !seen || !prev.Completed {
		return rec, false, nil
	}
	if len(prev.Result) > 0 {
		if err := json.Unmarshal(prev.Result, &rec.Value); err != nil {
			return Recorded[T]{}, false, Terminal(fmt.Errorf("decode memoized step %q: %w", name, err))
		}
	}
	rec.CompletedAt = prev.UpdatedAt
	return rec, true, nil
}

// Sleep parks the run for d under name. The wake time is fixed the first
// time the sleep is reached; later replays compare the clock against that
// stored time and either pass through or suspend again.
func (c *Context) Sleep(ctx context.Context, name string, d time.Duration) error {
	e := c.engine
	key := sleepPrefix + name
	now := e.clock.Now()

	if rec, ok := c.run.Step(key); ok {
		if rec.Completed {
			return nil
		}
		var wake time.Time
		if err := json.Unmarshal(rec.Result, &wake); err != nil {
			return Terminal(fmt.Errorf("decode wake time of sleep %q: %w", name, err))
		}
		if !now.Before(wake) {
			done := *rec
			done.Completed = true
			done.UpdatedAt = now
			if err := e.store.SaveStep(ctx, c.run.ID, done); err != nil {
				return fmt.Errorf("complete sleep %q: %w", name, err)
			}
			c.run.PutStep(done)
			return nil
		}
		return c.suspend(ctx, name, wake)
	}

	if d <= 0 {
		return nil
	}

	wake := now.Add(d)
	data, err := json.Marshal(wake)
	if err != nil {
		return Terminal(fmt.Errorf("encode wake time of sleep %q: %w", name, err))
	}
	rec := types.StepRecord{
		Name:      key,
		Result:    data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveStep(ctx, c.run.ID, rec); err != nil {
		return fmt.Errorf("record sleep %q: %w", name, err)
	}
	c.run.PutStep(rec)
	return c.suspend(ctx, name, wake)
}

func (c *Context) suspend(ctx context.Context, name string, wake time.Time) error {
	e := c.engine
	if err := e.store.Suspend(ctx, c.run.ID, wake, 0, ""); err != nil {
		return fmt.Errorf("suspend for sleep %q: %w", name, err)
	}
	e.logger.InfoContext(ctx, "run sleeping",
		slog.String("run_id", c.run.ID),
		slog.String("sleep", name),
		slog.Time("wake_at", wake),
	)
	return ErrSuspended
}
