package queue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"subtrack/internal/types"
)

const defaultLocalBuffer = 256

// LocalDispatcher runs wake messages in-process. It is used by the API
// binary when no queue URL is configured. Messages still buffered at
// shutdown are lost; the sweep picks their runs up on the next start.
type LocalDispatcher struct {
	ch     chan types.WakeMessage
	logger *slog.Logger
}

// NewLocalDispatcher creates a LocalDispatcher with the given buffer size.
func NewLocalDispatcher(buffer int, logger *slog.Logger) *LocalDispatcher {
	if buffer <= 0 {
		buffer = defaultLocalBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalDispatcher{ch: make(chan types.WakeMessage, buffer), logger: logger}
}

// Dispatch never blocks. A full buffer is reported as a queue error and the
// run stays due for the sweep.
func (d *LocalDispatcher) Dispatch(ctx context.Context, msg types.WakeMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	select {
	case d.ch <- msg:
		return nil
	default:
		return types.NewAppError(types.ErrCodeInternalQueue, "local wake queue is full", nil)
	}
}

// Pending reports the number of buffered messages.
func (d *LocalDispatcher) Pending() int {
	return len(d.ch)
}

// Drain executes the buffered messages one at a time until the buffer is
// empty, including messages dispatched while draining. It returns the
// number executed and the first execution error.
func (d *LocalDispatcher) Drain(ctx context.Context, exec Executor) (int, error) {
	var (
		n        int
		firstErr error
	)
	for {
		select {
		case msg := <-d.ch:
			n++
			if err := execute(ctx, exec, msg, d.logger); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return n, firstErr
		}
	}
}

// Run drains the buffer with up to concurrency workers until ctx is
// cancelled. In-flight executions finish before Run returns.
func (d *LocalDispatcher) Run(ctx context.Context, exec Executor, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case msg := <-d.ch:
			g.Go(func() error {
				// Executions outlive shutdown so a claimed run is not
				// abandoned mid-step.
				_ = execute(context.WithoutCancel(ctx), exec, msg, d.logger)
				return nil
			})
		}
	}
}
