package workflow

import (
	"errors"
	"fmt"
)

// ErrSuspended is returned from Step and Sleep when the run has been parked
// until a later wake time. Workflow functions must return it unchanged.
var ErrSuspended = errors.New("workflow: run suspended")

// TerminalError marks a failure that must not be retried. The run moves to
// failed.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal: %v", e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps err so the engine fails the run instead of retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err carries a TerminalError.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}

// SkipError ends a run as completed without doing further work, for example
// when its subject no longer exists.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip returns a SkipError with the given reason.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// AsSkip extracts a SkipError from err.
func AsSkip(err error) (*SkipError, bool) {
	var s *SkipError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// PanicError wraps a panic raised by a workflow function.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workflow panicked: %v", e.Value)
}
