// Package workflow is a small durable workflow engine.
//
// A workflow is a Go function that is re-executed from the top every time its
// run is resumed. Steps are memoized in the run's persisted step log, so a
// replay returns stored results instead of repeating side effects. Sleeps
// persist a wake time and suspend the run; nothing holds a goroutine while a
// run sleeps. A host (sweeper, queue consumer or HTTP callback) calls Resume
// once the wake time has passed.
//
// Only one execution of a run can be in flight: Resume claims the run with a
// compare-and-swap on its state and a losing caller returns without doing
// anything.
package workflow
