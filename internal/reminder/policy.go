package reminder

import (
	"fmt"
	"slices"
	"time"
)

// DefaultOffsets are the reminder checkpoints in days before renewal.
var DefaultOffsets = []int{7, 3, 1}

// Checkpoint is a reminder that is due, preceded by a sleep of Wait.
type Checkpoint struct {
	Offset int
	Wait   time.Duration
}

// Plan is the outcome of evaluating the schedule at a point in time.
//
// Exactly one of the following holds:
//   - Passed: renewal is today or earlier, nothing fires.
//   - SleepFor > 0: no checkpoint is due yet; re-evaluate after SleepFor.
//   - Due is non-empty: Due[0] fires now, the rest follow after their Wait.
type Plan struct {
	Due      []Checkpoint
	SleepFor time.Duration
	Passed   bool
}

// NormalizeOffsets returns the offsets sorted largest first with duplicates
// removed. Any non-positive offset is an error.
func NormalizeOffsets(offsets []int) ([]int, error) {
	out := make([]int, 0, len(offsets))
	for _, o := range offsets {
		if o <= 0 {
			return nil, fmt.Errorf("reminder offset must be positive, got %d", o)
		}
		out = append(out, o)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one reminder offset is required")
	}
	slices.Sort(out)
	slices.Reverse(out)
	return slices.Compact(out), nil
}

// NextCheckpoints decides what the reminder workflow does given the days left
// until renewal. offsets must be sorted largest first.
func NextCheckpoints(daysUntil int, offsets []int) Plan {
	if daysUntil <= 0 || len(offsets) == 0 {
		return Plan{Passed: true}
	}
	if daysUntil > offsets[0] {
		return Plan{SleepFor: Days(daysUntil - offsets[0])}
	}

	var due []Checkpoint
	prev := 0
	for _, o := range offsets {
		if o > daysUntil {
			continue
		}
		cp := Checkpoint{Offset: o}
		if len(due) > 0 {
			cp.Wait = Days(prev - o)
		}
		due = append(due, cp)
		prev = o
	}
	return Plan{Due: due}
}

// Window is how far ahead of renewal the first reminder goes out.
func Window(offsets []int) time.Duration {
	if len(offsets) == 0 {
		return 0
	}
	return Days(offsets[0])
}
