package types

import (
	"time"
)

// Clock abstracts the wall clock so date math and the engine can be tested
// with an injected "now".
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time in UTC.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
