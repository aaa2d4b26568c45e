package leach

import "time"

// Clock abstracts wall-clock access so tests can inject a fake "now"
// without waiting on real timers anywhere the agent reads the current
// time outside of its own Run loop's timer channels (e.g. stamping
// DeferredQueue entries, computing slot windows).
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the shared default Clock instance.
var SystemClock Clock = systemClock{}
