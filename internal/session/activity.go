package session

import "strings"

// Activity events that count as user interaction.
var qualifyingEvents = map[string]struct{}{
	"pointerdown": {},
	"pointermove": {},
	"mousedown":   {},
	"mousemove":   {},
	"keydown":     {},
	"keypress":    {},
	"scroll":      {},
	"touchstart":  {},
	"click":       {},
}

// Qualifies reports whether a browser event name resets the idle timer.
func Qualifies(event string) bool {
	_, ok := qualifyingEvents[strings.ToLower(strings.TrimSpace(event))]
	return ok
}

// Tracker forwards qualifying activity to a Timer.
type Tracker struct {
	timer *Timer
}

// NewTracker binds a tracker to timer.
func NewTracker(timer *Timer) *Tracker {
	return &Tracker{timer: timer}
}

// Observe resets the timer when event qualifies. It reports whether the
// event was accepted.
func (t *Tracker) Observe(event string) bool {
	if !Qualifies(event) {
		return false
	}
	return t.timer.RecordActivity()
}
