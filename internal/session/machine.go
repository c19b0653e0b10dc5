// Package session implements the inactivity timer that signs users out of
// the Centace dashboard after a period without interaction.
//
// Machine is the pure state function of elapsed idle time. Timer drives a
// Machine from a Clock and fires the warning and logout callbacks. Registry
// holds one Timer per signed-in user.
package session

import (
	"fmt"
	"time"
)

// State is the position of a session in its idle lifecycle.
type State int

const (
	// Idle means the user is active and no warning is shown.
	Idle State = iota
	// Warning means the logout countdown is visible.
	Warning
	// Expired means the session was logged out for inactivity.
	Expired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Warning:
		return "warning"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Machine maps idle time to a State.
type Machine struct {
	Timeout     time.Duration
	WarningLead time.Duration
}

// NewMachine validates the timeout and warning lead.
func NewMachine(timeout, warningLead time.Duration) (Machine, error) {
	if timeout <= 0 {
		return Machine{}, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	if warningLead < 0 || warningLead >= timeout {
		return Machine{}, fmt.Errorf("warning lead %s must be in [0, %s)", warningLead, timeout)
	}
	return Machine{Timeout: timeout, WarningLead: warningLead}, nil
}

// WarningAt is the idle duration at which the warning appears.
func (m Machine) WarningAt() time.Duration {
	return m.Timeout - m.WarningLead
}

// Evaluate returns the state after elapsed idle time.
func (m Machine) Evaluate(elapsed time.Duration) State {
	switch {
	case elapsed >= m.Timeout:
		return Expired
	case m.WarningLead > 0 && elapsed >= m.WarningAt():
		return Warning
	default:
		return Idle
	}
}

// Remaining returns the time left before logout, never negative.
func (m Machine) Remaining(elapsed time.Duration) time.Duration {
	if elapsed < 0 {
		elapsed = 0
	}
	if r := m.Timeout - elapsed; r > 0 {
		return r
	}
	return 0
}

// FormatRemaining renders d as mm:ss, truncating partial seconds.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
