package session

import (
	"context"
	"sync"
	"time"

	"github.com/Centace/centace/pkg/logger"
)

const (
	DefaultTimeout      = 10 * time.Minute
	DefaultWarningLead  = 2 * time.Minute
	defaultTickInterval = time.Second
	logoutTimeout       = 15 * time.Second
)

// Config configures a Timer.
type Config struct {
	Timeout     time.Duration
	WarningLead time.Duration
	// TickInterval is the countdown resolution while the warning is shown.
	TickInterval time.Duration

	// OnLogout is required. Errors are logged and never retried.
	OnLogout  func(ctx context.Context) error
	OnWarning func(remaining time.Duration)
	OnTick    func(Snapshot)

	Clock Clock
}

// Snapshot is the externally visible timer state.
type Snapshot struct {
	State          State         `json:"state"`
	LastActivity   time.Time     `json:"last_activity"`
	WarningVisible bool          `json:"warning_visible"`
	Remaining      time.Duration `json:"-"`
	RemainingMs    int64         `json:"remaining_ms"`
	RemainingText  string        `json:"remaining"`
	Active         bool          `json:"active"`
	Enabled        bool          `json:"enabled"`
}

// Timer arms a warning callback at (timeout - lead) and a logout callback
// at timeout, re-arming both on every activity.
type Timer struct {
	mu sync.Mutex

	machine Machine
	cfg     Config
	clock   Clock
	log     *logger.Logger

	enabled      bool
	state        State
	lastActivity time.Time
	remaining    time.Duration

	// gen invalidates callbacks armed before the latest reset.
	gen     uint64
	warnT   Stopper
	logoutT Stopper
	tickT   Stopper
}

// NewTimer creates an enabled timer and arms it.
func NewTimer(cfg Config, log *logger.Logger) (*Timer, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
		if cfg.WarningLead == 0 {
			cfg.WarningLead = DefaultWarningLead
		}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.OnLogout == nil {
		return nil, errMissingLogout
	}
	if log == nil {
		log = logger.NewDefault("session")
	}

	machine, err := NewMachine(cfg.Timeout, cfg.WarningLead)
	if err != nil {
		return nil, err
	}

	t := &Timer{
		machine: machine,
		cfg:     cfg,
		clock:   cfg.Clock,
		log:     log,
		enabled: true,
	}
	t.mu.Lock()
	t.armLocked()
	t.mu.Unlock()
	return t, nil
}

// RecordActivity resets the idle period. It returns false when the timer
// is disabled or already expired.
func (t *Timer) RecordActivity() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled || t.state == Expired {
		return false
	}
	t.armLocked()
	return true
}

// Extend hides the warning and restores the full timeout.
func (t *Timer) Extend() bool {
	return t.RecordActivity()
}

// Restart re-arms an expired or disabled timer.
func (t *Timer) Restart() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = true
	t.armLocked()
}

// SetEnabled arms or clears the timer. A disabled timer fires nothing.
func (t *Timer) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enabled == t.enabled {
		return
	}
	t.enabled = enabled
	if enabled {
		t.armLocked()
		return
	}
	t.clearLocked()
	t.gen++
}

// Stop disables the timer permanently unless Restart is called.
func (t *Timer) Stop() {
	t.SetEnabled(false)
}

// Snapshot returns the current state.
func (t *Timer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Timer) snapshotLocked() Snapshot {
	return Snapshot{
		State:          t.state,
		LastActivity:   t.lastActivity,
		WarningVisible: t.state == Warning,
		Remaining:      t.remaining,
		RemainingMs:    t.remaining.Milliseconds(),
		RemainingText:  FormatRemaining(t.remaining),
		Active:         t.state != Expired,
		Enabled:        t.enabled,
	}
}

func (t *Timer) armLocked() {
	t.clearLocked()
	t.gen++
	gen := t.gen

	t.state = Idle
	t.lastActivity = t.clock.Now()
	t.remaining = t.machine.Timeout

	if t.machine.WarningLead > 0 {
		t.warnT = t.clock.AfterFunc(t.machine.WarningAt(), func() { t.onWarning(gen) })
	}
	t.logoutT = t.clock.AfterFunc(t.machine.Timeout, func() { t.onLogout(gen) })
}

func (t *Timer) clearLocked() {
	for _, s := range []Stopper{t.warnT, t.logoutT, t.tickT} {
		if s != nil {
			s.Stop()
		}
	}
	t.warnT, t.logoutT, t.tickT = nil, nil, nil
}

func (t *Timer) current(gen uint64) bool {
	return t.enabled && gen == t.gen
}

func (t *Timer) onWarning(gen uint64) {
	t.mu.Lock()
	if !t.current(gen) || t.state != Idle {
		t.mu.Unlock()
		return
	}
	t.state = Warning
	t.remaining = t.machine.Remaining(t.clock.Now().Sub(t.lastActivity))
	t.tickT = t.clock.AfterFunc(t.cfg.TickInterval, func() { t.onTick(gen) })
	remaining := t.remaining
	cb := t.cfg.OnWarning
	t.mu.Unlock()

	t.log.WithField("remaining", remaining.String()).Debug("session warning shown")
	if cb != nil {
		cb(remaining)
	}
}

func (t *Timer) onTick(gen uint64) {
	t.mu.Lock()
	if !t.current(gen) || t.state != Warning {
		t.mu.Unlock()
		return
	}
	t.remaining = t.machine.Remaining(t.clock.Now().Sub(t.lastActivity))
	if t.remaining > 0 {
		t.tickT = t.clock.AfterFunc(t.cfg.TickInterval, func() { t.onTick(gen) })
	}
	snap := t.snapshotLocked()
	cb := t.cfg.OnTick
	t.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

func (t *Timer) onLogout(gen uint64) {
	t.mu.Lock()
	if !t.current(gen) || t.state == Expired {
		t.mu.Unlock()
		return
	}
	t.clearLocked()
	t.state = Expired
	t.remaining = 0
	cb := t.cfg.OnLogout
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := cb(ctx); err != nil {
		t.log.WithError(err).Warn("inactivity logout failed")
		return
	}
	t.log.Info("session logged out after inactivity")
}
