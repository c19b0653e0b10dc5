package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Centace/centace/pkg/logger"
)

// ErrSessionExpired is returned for activity on a session that was already
// logged out, until the user presents a new access token.
var ErrSessionExpired = errors.New("session: expired")

// Hooks connect the registry to the rest of the service.
type Hooks struct {
	// SignOut revokes the user's hosted-backend session.
	SignOut func(ctx context.Context, userID, accessToken string) error
	// Expired runs after SignOut, whether or not it succeeded.
	Expired func(ctx context.Context, userID string)
	Warning func(userID string, remaining time.Duration)
}

// DefaultExpiredRetention is how long an expired session is remembered so
// its old token keeps being rejected.
const DefaultExpiredRetention = time.Hour

// RegistryConfig configures every Timer created by a Registry.
type RegistryConfig struct {
	Timeout     time.Duration
	WarningLead time.Duration
	Clock       Clock
	Hooks       Hooks
	// ExpiredRetention bounds how long expired entries are kept.
	ExpiredRetention time.Duration
}

type entry struct {
	timer   *Timer
	tracker *Tracker

	mu    sync.Mutex
	token string
	purge Stopper
}

func (e *entry) setPurge(s Stopper) {
	e.mu.Lock()
	prev := e.purge
	e.purge = s
	e.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

func (e *entry) accessToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

func (e *entry) setToken(token string) {
	if token == "" {
		return
	}
	e.mu.Lock()
	e.token = token
	e.mu.Unlock()
}

// Registry keeps one inactivity timer per signed-in user.
type Registry struct {
	mu      sync.Mutex
	cfg     RegistryConfig
	log     *logger.Logger
	entries map[string]*entry
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("session")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.ExpiredRetention <= 0 {
		cfg.ExpiredRetention = DefaultExpiredRetention
	}
	return &Registry{
		cfg:     cfg,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Name implements system.Service.
func (r *Registry) Name() string { return "session-registry" }

// Start implements system.Service.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()
	return nil
}

// Stop disarms every timer without logging anyone out.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.closed = true
	r.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.setPurge(nil)
	}
	return nil
}

// Activity records a browser event for userID, creating the session on
// first contact. accepted is false for events that do not reset the timer.
func (r *Registry) Activity(userID, accessToken, event string) (snap Snapshot, accepted bool, err error) {
	e, err := r.ensure(userID, accessToken)
	if err != nil {
		return Snapshot{}, false, err
	}
	e.setToken(accessToken)
	accepted = e.tracker.Observe(event)
	return e.timer.Snapshot(), accepted, nil
}

// Extend restores the full timeout for an existing session.
func (r *Registry) Extend(userID, accessToken string) (Snapshot, error) {
	e, err := r.lookup(userID)
	if err != nil {
		return Snapshot{}, err
	}
	if !e.timer.Extend() {
		return e.timer.Snapshot(), ErrSessionExpired
	}
	e.setToken(accessToken)
	return e.timer.Snapshot(), nil
}

// Snapshot returns the session state for userID.
func (r *Registry) Snapshot(userID string) (Snapshot, error) {
	e, err := r.lookup(userID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.timer.Snapshot(), nil
}

// End discards the session for userID, as on an explicit logout.
func (r *Registry) End(userID string) bool {
	r.mu.Lock()
	e, ok := r.entries[userID]
	delete(r.entries, userID)
	r.mu.Unlock()

	if ok {
		e.timer.Stop()
		e.setPurge(nil)
	}
	return ok
}

// Check reports ErrSessionExpired when userID's session has expired and
// accessToken is not a newer one. Unknown users pass.
func (r *Registry) Check(userID, accessToken string) error {
	e, err := r.lookup(userID)
	if err != nil {
		return nil
	}
	if e.timer.Snapshot().State != Expired {
		return nil
	}
	if accessToken == "" || accessToken == e.accessToken() {
		return ErrSessionExpired
	}
	return nil
}

// Len returns the number of tracked sessions. Expired sessions count until
// their retention period ends.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) lookup(userID string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, ErrNoSession
	}
	return e, nil
}

func (r *Registry) ensure(userID, accessToken string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrNoSession
	}

	if e, ok := r.entries[userID]; ok {
		if e.timer.Snapshot().State != Expired {
			return e, nil
		}
		// A fresh token after expiry means the user signed in again.
		if accessToken == "" || accessToken == e.accessToken() {
			return nil, ErrSessionExpired
		}
		e.setPurge(nil)
		e.setToken(accessToken)
		e.timer.Restart()
		return e, nil
	}

	e := &entry{token: accessToken}
	timer, err := NewTimer(Config{
		Timeout:     r.cfg.Timeout,
		WarningLead: r.cfg.WarningLead,
		Clock:       r.cfg.Clock,
		OnLogout:    func(ctx context.Context) error { return r.expire(ctx, userID, e) },
		OnWarning: func(remaining time.Duration) {
			if r.cfg.Hooks.Warning != nil {
				r.cfg.Hooks.Warning(userID, remaining)
			}
		},
	}, r.log.Named("session-timer"))
	if err != nil {
		return nil, err
	}
	e.timer = timer
	e.tracker = NewTracker(timer)
	r.entries[userID] = e

	r.log.WithField("user_id", userID).Debug("session tracking started")
	return e, nil
}

func (r *Registry) expire(ctx context.Context, userID string, e *entry) error {
	var err error
	if r.cfg.Hooks.SignOut != nil {
		err = r.cfg.Hooks.SignOut(ctx, userID, e.accessToken())
	}
	if r.cfg.Hooks.Expired != nil {
		r.cfg.Hooks.Expired(ctx, userID)
	}
	e.setPurge(r.cfg.Clock.AfterFunc(r.cfg.ExpiredRetention, func() { r.forget(userID, e) }))
	return err
}

// forget drops an expired entry once its retention has passed.
func (r *Registry) forget(userID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[userID] != e || e.timer.Snapshot().State != Expired {
		return
	}
	delete(r.entries, userID)
	r.log.WithField("user_id", userID).Debug("expired session forgotten")
}
