package notifications

import (
	"context"
	"sync"

	"github.com/Centace/centace/pkg/logger"
)

type managedSync struct {
	ready chan struct{}
	sync  *Sync
	err   error
}

// Manager owns one Sync per signed-in user.
type Manager struct {
	store      Store
	subscriber Subscriber
	opts       Options
	log        *logger.Logger

	mu    sync.Mutex
	syncs map[string]*managedSync
}

// NewManager creates a manager.
func NewManager(store Store, subscriber Subscriber, opts Options, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Manager{
		store:      store,
		subscriber: subscriber,
		opts:       opts,
		log:        log,
		syncs:      make(map[string]*managedSync),
	}
}

// Name implements system.Service.
func (m *Manager) Name() string { return "notification-manager" }

// Start implements system.Service.
func (m *Manager) Start(ctx context.Context) error { return nil }

// Stop tears down every Sync.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	users := make([]string, 0, len(m.syncs))
	for id := range m.syncs {
		users = append(users, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range users {
		if err := m.Close(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ensure returns the running Sync for userID, starting it on first use.
// Concurrent callers for the same user share one start.
func (m *Manager) Ensure(ctx context.Context, userID string) (*Sync, error) {
	m.mu.Lock()
	if ms, ok := m.syncs[userID]; ok {
		m.mu.Unlock()
		select {
		case <-ms.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if ms.err != nil {
			return nil, ms.err
		}
		return ms.sync, nil
	}

	ms := &managedSync{ready: make(chan struct{})}
	m.syncs[userID] = ms
	m.mu.Unlock()

	s := NewSync(userID, m.store, m.subscriber, m.opts, m.log)
	if err := s.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.syncs, userID)
		m.mu.Unlock()
		ms.err = err
		close(ms.ready)
		return nil, err
	}

	ms.sync = s
	close(ms.ready)
	m.opts.Metrics.SetNotificationSyncs(m.Len())
	m.log.WithField("user_id", userID).Debug("notification sync started")
	return s, nil
}

// Get returns the running Sync for userID, if any.
func (m *Manager) Get(userID string) (*Sync, bool) {
	m.mu.Lock()
	ms, ok := m.syncs[userID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-ms.ready:
		return ms.sync, ms.sync != nil
	default:
		return nil, false
	}
}

// Create inserts a notification and merges it into the owner's cache when
// a Sync is running. The realtime echo is then dropped as a duplicate.
func (m *Manager) Create(ctx context.Context, n NewNotification) (*Notification, error) {
	created, err := m.store.Create(ctx, n)
	if err != nil {
		return nil, err
	}
	if s, ok := m.Get(created.UserID); ok {
		s.Apply(Event{Type: EventInsert, Record: *created})
	}
	return created, nil
}

// Close tears down the Sync for userID, as on logout.
func (m *Manager) Close(ctx context.Context, userID string) error {
	m.mu.Lock()
	ms, ok := m.syncs[userID]
	delete(m.syncs, userID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-ms.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.opts.Metrics.SetNotificationSyncs(m.Len())
	if ms.sync == nil {
		return nil
	}
	return ms.sync.Close(ctx)
}

// Len returns the number of users with a Sync.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.syncs)
}
