// Package testutil provides in-memory fakes of the hosted-backend
// collaborators for tests that wire a whole application.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/notifications"
)

// MockNotificationStore is an in-memory notifications.Store.
type MockNotificationStore struct {
	mu   sync.RWMutex
	rows []notifications.Notification
	err  error
}

// NewMockNotificationStore creates a store seeded with rows, newest first.
func NewMockNotificationStore(rows ...notifications.Notification) *MockNotificationStore {
	return &MockNotificationStore{rows: append([]notifications.Notification(nil), rows...)}
}

// FailWith makes every call return err until cleared with nil.
func (m *MockNotificationStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Rows returns a copy of every stored row.
func (m *MockNotificationStore) Rows() []notifications.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]notifications.Notification(nil), m.rows...)
}

// List returns the rows owned by userID.
func (m *MockNotificationStore) List(_ context.Context, userID string) ([]notifications.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []notifications.Notification
	for _, n := range m.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

// Create validates and prepends a new row.
func (m *MockNotificationStore) Create(_ context.Context, n notifications.NewNotification) (*notifications.Notification, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	row := notifications.Notification{
		ID:        GenerateID(),
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		IsRead:    n.IsRead,
		RelatedID: n.RelatedID,
		CreatedAt: Now(),
	}
	m.rows = append([]notifications.Notification{row}, m.rows...)
	return &row, nil
}

// MarkRead flags one row as read.
func (m *MockNotificationStore) MarkRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].UserID == userID {
			m.rows[i].IsRead = true
			return nil
		}
	}
	return apperrors.NotFound("notification not found")
}

// MarkAllRead flags every row of userID as read.
func (m *MockNotificationStore) MarkAllRead(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i := range m.rows {
		if m.rows[i].UserID == userID {
			m.rows[i].IsRead = true
		}
	}
	return nil
}

// Delete removes one row.
func (m *MockNotificationStore) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound("notification not found")
}

// MockSubscriber hands out subscriptions whose events are pushed by the
// test through Push.
type MockSubscriber struct {
	mu   sync.Mutex
	subs map[string]*MockSubscription
}

// NewMockSubscriber creates an empty subscriber.
func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{subs: make(map[string]*MockSubscription)}
}

// Subscribe implements notifications.Subscriber.
func (m *MockSubscriber) Subscribe(_ context.Context, userID string) (notifications.Subscription, error) {
	sub := &MockSubscription{events: make(chan notifications.Event, 16)}
	m.mu.Lock()
	m.subs[userID] = sub
	m.mu.Unlock()
	return sub, nil
}

// Push delivers ev to the current subscription of userID. It reports
// false when the user has none.
func (m *MockSubscriber) Push(userID string, ev notifications.Event) bool {
	m.mu.Lock()
	sub := m.subs[userID]
	m.mu.Unlock()
	if sub == nil {
		return false
	}
	return sub.push(ev)
}

// MockSubscription is the notifications.Subscription returned by MockSubscriber.
type MockSubscription struct {
	mu     sync.Mutex
	closed bool
	events chan notifications.Event
}

func (s *MockSubscription) push(ev notifications.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// Events implements notifications.Subscription.
func (s *MockSubscription) Events() <-chan notifications.Event { return s.events }

// Unsubscribe closes the event channel.
func (s *MockSubscription) Unsubscribe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// GenerateID generates a new UUID string.
func GenerateID() string {
	return uuid.NewString()
}

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}
