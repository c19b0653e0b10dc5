package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/Centace/centace/internal/errors"
)

type memStore struct {
	mu       sync.Mutex
	rows     []Notification
	failNext int
	calls    map[string]int
}

func newMemStore(rows ...Notification) *memStore {
	return &memStore{rows: rows, calls: map[string]int{}}
}

func (s *memStore) fail(op string) error {
	s.calls[op]++
	if s.failNext > 0 {
		s.failNext--
		return apperrors.Network(op, errors.New("backend unavailable"))
	}
	return nil
}

func (s *memStore) List(ctx context.Context, userID string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("list"); err != nil {
		return nil, err
	}
	var out []Notification
	for _, n := range s.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) Create(ctx context.Context, n NewNotification) (*Notification, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("create"); err != nil {
		return nil, err
	}
	row := Notification{
		ID:        "n" + time.Now().Format("150405.000000000"),
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		RelatedID: n.RelatedID,
		CreatedAt: time.Now(),
	}
	s.rows = append([]Notification{row}, s.rows...)
	return &row, nil
}

func (s *memStore) MarkRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("mark_read"); err != nil {
		return err
	}
	for i := range s.rows {
		if s.rows[i].ID == id && s.rows[i].UserID == userID {
			s.rows[i].IsRead = true
			return nil
		}
	}
	return apperrors.NotFound("notification not found")
}

func (s *memStore) MarkAllRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("mark_all_read"); err != nil {
		return err
	}
	for i := range s.rows {
		if s.rows[i].UserID == userID {
			s.rows[i].IsRead = true
		}
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("delete"); err != nil {
		return err
	}
	for i := range s.rows {
		if s.rows[i].ID == id && s.rows[i].UserID == userID {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound("notification not found")
}

// chanSubscriber hands out subscriptions the test can drive and end.
type chanSubscriber struct {
	mu   sync.Mutex
	subs chan *chanSubscription
	err  error
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{subs: make(chan *chanSubscription, 8)}
}

func (c *chanSubscriber) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sub := &chanSubscription{events: make(chan Event, 8)}
	c.subs <- sub
	return sub, nil
}

func (c *chanSubscriber) next(timeout time.Duration) *chanSubscription {
	select {
	case sub := <-c.subs:
		return sub
	case <-time.After(timeout):
		return nil
	}
}

type chanSubscription struct {
	once         sync.Once
	events       chan Event
	unsubscribed bool
	mu           sync.Mutex
}

func (s *chanSubscription) Events() <-chan Event { return s.events }

func (s *chanSubscription) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	s.unsubscribed = true
	s.mu.Unlock()
	s.end()
	return nil
}

func (s *chanSubscription) end() {
	s.once.Do(func() { close(s.events) })
}

func (s *chanSubscription) wasUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

type toastRecorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *toastRecorder) Toast(userID string, t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *toastRecorder) all() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}
