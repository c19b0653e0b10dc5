package notifications

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/metrics"
	"github.com/Centace/centace/internal/query"
	"github.com/Centace/centace/pkg/logger"
)

// Options configures a Sync.
type Options struct {
	Query        query.Options
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Toaster  Toaster
	Reporter *apperrors.Reporter
	Metrics  *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = time.Second
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
	return o
}

// Sync is the read-through cache of one user's notifications.
type Sync struct {
	userID     string
	store      Store
	subscriber Subscriber
	opts       Options
	log        *logger.Logger

	mu    sync.RWMutex
	items []Notification // newest first

	subMu sync.Mutex
	sub   Subscription

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSync creates a stopped Sync for userID.
func NewSync(userID string, store Store, subscriber Subscriber, opts Options, log *logger.Logger) *Sync {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Sync{
		userID:     userID,
		store:      store,
		subscriber: subscriber,
		opts:       opts.withDefaults(),
		log:        log,
	}
}

// Start loads the list and opens the push subscription. The subscription
// runs until Close, restarting with backoff whenever it ends.
func (s *Sync) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

// Close unsubscribes and waits for the subscription loop to exit.
func (s *Sync) Close(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	s.subMu.Lock()
	sub := s.sub
	s.sub = nil
	s.subMu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe(ctx)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Sync) run(ctx context.Context) {
	defer close(s.done)

	backoff := s.opts.ReconnectMin
	first := true
	for {
		sub, err := s.subscriber.Subscribe(ctx, s.userID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).WithField("user_id", s.userID).WithField("retry_in", backoff.String()).
				Warn("notification subscription failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > s.opts.ReconnectMax {
				backoff = s.opts.ReconnectMax
			}
			continue
		}
		backoff = s.opts.ReconnectMin

		s.subMu.Lock()
		if ctx.Err() != nil {
			s.subMu.Unlock()
			_ = sub.Unsubscribe(context.Background())
			for range sub.Events() {
			}
			return
		}
		s.sub = sub
		s.subMu.Unlock()

		if !first {
			s.opts.Metrics.NotificationEvent("resubscribe")
			// Inserts may have been missed while disconnected.
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("notification refresh after reconnect failed")
			}
		}
		first = false

		for ev := range sub.Events() {
			s.Apply(ev)
		}

		s.subMu.Lock()
		if s.sub == sub {
			s.sub = nil
		}
		s.subMu.Unlock()

		if ctx.Err() != nil {
			return
		}
		s.log.WithField("user_id", s.userID).Info("notification subscription closed, resubscribing")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Apply merges a pushed event into the cache. Only INSERTs for this user
// are applied; duplicates by id are ignored.
func (s *Sync) Apply(ev Event) bool {
	if ev.Type != EventInsert || ev.Record.UserID != s.userID || ev.Record.ID == "" {
		return false
	}

	s.mu.Lock()
	for _, n := range s.items {
		if n.ID == ev.Record.ID {
			s.mu.Unlock()
			s.opts.Metrics.NotificationEvent("duplicate")
			return false
		}
	}
	rec := ev.Record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.items = append([]Notification{rec}, s.items...)
	s.mu.Unlock()

	s.opts.Metrics.NotificationEvent("insert")
	if s.opts.Toaster != nil {
		s.opts.Toaster.Toast(s.userID, Toast{
			Kind:    "notification",
			Title:   ev.Record.Title,
			Message: ev.Record.Message,
			Type:    ev.Record.Type,
			ID:      ev.Record.ID,
		})
	}
	return true
}

// Notifications returns a copy of the cache, newest first.
func (s *Sync) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount is derived from the cache so it can never disagree with it.
func (s *Sync) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unread(s.items)
}

// State returns the cache and its unread count from one read.
func (s *Sync) State() ([]Notification, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out, unread(s.items)
}

func unread(items []Notification) int {
	n := 0
	for _, item := range items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// Refresh reloads the list from the store, retrying transient failures.
func (s *Sync) Refresh(ctx context.Context) error {
	started := time.Now()
	items, err := query.Do(ctx, s.opts.Query, func(ctx context.Context) ([]Notification, error) {
		return s.store.List(ctx, s.userID)
	})
	if err != nil {
		return s.fail(ctx, "refresh", err)
	}

	s.mu.Lock()
	s.items = mergeFetched(s.items, items, started)
	s.mu.Unlock()
	s.opts.Metrics.NotificationEvent("refresh")
	return nil
}

// mergeFetched replaces current with fetched but keeps rows that arrived
// while the fetch was in flight: unknown ids newer than every fetched row,
// or newer than the fetch start when nothing came back.
func mergeFetched(current, fetched []Notification, started time.Time) []Notification {
	cutoff := started
	seen := make(map[string]struct{}, len(fetched))
	for i, n := range fetched {
		seen[n.ID] = struct{}{}
		if i == 0 || n.CreatedAt.After(cutoff) {
			cutoff = n.CreatedAt
		}
	}

	var fresh []Notification
	for _, n := range current {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		if n.CreatedAt.After(cutoff) {
			fresh = append(fresh, n)
		}
	}
	if len(fresh) == 0 {
		return fetched
	}
	return append(fresh, fetched...)
}

// MarkAsRead marks one notification read remotely, then locally.
func (s *Sync) MarkAsRead(ctx context.Context, id string) error {
	if err := s.store.MarkRead(ctx, s.userID, id); err != nil {
		return s.fail(ctx, "mark_read", err)
	}

	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].IsRead = true
			break
		}
	}
	s.mu.Unlock()
	s.opts.Metrics.NotificationEvent("read")
	return nil
}

// MarkAllAsRead marks every notification read remotely, then locally.
func (s *Sync) MarkAllAsRead(ctx context.Context) error {
	if err := s.store.MarkAllRead(ctx, s.userID); err != nil {
		return s.fail(ctx, "mark_all_read", err)
	}

	s.mu.Lock()
	for i := range s.items {
		s.items[i].IsRead = true
	}
	s.mu.Unlock()
	s.opts.Metrics.NotificationEvent("read_all")
	return nil
}

// Delete removes one notification remotely, then locally.
func (s *Sync) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, s.userID, id); err != nil {
		return s.fail(ctx, "delete", err)
	}

	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.opts.Metrics.NotificationEvent("delete")
	return nil
}

func (s *Sync) fail(ctx context.Context, op string, err error) error {
	if appErr, ok := apperrors.As(err); ok {
		appErr.WithContext("operation", op).WithContext("user_id", s.userID)
		if appErr.Kind == apperrors.KindNotFound || appErr.Kind == apperrors.KindValidation {
			return err
		}
	} else {
		err = apperrors.DataFetch("notifications "+op, err).WithContext("user_id", s.userID)
	}

	s.log.WithContext(ctx).WithError(err).WithField("operation", op).Warn("notification operation failed")
	s.opts.Reporter.Report(ctx, err)
	return err
}
