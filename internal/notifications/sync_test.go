package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/query"
	"github.com/Centace/centace/pkg/logger"
)

func testOptions(toaster Toaster) Options {
	return Options{
		Query:        query.Options{Attempts: 3, InitialBackoff: time.Millisecond},
		ReconnectMin: time.Millisecond,
		ReconnectMax: 5 * time.Millisecond,
		Toaster:      toaster,
	}
}

func seed() []Notification {
	return []Notification{
		{ID: "n2", UserID: "U1", Title: "Deposit received", Type: "payment", CreatedAt: time.Now()},
		{ID: "n1", UserID: "U1", Title: "Welcome", Type: "info", IsRead: true, CreatedAt: time.Now().Add(-time.Hour)},
		{ID: "x1", UserID: "U2", Title: "Other user"},
	}
}

func startSync(t *testing.T, store Store, sub Subscriber, toaster Toaster) *Sync {
	t.Helper()
	s := NewSync("U1", store, sub, testOptions(toaster), logger.NewNop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSyncInsertEventPrependsAndToasts(t *testing.T) {
	store := newMemStore(seed()...)
	subscriber := newChanSubscriber()
	toasts := &toastRecorder{}
	s := startSync(t, store, subscriber, toasts)

	items, unread := s.State()
	require.Len(t, items, 2)
	require.Equal(t, 1, unread)

	sub := subscriber.next(time.Second)
	require.NotNil(t, sub)

	sub.events <- Event{Type: EventInsert, Record: Notification{
		ID: "n3", UserID: "U1", Title: "Site Visit Booked", Message: "See you Friday", Type: "visit",
	}}

	waitFor(t, func() bool { return len(s.Notifications()) == 3 })
	assert.Equal(t, 2, s.UnreadCount())
	assert.Equal(t, "n3", s.Notifications()[0].ID)

	got := toasts.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Site Visit Booked", got[0].Title)
	assert.Equal(t, "See you Friday", got[0].Message)
	assert.Equal(t, "visit", got[0].Type)
}

func TestSyncApplyIgnoresForeignAndDuplicateEvents(t *testing.T) {
	toasts := &toastRecorder{}
	s := NewSync("U1", newMemStore(), newChanSubscriber(), testOptions(toasts), logger.NewNop())
	require.NoError(t, s.Refresh(context.Background()))

	assert.True(t, s.Apply(Event{Type: EventInsert, Record: Notification{ID: "a", UserID: "U1"}}))
	assert.False(t, s.Apply(Event{Type: EventInsert, Record: Notification{ID: "a", UserID: "U1"}}))
	assert.False(t, s.Apply(Event{Type: EventInsert, Record: Notification{ID: "b", UserID: "U2"}}))
	assert.False(t, s.Apply(Event{Type: EventUpdate, Record: Notification{ID: "c", UserID: "U1"}}))

	assert.Len(t, s.Notifications(), 1)
	assert.Len(t, toasts.all(), 1)
}

// racingStore delivers a realtime insert while List is in flight.
type racingStore struct {
	*memStore
	during func()
}

func (s *racingStore) List(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.memStore.List(ctx, userID)
	if s.during != nil {
		s.during()
	}
	return rows, err
}

func TestSyncRefreshKeepsInsertsDuringFetch(t *testing.T) {
	store := &racingStore{memStore: newMemStore(seed()...)}
	s := NewSync("U1", store, newChanSubscriber(), testOptions(nil), logger.NewNop())
	require.NoError(t, s.Refresh(context.Background()))
	require.Len(t, s.Notifications(), 2)

	store.during = func() {
		s.Apply(Event{Type: EventInsert, Record: Notification{
			ID: "n3", UserID: "U1", Title: "Payment confirmed", CreatedAt: time.Now().Add(time.Minute),
		}})
	}
	require.NoError(t, s.Refresh(context.Background()))

	items := s.Notifications()
	require.Len(t, items, 3)
	assert.Equal(t, "n3", items[0].ID)
	assert.Equal(t, 2, s.UnreadCount())
}

func TestMergeFetchedDropsStaleRows(t *testing.T) {
	now := time.Now()
	fetched := []Notification{
		{ID: "b", CreatedAt: now},
		{ID: "a", CreatedAt: now.Add(-time.Hour)},
	}
	current := []Notification{
		{ID: "c", CreatedAt: now.Add(time.Second)},
		{ID: "b", CreatedAt: now, IsRead: true},
		{ID: "gone", CreatedAt: now.Add(-time.Minute)},
	}

	got := mergeFetched(current, fetched, now.Add(-time.Second))
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.False(t, got[1].IsRead)
	assert.Equal(t, "a", got[2].ID)

	got = mergeFetched(current, nil, now)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
}

func TestSyncMarkAllAsRead(t *testing.T) {
	s := startSync(t, newMemStore(seed()...), newChanSubscriber(), nil)

	require.NoError(t, s.MarkAllAsRead(context.Background()))

	assert.Equal(t, 0, s.UnreadCount())
	for _, n := range s.Notifications() {
		assert.True(t, n.IsRead, n.ID)
	}
}

func TestSyncMutationsLeaveCacheOnFailure(t *testing.T) {
	store := newMemStore(seed()...)
	s := startSync(t, store, newChanSubscriber(), nil)

	store.mu.Lock()
	store.failNext = 3
	store.mu.Unlock()

	err := s.MarkAsRead(context.Background(), "n2")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork))
	assert.Equal(t, 1, s.UnreadCount())

	err = s.MarkAllAsRead(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, s.UnreadCount())

	err = s.Delete(context.Background(), "n2")
	assert.Error(t, err)
	assert.Len(t, s.Notifications(), 2)
}

func TestSyncMarkAsReadAndDelete(t *testing.T) {
	s := startSync(t, newMemStore(seed()...), newChanSubscriber(), nil)

	require.NoError(t, s.MarkAsRead(context.Background(), "n2"))
	assert.Equal(t, 0, s.UnreadCount())

	require.NoError(t, s.Delete(context.Background(), "n1"))
	items := s.Notifications()
	require.Len(t, items, 1)
	assert.Equal(t, "n2", items[0].ID)

	err := s.Delete(context.Background(), "missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestSyncInitialLoadRetries(t *testing.T) {
	store := newMemStore(seed()...)
	store.failNext = 2
	s := startSync(t, store, newChanSubscriber(), nil)

	assert.Len(t, s.Notifications(), 2)
	assert.Equal(t, 3, store.calls["list"])
}

func TestSyncInitialLoadGivesUp(t *testing.T) {
	store := newMemStore(seed()...)
	store.failNext = 5
	s := NewSync("U1", store, newChanSubscriber(), testOptions(nil), logger.NewNop())

	err := s.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, store.calls["list"])
}

func TestSyncResubscribesAndRefreshesAfterDrop(t *testing.T) {
	store := newMemStore(seed()...)
	subscriber := newChanSubscriber()
	s := startSync(t, store, subscriber, nil)

	first := subscriber.next(time.Second)
	require.NotNil(t, first)

	// A row lands while the connection is down.
	store.mu.Lock()
	store.rows = append([]Notification{{ID: "n9", UserID: "U1", Title: "Missed"}}, store.rows...)
	store.mu.Unlock()
	first.end()

	second := subscriber.next(time.Second)
	require.NotNil(t, second, "sync did not resubscribe")
	waitFor(t, func() bool { return len(s.Notifications()) == 3 })
	assert.Equal(t, "n9", s.Notifications()[0].ID)
}

func TestSyncCloseUnsubscribes(t *testing.T) {
	subscriber := newChanSubscriber()
	s := NewSync("U1", newMemStore(), subscriber, testOptions(nil), logger.NewNop())
	require.NoError(t, s.Start(context.Background()))

	sub := subscriber.next(time.Second)
	require.NotNil(t, sub)
	waitFor(t, func() bool {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		return s.sub != nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	assert.True(t, sub.wasUnsubscribed())
}

func TestNewNotificationValidate(t *testing.T) {
	n := NewNotification{UserID: " U1 ", Title: "Hi", Message: "there"}
	require.NoError(t, n.Validate())
	assert.Equal(t, "U1", n.UserID)
	assert.Equal(t, DefaultType, n.Type)

	empty := ""
	n = NewNotification{UserID: "U1", Title: "Hi", Message: "x", RelatedID: &empty}
	require.NoError(t, n.Validate())
	assert.Nil(t, n.RelatedID)

	for _, bad := range []NewNotification{
		{Title: "t", Message: "m"},
		{UserID: "u", Message: "m"},
		{UserID: "u", Title: "t"},
	} {
		err := bad.Validate()
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	}
}
