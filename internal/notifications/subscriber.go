package notifications

import (
	"context"
	"encoding/json"
	"sync"

	supabase "github.com/Centace/centace/supabase/client"
)

// Subscription yields row changes for one user until the underlying
// connection ends or Unsubscribe is called. Events is closed in both cases.
type Subscription interface {
	Events() <-chan Event
	Unsubscribe(ctx context.Context) error
}

// Subscriber opens push subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

// RealtimeSubscriber subscribes to INSERTs on the notifications table over
// a shared Supabase Realtime connection, reconnecting it on demand.
type RealtimeSubscriber struct {
	mu sync.Mutex
	rt *supabase.RealtimeClient
}

// NewRealtimeSubscriber wraps a realtime client.
func NewRealtimeSubscriber(rt *supabase.RealtimeClient) *RealtimeSubscriber {
	return &RealtimeSubscriber{rt: rt}
}

// Subscribe implements Subscriber.
func (s *RealtimeSubscriber) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	s.mu.Lock()
	err := s.rt.Connect(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sub, err := s.rt.Subscribe(ctx, supabase.PostgresChangesConfig{
		Event:  string(EventInsert),
		Schema: "public",
		Table:  table,
		Filter: "user_id=eq." + userID,
	})
	if err != nil {
		return nil, err
	}

	rs := &realtimeSubscription{sub: sub, events: make(chan Event, 16)}
	go rs.pump()
	return rs, nil
}

// Close drops the shared connection.
func (s *RealtimeSubscriber) Close() error {
	return s.rt.Disconnect()
}

type realtimeSubscription struct {
	sub    *supabase.Subscription
	events chan Event
}

func (r *realtimeSubscription) pump() {
	defer close(r.events)
	for change := range r.sub.Events() {
		var n Notification
		if err := json.Unmarshal(change.Record, &n); err != nil {
			continue
		}
		r.events <- Event{Type: EventType(change.Type), Record: n}
	}
}

func (r *realtimeSubscription) Events() <-chan Event { return r.events }

func (r *realtimeSubscription) Unsubscribe(ctx context.Context) error {
	return r.sub.Unsubscribe(ctx)
}
