package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	heartbeatInterval  = 30 * time.Second
	subscriptionBuffer = 256
)

// ErrNotConnected is returned when the realtime socket is not open.
var ErrNotConnected = errors.New("realtime: not connected")

// RealtimeClient handles Supabase Realtime postgres_changes subscriptions.
type RealtimeClient struct {
	mu      sync.Mutex
	writeMu sync.Mutex

	url         string
	apiKey      string
	accessToken string
	conn        *websocket.Conn
	subs        map[string]*Subscription
	replies     map[string]chan reply
	done        chan struct{}
	ref         int64

	HeartbeatInterval time.Duration
}

type message struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref,omitempty"`
	JoinRef string `json:"join_ref,omitempty"`
}

type reply struct {
	status   string
	response string
}

// PostgresChangesConfig configures postgres changes subscription.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE, *
	Schema string
	Table  string
	Filter string // Optional filter like "user_id=eq.1"
}

func (c PostgresChangesConfig) topic() string {
	topic := fmt.Sprintf("realtime:%s:%s", c.Schema, c.Table)
	if c.Filter != "" {
		topic += ":" + c.Filter
	}
	return topic
}

// ChangeEvent is a single row change delivered by Realtime.
type ChangeEvent struct {
	Type            string // INSERT, UPDATE or DELETE
	Schema          string
	Table           string
	Record          json.RawMessage
	OldRecord       json.RawMessage
	CommitTimestamp time.Time
}

// NewRealtimeClient creates a new realtime client for a project URL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + url.QueryEscape(apiKey) + "&vsn=1.0.0"

	return &RealtimeClient{
		url:               wsURL,
		apiKey:            apiKey,
		accessToken:       apiKey,
		subs:              make(map[string]*Subscription),
		replies:           make(map[string]chan reply),
		HeartbeatInterval: heartbeatInterval,
	}
}

// SetAuth sets the token sent with subsequent channel joins.
func (r *RealtimeClient) SetAuth(token string) {
	r.mu.Lock()
	r.accessToken = token
	r.mu.Unlock()
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	done := make(chan struct{})
	r.conn = conn
	r.done = done

	go r.readLoop(conn, done)
	go r.heartbeat(done)
	return nil
}

// Done is closed when the current connection ends.
func (r *RealtimeClient) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Connected reports whether the socket is open.
func (r *RealtimeClient) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Disconnect closes the WebSocket connection and every subscription on it.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	r.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	r.writeMu.Unlock()

	conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// Subscribe joins a postgres_changes channel and waits for the server to
// acknowledge it.
func (r *RealtimeClient) Subscribe(ctx context.Context, cfg PostgresChangesConfig) (*Subscription, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}

	r.mu.Lock()
	if r.conn == nil {
		r.mu.Unlock()
		return nil, ErrNotConnected
	}
	topic := cfg.topic()
	if _, exists := r.subs[topic]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %s", topic)
	}
	ref := r.nextRef()
	sub := &Subscription{
		client:  r,
		topic:   topic,
		joinRef: ref,
		events:  make(chan ChangeEvent, subscriptionBuffer),
	}
	r.subs[topic] = sub
	ack := make(chan reply, 1)
	r.replies[ref] = ack
	token := r.accessToken
	r.mu.Unlock()

	change := map[string]any{"event": cfg.Event, "schema": cfg.Schema, "table": cfg.Table}
	if cfg.Filter != "" {
		change["filter"] = cfg.Filter
	}
	join := message{
		Topic: topic,
		Event: "phx_join",
		Payload: map[string]any{
			"config": map[string]any{
				"broadcast":        map[string]any{"self": false},
				"presence":         map[string]any{"key": ""},
				"postgres_changes": []any{change},
			},
			"access_token": token,
		},
		Ref:     ref,
		JoinRef: ref,
	}

	fail := func(err error) (*Subscription, error) {
		r.mu.Lock()
		delete(r.subs, topic)
		delete(r.replies, ref)
		r.mu.Unlock()
		sub.close()
		return nil, err
	}

	if err := r.send(join); err != nil {
		return fail(fmt.Errorf("send join: %w", err))
	}

	select {
	case rep, ok := <-ack:
		if !ok {
			return fail(ErrNotConnected)
		}
		if rep.status != "ok" {
			return fail(fmt.Errorf("join %s rejected: %s", topic, rep.response))
		}
		return sub, nil
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

func (r *RealtimeClient) nextRef() string {
	return strconv.FormatInt(atomic.AddInt64(&r.ref, 1), 10)
}

func (r *RealtimeClient) send(msg message) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (r *RealtimeClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer r.teardown(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.dispatch(raw)
	}
}

func (r *RealtimeClient) teardown(conn *websocket.Conn, done chan struct{}) {
	conn.Close()

	r.mu.Lock()
	subs := r.subs
	replies := r.replies
	if r.conn == conn {
		r.conn = nil
	}
	r.subs = make(map[string]*Subscription)
	r.replies = make(map[string]chan reply)
	r.mu.Unlock()

	for _, ch := range replies {
		close(ch)
	}
	for _, sub := range subs {
		sub.close()
	}
	close(done)
}

func (r *RealtimeClient) dispatch(raw []byte) {
	msg := gjson.ParseBytes(raw)
	topic := msg.Get("topic").String()
	event := msg.Get("event").String()

	switch event {
	case "phx_reply":
		ref := msg.Get("ref").String()
		r.mu.Lock()
		ch, ok := r.replies[ref]
		delete(r.replies, ref)
		r.mu.Unlock()
		if ok {
			ch <- reply{
				status:   msg.Get("payload.status").String(),
				response: msg.Get("payload.response").Raw,
			}
		}
		return
	case "phx_close", "phx_error":
		r.mu.Lock()
		sub, ok := r.subs[topic]
		delete(r.subs, topic)
		r.mu.Unlock()
		if ok {
			sub.close()
		}
		return
	}

	change, ok := parseChange(msg)
	if !ok {
		return
	}

	r.mu.Lock()
	sub := r.subs[topic]
	r.mu.Unlock()
	if sub != nil {
		sub.deliver(change)
	}
}

// parseChange accepts both the postgres_changes envelope (payload.data) and
// the legacy per-event envelope where the row sits directly in payload.
func parseChange(msg gjson.Result) (ChangeEvent, bool) {
	data := msg.Get("payload.data")
	if !data.Exists() {
		data = msg.Get("payload")
	}

	typ := data.Get("type").String()
	if typ == "" {
		typ = data.Get("eventType").String()
	}
	switch typ {
	case "INSERT", "UPDATE", "DELETE":
	default:
		return ChangeEvent{}, false
	}

	ev := ChangeEvent{
		Type:   typ,
		Schema: data.Get("schema").String(),
		Table:  data.Get("table").String(),
	}
	if rec := data.Get("record"); rec.Exists() {
		ev.Record = json.RawMessage(rec.Raw)
	}
	if old := data.Get("old_record"); old.Exists() {
		ev.OldRecord = json.RawMessage(old.Raw)
	}
	if ts := data.Get("commit_timestamp").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.CommitTimestamp = parsed
		}
	}
	return ev, true
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	interval := r.HeartbeatInterval
	if interval <= 0 {
		interval = heartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := r.send(message{
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: map[string]any{},
				Ref:     r.nextRef(),
			})
			if err != nil {
				return
			}
		}
	}
}

// Subscription is a joined postgres_changes channel.
type Subscription struct {
	client  *RealtimeClient
	topic   string
	joinRef string

	mu      sync.Mutex
	closed  bool
	dropped int64
	events  chan ChangeEvent
}

// Topic returns the channel topic.
func (s *Subscription) Topic() string { return s.topic }

// Events yields row changes until the subscription ends. The channel is
// closed on Unsubscribe or when the connection drops.
func (s *Subscription) Events() <-chan ChangeEvent { return s.events }

// Dropped returns the number of events discarded because the consumer lagged.
func (s *Subscription) Dropped() int64 { return atomic.LoadInt64(&s.dropped) }

// Unsubscribe leaves the channel. It is safe to call more than once.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	r := s.client
	r.mu.Lock()
	current, ok := r.subs[s.topic]
	if ok && current == s {
		delete(r.subs, s.topic)
	}
	r.mu.Unlock()

	defer s.close()
	if !ok || current != s {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.send(message{
		Topic:   s.topic,
		Event:   "phx_leave",
		Payload: map[string]any{},
		Ref:     r.nextRef(),
		JoinRef: s.joinRef,
	})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

func (s *Subscription) deliver(ev ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
