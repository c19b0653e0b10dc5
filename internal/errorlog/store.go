package errorlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store persists error reports.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLStore writes to the error_logs table.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, e Entry) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO error_logs (id, error_type, severity, message, stack, context, url, user_agent, user_id, ip_hash, environment, created_at)
		VALUES (:id, :error_type, :severity, :message, :stack, :context, :url, :user_agent, :user_id, :ip_hash, :environment, :created_at)
	`, e)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	return nil
}

func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM error_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune error logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune error logs: %w", err)
	}
	return n, nil
}

// Recent returns the newest entries, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Entry
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, error_type, severity, message, stack, context, url, user_agent, user_id, ip_hash, environment, created_at
		FROM error_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list error logs: %w", err)
	}
	return out, nil
}

// MemoryStore keeps entries in memory. It backs the sink when no database
// is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

// NewMemoryStore keeps at most max entries, dropping the oldest.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 500
	}
	return &MemoryStore{max: max}
}

func (s *MemoryStore) Insert(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.max; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

func (s *MemoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var n int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return n, nil
}

// Entries returns a copy of the stored entries, oldest first.
func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}
