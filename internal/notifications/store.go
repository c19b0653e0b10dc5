package notifications

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/Centace/centace/internal/errors"
	supabase "github.com/Centace/centace/supabase/client"
)

const (
	table        = "notifications"
	defaultLimit = 100
)

// Store is the remote source of truth for notifications.
type Store interface {
	List(ctx context.Context, userID string) ([]Notification, error)
	Create(ctx context.Context, n NewNotification) (*Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID, id string) error
}

// SupabaseStore reads and writes the notifications table over PostgREST.
// It uses the service key, so every query is scoped by user_id explicitly.
type SupabaseStore struct {
	client *supabase.Client
	limit  int
}

// NewSupabaseStore creates a store. limit <= 0 uses the default page size.
func NewSupabaseStore(client *supabase.Client, limit int) *SupabaseStore {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &SupabaseStore{client: client, limit: limit}
}

func (s *SupabaseStore) List(ctx context.Context, userID string) ([]Notification, error) {
	resp, err := s.client.From(table).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", false).
		Limit(s.limit).
		Execute(ctx)
	if err != nil {
		return nil, apperrors.Network("fetch notifications", err)
	}
	if err := resp.Error(); err != nil {
		return nil, classify("fetch notifications", err)
	}

	var rows []Notification
	if err := resp.JSON(&rows); err != nil {
		return nil, apperrors.DataFetch("decode notifications", err)
	}
	return rows, nil
}

func (s *SupabaseStore) Create(ctx context.Context, n NewNotification) (*Notification, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	resp, err := s.client.From(table).ExecuteInsert(ctx, n)
	if err != nil {
		return nil, apperrors.Network("create notification", err)
	}
	if err := resp.Error(); err != nil {
		return nil, classify("create notification", err)
	}

	var rows []Notification
	if err := resp.JSON(&rows); err != nil || len(rows) == 0 {
		return nil, apperrors.Database("create notification returned no row", err)
	}
	return &rows[0], nil
}

func (s *SupabaseStore) MarkRead(ctx context.Context, userID, id string) error {
	resp, err := s.client.From(table).
		Eq("id", id).
		Eq("user_id", userID).
		ExecuteUpdate(ctx, map[string]any{"is_read": true})
	return s.expectRows("mark notification read", resp, err)
}

func (s *SupabaseStore) MarkAllRead(ctx context.Context, userID string) error {
	resp, err := s.client.From(table).
		Eq("user_id", userID).
		Eq("is_read", false).
		ExecuteUpdate(ctx, map[string]any{"is_read": true})
	if err != nil {
		return apperrors.Network("mark all notifications read", err)
	}
	if err := resp.Error(); err != nil {
		return classify("mark all notifications read", err)
	}
	return nil
}

func (s *SupabaseStore) Delete(ctx context.Context, userID, id string) error {
	resp, err := s.client.From(table).
		Eq("id", id).
		Eq("user_id", userID).
		ExecuteDelete(ctx)
	return s.expectRows("delete notification", resp, err)
}

func (s *SupabaseStore) expectRows(op string, resp *supabase.Response, err error) error {
	if err != nil {
		return apperrors.Network(op, err)
	}
	if err := resp.Error(); err != nil {
		return classify(op, err)
	}
	var rows []map[string]any
	if err := resp.JSON(&rows); err != nil {
		return apperrors.DataFetch(op, err)
	}
	if len(rows) == 0 {
		return apperrors.NotFound("notification not found")
	}
	return nil
}

func classify(op string, err error) error {
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperrors.Auth(op, err)
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			return apperrors.Database(op, err).WithSeverity(apperrors.SeverityMedium)
		}
	}
	return apperrors.DataFetch(op, err)
}
