// Package notifications keeps a per-user cache of the notifications table
// in sync with the hosted backend. Each Sync loads the list once, then
// follows INSERT events from a realtime subscription and applies local
// mutations only after the backend confirms them.
package notifications

import (
	"strings"
	"time"

	apperrors "github.com/Centace/centace/internal/errors"
)

// Notification is a row of the notifications table.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"is_read"`
	RelatedID *string   `json:"related_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultType is used when a notification is created without one.
const DefaultType = "info"

// NewNotification is the payload accepted by Store.Create.
type NewNotification struct {
	UserID    string  `json:"user_id"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Type      string  `json:"type"`
	RelatedID *string `json:"related_id,omitempty"`
	IsRead    bool    `json:"is_read"`
}

// Validate trims fields and checks required ones.
func (n *NewNotification) Validate() error {
	n.UserID = strings.TrimSpace(n.UserID)
	n.Title = strings.TrimSpace(n.Title)
	n.Message = strings.TrimSpace(n.Message)
	n.Type = strings.TrimSpace(n.Type)

	switch {
	case n.UserID == "":
		return apperrors.Validation("userId is required")
	case n.Title == "":
		return apperrors.Validation("title is required")
	case n.Message == "":
		return apperrors.Validation("message is required")
	}
	if n.Type == "" {
		n.Type = DefaultType
	}
	if n.RelatedID != nil && strings.TrimSpace(*n.RelatedID) == "" {
		n.RelatedID = nil
	}
	return nil
}

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is a row change delivered by a Subscription.
type Event struct {
	Type   EventType
	Record Notification
}

// Toast is the user-visible popup raised for a new notification.
type Toast struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	ID      string `json:"id,omitempty"`
}

// Toaster displays toasts to a user.
type Toaster interface {
	Toast(userID string, t Toast)
}
