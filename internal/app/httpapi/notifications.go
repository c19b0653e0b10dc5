package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/httputil"
	"github.com/Centace/centace/internal/middleware"
	"github.com/Centace/centace/internal/notifications"
)

type notificationList struct {
	Notifications []notifications.Notification `json:"notifications"`
	UnreadCount   int                          `json:"unread_count"`
}

// activeUser rejects tokens whose session already expired for inactivity,
// so they cannot restart the user's sync.
func (h *handler) activeUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if err := h.app.Sessions.Check(userID, middleware.GetToken(ctx)); err != nil {
		h.sessionError(w, r, err)
		return "", false
	}
	return userID, true
}

func (h *handler) userSync(w http.ResponseWriter, r *http.Request) (*notifications.Sync, bool) {
	userID, ok := h.activeUser(w, r)
	if !ok {
		return nil, false
	}
	s, err := h.app.Notifications.Ensure(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *handler) writeList(w http.ResponseWriter, s *notifications.Sync) {
	items, unread := s.State()
	if items == nil {
		items = []notifications.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, notificationList{Notifications: items, UnreadCount: unread})
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	s, ok := h.userSync(w, r)
	if !ok {
		return
	}
	h.writeList(w, s)
}

func (h *handler) refreshNotifications(w http.ResponseWriter, r *http.Request) {
	s, ok := h.userSync(w, r)
	if !ok {
		return
	}
	if err := s.Refresh(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeList(w, s)
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	s, ok := h.userSync(w, r)
	if !ok {
		return
	}
	if err := s.MarkAsRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeList(w, s)
}

func (h *handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	s, ok := h.userSync(w, r)
	if !ok {
		return
	}
	if err := s.MarkAllAsRead(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeList(w, s)
}

func (h *handler) deleteNotification(w http.ResponseWriter, r *http.Request) {
	s, ok := h.userSync(w, r)
	if !ok {
		return
	}
	if err := s.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeList(w, s)
}

type createNotificationRequest struct {
	UserID    string  `json:"userId"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Type      string  `json:"type"`
	RelatedID *string `json:"relatedId"`
}

func (h *handler) createNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	caller := middleware.GetUserID(r.Context())
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		target = caller
	}
	if target != caller && !middleware.HasRole(r.Context(), AdminRole) {
		httputil.WriteError(w, apperrors.Forbidden("cannot create notifications for another user"))
		return
	}

	created, err := h.app.Notifications.Create(r.Context(), notifications.NewNotification{
		UserID:    target,
		Title:     req.Title,
		Message:   req.Message,
		Type:      req.Type,
		RelatedID: req.RelatedID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.activeUser(w, r)
	if !ok {
		return
	}
	// Toasts only flow while the user's sync runs.
	if _, err := h.app.Notifications.Ensure(r.Context(), userID); err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("notification sync unavailable for stream")
	}
	if err := h.app.Hub.Serve(w, r, userID); err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
	}
}
