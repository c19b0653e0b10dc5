package httpapi

import (
	"errors"
	"net/http"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/httputil"
	"github.com/Centace/centace/internal/middleware"
	"github.com/Centace/centace/internal/session"
)

type activityRequest struct {
	Event string `json:"event"`
}

type activityResponse struct {
	Session  session.Snapshot `json:"session"`
	Accepted bool             `json:"accepted"`
}

func (h *handler) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		httputil.WriteError(w, apperrors.Auth("session expired", nil).WithContext("reason", "inactivity"))
	case errors.Is(err, session.ErrNoSession):
		httputil.WriteError(w, apperrors.NotFound("no active session"))
	default:
		h.writeError(w, r, apperrors.Internal("session tracking failed", err))
	}
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Sessions.Snapshot(middleware.GetUserID(r.Context()))
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *handler) sessionActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Event == "" {
		httputil.BadRequest(w, "event is required")
		return
	}

	ctx := r.Context()
	snap, accepted, err := h.app.Sessions.Activity(middleware.GetUserID(ctx), middleware.GetToken(ctx), req.Event)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	h.app.Metrics.SetSessionsTracked(h.app.Sessions.Len())
	httputil.WriteJSON(w, http.StatusOK, activityResponse{Session: snap, Accepted: accepted})
}

func (h *handler) extendSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := h.app.Sessions.Extend(middleware.GetUserID(ctx), middleware.GetToken(ctx))
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// endSession is the explicit logout: the timer is dropped without firing
// and the notification sync is torn down.
func (h *handler) endSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	h.app.Sessions.End(userID)
	h.app.Hub.Disconnect(userID)
	if err := h.app.Notifications.Close(r.Context(), userID); err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("close notification sync")
	}
	h.app.Metrics.SetSessionsTracked(h.app.Sessions.Len())
	w.WriteHeader(http.StatusNoContent)
}
