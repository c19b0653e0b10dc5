package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Centace/centace/internal/errors"
)

const maxRequestBytes = 1 << 20

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error    string         `json:"error"`
	Type     string         `json:"type,omitempty"`
	Severity string         `json:"severity,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto an HTTP status and JSON error body.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := apperrors.As(err); ok {
		WriteJSON(w, apperrors.HTTPStatus(err), ErrorResponse{
			Error:    appErr.Message,
			Type:     string(appErr.Kind),
			Severity: string(appErr.Severity),
			Details:  appErr.Context,
		})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, apperrors.Validation(msg))
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, msg string) {
	if msg == "" {
		msg = "authentication required"
	}
	WriteError(w, apperrors.Auth(msg, nil))
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: msg})
}

// InternalError writes a 500 response.
func InternalError(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msg})
}

// DecodeJSON decodes a bounded JSON request body into v.
func DecodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return apperrors.Validation("request body is required")
		}
		return apperrors.Validation(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
