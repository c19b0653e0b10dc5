// Package errorlog receives client-side error reports, logs them and keeps
// them in Postgres for a limited retention period.
package errorlog

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/Centace/centace/internal/errors"
)

const (
	maxMessage = 4 << 10
	maxStack   = 32 << 10
	maxField   = 2 << 10
)

// Input is the body accepted by the log-error route.
type Input struct {
	Message   string          `json:"message"`
	Stack     string          `json:"stack,omitempty"`
	ErrorType string          `json:"errorType,omitempty"`
	Severity  string          `json:"severity,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	URL       string          `json:"url,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

// Entry is a stored error report.
type Entry struct {
	ID          string          `db:"id" json:"id"`
	ErrorType   string          `db:"error_type" json:"error_type"`
	Severity    string          `db:"severity" json:"severity"`
	Message     string          `db:"message" json:"message"`
	Stack       *string         `db:"stack" json:"stack,omitempty"`
	Context     json.RawMessage `db:"context" json:"context"`
	URL         *string         `db:"url" json:"url,omitempty"`
	UserAgent   *string         `db:"user_agent" json:"user_agent,omitempty"`
	UserID      *string         `db:"user_id" json:"user_id,omitempty"`
	IPHash      *string         `db:"ip_hash" json:"-"`
	Environment *string         `db:"environment" json:"environment,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Validate checks the input and fills defaults. The returned entry has no
// id, hash or timestamp yet.
func (in Input) Validate() (Entry, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return Entry{}, apperrors.Validation("message is required")
	}

	severity := apperrors.SeverityMedium
	if s := strings.ToLower(strings.TrimSpace(in.Severity)); s != "" {
		parsed, ok := apperrors.ParseSeverity(s)
		if !ok {
			return Entry{}, apperrors.Validation("severity must be one of low, medium, high, critical")
		}
		severity = parsed
	}

	errType := strings.TrimSpace(in.ErrorType)
	if errType == "" {
		errType = "ClientError"
	}

	ctx := json.RawMessage(`{}`)
	if len(in.Context) > 0 && string(in.Context) != "null" {
		var obj map[string]any
		if err := json.Unmarshal(in.Context, &obj); err != nil {
			return Entry{}, apperrors.Validation("context must be a JSON object")
		}
		ctx = in.Context
	}

	return Entry{
		ErrorType: truncate(errType, 64),
		Severity:  string(severity),
		Message:   truncate(msg, maxMessage),
		Stack:     optional(in.Stack, maxStack),
		Context:   ctx,
		URL:       optional(in.URL, maxField),
		UserAgent: optional(in.UserAgent, maxField),
		UserID:    optional(in.UserID, 64),
	}, nil
}

func optional(s string, limit int) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = truncate(s, limit)
	return &s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Back off to a rune boundary.
	for limit > 0 && !utf8Start(s[limit]) {
		limit--
	}
	return s[:limit]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
