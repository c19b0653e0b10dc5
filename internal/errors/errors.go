// Package errors defines the Centace error taxonomy. Every error that crosses
// a component boundary is an *AppError carrying a kind, a severity and
// free-form context; HTTP handlers map it to a status code.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindAuth       Kind = "AuthError"
	KindNetwork    Kind = "NetworkError"
	KindDataFetch  Kind = "DataFetchError"
	KindValidation Kind = "ValidationError"
	KindNotFound   Kind = "NotFoundError"
	KindDatabase   Kind = "DatabaseError"
	KindRateLimit  Kind = "RateLimitError"
	KindInternal   Kind = "InternalError"
)

// Severity ranks how urgently an error needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string into a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}

// AppError is the error type shared by all Centace components.
type AppError struct {
	Kind       Kind
	Severity   Severity
	Message    string
	Context    map[string]any
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithContext attaches a key/value pair to the error context.
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity.
func (e *AppError) WithSeverity(s Severity) *AppError {
	e.Severity = s
	return e
}

func newError(kind Kind, severity Severity, status int, message string, err error) *AppError {
	return &AppError{
		Kind:       kind,
		Severity:   severity,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// Auth reports a failed or missing authentication.
func Auth(message string, err error) *AppError {
	return newError(KindAuth, SeverityMedium, http.StatusUnauthorized, message, err)
}

// Forbidden reports an authenticated caller without permission.
func Forbidden(message string) *AppError {
	return newError(KindAuth, SeverityMedium, http.StatusForbidden, message, nil)
}

// Network reports a transport failure talking to a remote system.
func Network(message string, err error) *AppError {
	return newError(KindNetwork, SeverityHigh, http.StatusBadGateway, message, err)
}

// DataFetch reports a failed read from the hosted backend or a rate API.
func DataFetch(message string, err error) *AppError {
	return newError(KindDataFetch, SeverityMedium, http.StatusBadGateway, message, err)
}

// Validation reports bad caller input.
func Validation(message string) *AppError {
	return newError(KindValidation, SeverityLow, http.StatusBadRequest, message, nil)
}

// NotFound reports a missing resource.
func NotFound(message string) *AppError {
	return newError(KindNotFound, SeverityLow, http.StatusNotFound, message, nil)
}

// Database reports a failed write or query against a database.
func Database(message string, err error) *AppError {
	return newError(KindDatabase, SeverityHigh, http.StatusInternalServerError, message, err)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *AppError {
	return newError(KindRateLimit, SeverityLow, http.StatusTooManyRequests,
		fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window), nil)
}

// Internal reports an unclassified failure.
func Internal(message string, err error) *AppError {
	return newError(KindInternal, SeverityCritical, http.StatusInternalServerError, message, err)
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

// HTTPStatus returns the status code for err, defaulting to 500.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is and New re-export the standard helpers so callers need one import.
var (
	Is  = stderrors.Is
	New = stderrors.New
)
