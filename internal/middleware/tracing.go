package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/httputil"
	"github.com/Centace/centace/pkg/logger"
)

// LoggingMiddleware assigns a trace ID to each request and logs it on
// completion.
func LoggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" || len(traceID) > 64 {
				traceID = logger.NewTraceID()
			}
			ctx := logger.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r)

			entry := log.WithContext(ctx).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", wrapped.statusCode).
				WithField("duration_ms", time.Since(start).Milliseconds())
			switch {
			case wrapped.statusCode >= 500:
				entry.Error("request completed")
			case wrapped.statusCode >= 400:
				entry.Warn("request completed")
			default:
				entry.Info("request completed")
			}
		})
	}
}

// RecoveryMiddleware turns handler panics into 500 responses and reports
// them.
func RecoveryMiddleware(log *logger.Logger, reporter *apperrors.Reporter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := apperrors.Internal("unexpected server error", fmt.Errorf("panic: %v", rec)).
					WithContext("path", r.URL.Path).
					WithContext("stack", string(debug.Stack()))
				if reporter != nil {
					reporter.Report(r.Context(), err)
				} else {
					log.WithContext(r.Context()).WithError(err).Error("handler panic")
				}
				httputil.WriteError(w, apperrors.Internal("internal server error", nil))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
