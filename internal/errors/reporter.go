package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Centace/centace/pkg/logger"
)

// Report is the payload sent to the remote error-log endpoint.
type Report struct {
	Message     string         `json:"message"`
	ErrorType   string         `json:"errorType"`
	Severity    string         `json:"severity"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Environment string         `json:"environment,omitempty"`
	Version     string         `json:"version,omitempty"`
}

// Reporter logs errors locally and forwards them to a remote sink.
// Delivery is best effort: failures are logged and never retried.
type Reporter struct {
	endpoint    string
	environment string
	version     string
	client      *http.Client
	log         *logger.Logger

	wg sync.WaitGroup
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Endpoint    string
	Environment string
	Version     string
	HTTPClient  *http.Client
}

// NewReporter creates a reporter. An empty endpoint disables forwarding.
func NewReporter(cfg ReporterConfig, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.NewDefault("error-reporter")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Reporter{
		endpoint:    strings.TrimSpace(cfg.Endpoint),
		environment: cfg.Environment,
		version:     cfg.Version,
		client:      client,
		log:         log,
	}
}

// Report logs err and forwards it asynchronously.
func (r *Reporter) Report(ctx context.Context, err error) {
	if r == nil || err == nil {
		return
	}

	rep := r.build(err)
	entry := r.log.WithContext(ctx).WithError(err).
		WithField("error_type", rep.ErrorType).
		WithField("severity", rep.Severity)
	for k, v := range rep.Context {
		entry = entry.WithField(k, v)
	}
	switch Severity(rep.Severity) {
	case SeverityCritical, SeverityHigh:
		entry.Error(rep.Message)
	case SeverityMedium:
		entry.Warn(rep.Message)
	default:
		entry.Info(rep.Message)
	}

	if r.endpoint == "" {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Detached from the request: the caller may already be gone.
		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if sendErr := r.send(sendCtx, rep); sendErr != nil {
			r.log.WithError(sendErr).Warn("forward error report failed")
		}
	}()
}

// Wait blocks until in-flight reports have been delivered or dropped.
func (r *Reporter) Wait() {
	r.wg.Wait()
}

func (r *Reporter) build(err error) Report {
	rep := Report{
		Message:     err.Error(),
		ErrorType:   string(KindInternal),
		Severity:    string(SeverityHigh),
		Timestamp:   time.Now().UTC(),
		Environment: r.environment,
		Version:     r.version,
	}
	if appErr, ok := As(err); ok {
		rep.Message = appErr.Message
		rep.ErrorType = string(appErr.Kind)
		rep.Severity = string(appErr.Severity)
		rep.Context = appErr.Context
		if appErr.Err != nil {
			if rep.Context == nil {
				rep.Context = map[string]any{}
			}
			rep.Context["cause"] = appErr.Err.Error()
		}
	}
	return rep
}

func (r *Reporter) send(ctx context.Context, rep Report) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &httpStatusError{status: resp.StatusCode}
	}
	return nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "error sink returned " + http.StatusText(e.status)
}
