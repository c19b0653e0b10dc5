package errorlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/metrics"
	"github.com/Centace/centace/pkg/logger"
)

// Service validates, logs and stores error reports.
type Service struct {
	store       Store
	hasher      *IPHasher
	environment string
	metrics     *metrics.Metrics
	log         *logger.Logger
	now         func() time.Time
}

// NewService creates a sink. store and hasher may be nil.
func NewService(store Store, hasher *IPHasher, environment string, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("error-log")
	}
	return &Service{
		store:       store,
		hasher:      hasher,
		environment: environment,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

// Record stores one report and returns the stored entry. Storage failures
// are returned as database errors after the report has been logged.
func (s *Service) Record(ctx context.Context, in Input, remoteAddr string) (Entry, error) {
	e, err := in.Validate()
	if err != nil {
		return Entry{}, err
	}
	e.ID = uuid.NewString()
	e.CreatedAt = s.now().UTC()
	if h := s.hasher.Hash(remoteAddr); h != "" {
		e.IPHash = &h
	}
	if s.environment != "" {
		env := s.environment
		e.Environment = &env
	}

	s.logEntry(ctx, e)
	s.metrics.ErrorLogged(e.ErrorType, e.Severity)

	if s.store == nil {
		return e, nil
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return Entry{}, apperrors.Database("failed to store error log", err)
	}
	return e, nil
}

func (s *Service) logEntry(ctx context.Context, e Entry) {
	entry := s.log.WithContext(ctx).WithFields(logrus.Fields{
		"error_log_id": e.ID,
		"error_type":   e.ErrorType,
		"severity":     e.Severity,
	})
	if e.URL != nil {
		entry = entry.WithField("url", *e.URL)
	}
	if e.UserID != nil {
		entry = entry.WithField("reported_user_id", *e.UserID)
	}

	switch apperrors.Severity(e.Severity) {
	case apperrors.SeverityCritical, apperrors.SeverityHigh:
		entry.Error(e.Message)
	case apperrors.SeverityMedium:
		entry.Warn(e.Message)
	default:
		entry.Info(e.Message)
	}
}
