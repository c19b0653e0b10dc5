// Package query retries reads against the hosted backend with exponential
// backoff. It is the only place outside the HTTP transport where the
// service retries automatically.
package query

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Centace/centace/internal/errors"
)

// Options controls Retry.
type Options struct {
	Attempts       int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	// Retryable decides whether err warrants another attempt. Nil retries
	// everything except validation, auth and not-found errors.
	Retryable func(err error) bool
}

// DefaultOptions returns three attempts starting at 500ms and doubling.
func DefaultOptions() Options {
	return Options{
		Attempts:       3,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Attempts <= 0 {
		o.Attempts = def.Attempts
	}
	if o.InitialBackoff < 0 {
		o.InitialBackoff = 0
	}
	if o.Multiplier < 1 {
		o.Multiplier = def.Multiplier
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = def.MaxBackoff
	}
	if o.Retryable == nil {
		o.Retryable = defaultRetryable
	}
	return o
}

func defaultRetryable(err error) bool {
	switch {
	case apperrors.IsKind(err, apperrors.KindValidation),
		apperrors.IsKind(err, apperrors.KindAuth),
		apperrors.IsKind(err, apperrors.KindNotFound):
		return false
	case apperrors.Is(err, context.Canceled), apperrors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func Retry(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Retry for functions that return a value.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	backoff := opts.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !opts.Retryable(err) || attempt == opts.Attempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * opts.Multiplier)
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}

	return zero, fmt.Errorf("query failed: %w", lastErr)
}
