package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	cdxRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdx_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	cdxRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdx_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0, 0.5, 1, 2, 5, 10},
	}, []string{"error_class"})

	cdxRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdx_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy controls how transient failures are retried.
//
// The index servers answer 503 when asked to slow down and 502/504 during
// short outages, so the default waits a fixed second and never gives up.
// A stuck endpoint therefore blocks the caller until ctx is cancelled.
type RetryPolicy struct {
	// Interval is the fixed wait between attempts.
	Interval time.Duration

	// MaxAttempts caps the number of attempts including the first one.
	// Zero means retry forever.
	MaxAttempts int
}

// DefaultRetryPolicy returns the fixed 1s, unbounded policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    1 * time.Second,
		MaxAttempts: 0,
	}
}

// Validate checks the policy for nonsensical values.
func (p RetryPolicy) Validate() error {
	if p.Interval < 0 {
		return fmt.Errorf("retry interval must be >= 0 (got %s)", p.Interval)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must be >= 0 (got %d)", p.MaxAttempts)
	}
	return nil
}

// newBackOff builds the backoff schedule for one logical request.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retryable
// error class, the policy gives up, or ctx is done.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, fn func() error) error {
	attempt := 0

	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		if !shouldRetry(errorClassOf(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		class := string(errorClassOf(err))
		cdxRetriesTotal.WithLabelValues(class).Inc()
		cdxRetryBackoffSeconds.WithLabelValues(class).Observe(wait.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")
	}

	err := backoff.RetryNotify(operation, policy.newBackOff(ctx), notify)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		logger.Warn().
			Int("attempt", attempt).
			Msg("Context cancelled during request")
		return fmt.Errorf("%w: %w", ErrContextCancelled, err)
	}

	class := errorClassOf(err)
	if shouldRetry(class) {
		cdxRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
		logger.Error().
			Err(err).
			Str("error_class", string(class)).
			Int("max_attempts", policy.MaxAttempts).
			Msg("Retry attempts exhausted")
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
