// Package ratelimit paces outgoing index requests on the client side.
//
// The public index servers ask clients to be polite and answer 503 when
// they are not. Pacing requests before they are sent keeps a long
// iteration from spending most of its time in retry backoff.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	cdxRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdx_rate_limit_waits_total",
		Help: "Total number of requests delayed by the client-side pacer",
	})

	cdxRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdx_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting in the client-side pacer",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// minLoggedWait is the shortest wait worth counting as a throttle.
const minLoggedWait = time.Millisecond

// Limiter gates requests to a fixed rate. A nil *Limiter allows everything.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewLimiter creates a limiter allowing requestsPerSecond with the given
// burst. It returns nil when requestsPerSecond <= 0 (pacing disabled).
func NewLimiter(requestsPerSecond float64, burst int, logger zerolog.Logger) *Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		logger:  logger,
	}
}

// Wait blocks until the next request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if waited := time.Since(start); waited >= minLoggedWait {
		cdxRateLimitWaitsTotal.Inc()
		cdxRateLimitWaitSeconds.Observe(waited.Seconds())
		l.logger.Debug().
			Dur("wait_duration", waited).
			Msg("Request paced by rate limiter")
	}
	return nil
}

// Limit returns the configured requests per second, or 0 when disabled.
func (l *Limiter) Limit() float64 {
	if l == nil {
		return 0
	}
	return float64(l.limiter.Limit())
}
