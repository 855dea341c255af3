// Package metrics exposes the Prometheus series of the CDX client.
// Series are registered via promauto in the packages that own them
// (client, cache, ratelimit, pagination); this package documents them and
// serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all CDX series are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an http.Handler serving every registered series in the
// Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - cdx_requests_total{endpoint, status} (Counter): Requests by index host+path and HTTP status ("cached", "network_error" for non-HTTP outcomes)
//   - cdx_request_duration_seconds{endpoint} (Histogram): Logical request duration, retries included
//   - cdx_errors_total{class} (Counter): Failed attempts by class (invalid_query, client, server, unavailable, network, transport)
//
// Retry Metrics (pkg/client):
//   - cdx_retries_total{error_class} (Counter): Retries by error class
//   - cdx_retry_backoff_seconds{error_class} (Histogram): Wait before each retry
//   - cdx_retry_exhausted_total{error_class} (Counter): Requests that hit the retry cap
//
// Pacing Metrics (pkg/ratelimit):
//   - cdx_rate_limit_waits_total (Counter): Requests delayed by the client-side pacer
//   - cdx_rate_limit_wait_seconds (Histogram): Time spent waiting for the pacer
//
// Cache Metrics (pkg/cache):
//   - cdx_cache_hits_total{layer="redis"} (Counter): Response cache hits
//   - cdx_cache_misses_total (Counter): Response cache misses
//   - cdx_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - cdx_cache_errors_total{operation} (Counter): Cache get/set/delete errors
//
// Iteration Metrics (pkg/pagination):
//   - cdx_pages_fetched_total{outcome} (Counter): Pages fetched by iterators (items, empty, exceeded, error)
//   - cdx_records_yielded_total (Counter): Records handed to consumers
//   - cdx_endpoints_exhausted_total (Counter): Endpoints walked to their last page
//
// Example Prometheus Queries:
//
//   # Share of requests answered 503 by the index servers
//   sum(rate(cdx_requests_total{status="503"}[5m])) / sum(rate(cdx_requests_total[5m]))
//
//   # Cache Hit Rate
//   sum(rate(cdx_cache_hits_total[5m])) /
//   (sum(rate(cdx_cache_hits_total[5m])) + sum(rate(cdx_cache_misses_total[5m])))
//
//   # Empty page ratio during iteration
//   rate(cdx_pages_fetched_total{outcome="empty"}[5m]) / rate(cdx_pages_fetched_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(cdx_request_duration_seconds_bucket[5m]))
