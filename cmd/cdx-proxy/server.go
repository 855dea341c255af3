package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/cdx-client/pkg/cache"
	"github.com/Sternrassler/cdx-client/pkg/cdx"
	"github.com/Sternrassler/cdx-client/pkg/client"
	"github.com/Sternrassler/cdx-client/pkg/metrics"
	"github.com/rs/zerolog"
)

// readyTimeout bounds the readiness probe's Redis ping.
const readyTimeout = 2 * time.Second

// reservedKeys are consumed by the proxy and never forwarded upstream.
var reservedKeys = map[string]bool{
	"url": true, "output": true, "showNumPages": true, "as_pages": true,
	"from": true, "from_ts": true, "to": true, "matchType": true, "limit": true,
	"sort": true, "closest": true, "filter": true, "fl": true, "pageSize": true,
	"page": true,
}

type server struct {
	fetcher *cdx.Fetcher
	cache   *cache.Manager
	logger  zerolog.Logger
}

// routes builds the proxy's handler.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /cdx/query", s.queryHandler)
	mux.HandleFunc("GET /cdx/iter", s.iterHandler)
	mux.HandleFunc("GET /cdx/size", s.sizeHandler)
	mux.HandleFunc("GET /cdx/endpoints", s.endpointsHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while the response cache is unreachable.
func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.cache.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// queryHandler answers with a bounded list of records as JSON lines.
func (s *server) queryHandler(w http.ResponseWriter, r *http.Request) {
	pattern, p, err := parseQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	recs, err := s.fetcher.Get(r.Context(), pattern, p)
	if err != nil {
		s.writeError(w, pattern, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write response")
			return
		}
	}
}

// iterHandler streams every page of every endpoint. Errors after the
// first record cannot change the status, so they end the stream early
// and are logged.
func (s *server) iterHandler(w http.ResponseWriter, r *http.Request) {
	pattern, p, err := parseQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	it, err := s.fetcher.Items(pattern, p)
	if err != nil {
		s.writeError(w, pattern, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	written := 0
	for it.Next(r.Context()) {
		if written == 0 {
			w.Header().Set("Content-Type", "application/x-ndjson")
		}
		if err := enc.Encode(it.Item()); err != nil {
			s.logger.Warn().Err(err).Msg("Client went away during iteration")
			return
		}
		written++
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := it.Err(); err != nil {
		if written == 0 {
			s.writeError(w, pattern, err)
			return
		}
		s.logger.Error().
			Err(err).
			Str("url", pattern).
			Int("records", written).
			Interface("cursor", it.Cursor()).
			Msg("Iteration aborted mid-stream")
	}
}

func (s *server) sizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pattern, p, err := parseQuery(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	asPages, _ := strconv.ParseBool(q.Get("as_pages"))

	n, err := s.fetcher.SizeEstimate(r.Context(), pattern, asPages, p)
	if err != nil {
		s.writeError(w, pattern, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"url":      pattern,
		"as_pages": asPages,
		"size":     n,
	})
}

func (s *server) endpointsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.fetcher.Endpoints())
}

// writeError maps client errors to proxy status codes.
func (s *server) writeError(w http.ResponseWriter, pattern string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, client.ErrInvalidQuery), errors.Is(err, cdx.ErrPageReserved), errors.Is(err, cdx.ErrInvalidLimit):
		status = http.StatusBadRequest
	case errors.Is(err, client.ErrContextCancelled), errors.Is(err, context.Canceled):
		// client disconnected; nobody reads the status
		status = http.StatusGatewayTimeout
	case errors.Is(err, client.ErrRetryExhausted):
		status = http.StatusServiceUnavailable
	}

	s.logger.Error().
		Err(err).
		Str("url", pattern).
		Int("status", status).
		Msg("CDX request failed")
	http.Error(w, fmt.Sprintf("CDX request failed: %v", err), status)
}

// parseQuery turns proxy query parameters into a pattern and Params.
// Unknown keys are forwarded to the index unchanged.
func parseQuery(q url.Values) (string, cdx.Params, error) {
	pattern := strings.TrimSpace(q.Get("url"))
	if pattern == "" {
		return "", cdx.Params{}, errors.New("url parameter is required")
	}

	p := cdx.Params{
		From:      firstOf(q, "from", "from_ts"),
		To:        q.Get("to"),
		MatchType: q.Get("matchType"),
		Sort:      q.Get("sort"),
		Closest:   q.Get("closest"),
		Filter:    q["filter"],
	}
	if fl := q.Get("fl"); fl != "" {
		p.Fields = strings.Split(fl, ",")
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"limit", &p.Limit},
		{"pageSize", &p.PageSize},
	}
	for _, i := range ints {
		if !q.Has(i.key) {
			continue
		}
		n, err := strconv.Atoi(q.Get(i.key))
		if err != nil || n < 0 {
			return "", cdx.Params{}, fmt.Errorf("%s must be a non-negative integer", i.key)
		}
		*i.dst = n
	}

	if q.Has("page") {
		page, err := strconv.Atoi(q.Get("page"))
		if err != nil || page < 0 {
			return "", cdx.Params{}, errors.New("page must be a non-negative integer")
		}
		p.Page = &page
	}

	for k, v := range q {
		if reservedKeys[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = url.Values{}
		}
		p.Extra[k] = v
	}

	return pattern, p, nil
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}
