// Package testutil provides testing utilities for the CDX client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockIndex is one paginated CDX index served by MockCDX.
type MockIndex struct {
	// Pages holds the records of each page, in order.
	Pages [][]map[string]string

	// Table switches the wire shape from JSON lines to a header row
	// followed by value rows.
	Table bool

	// NumPagesStatus, when set, is returned for showNumPages requests
	// instead of a page count.
	NumPagesStatus int

	// BareNumPages answers showNumPages with a bare integer, the way the
	// Wayback Machine does, instead of a {"blocks": N} object.
	BareNumPages bool

	// FailFirst makes the first FailFirst requests answer FailStatus.
	FailFirst  int
	FailStatus int

	failed int
}

// MockCDX is a configurable mock CDX index server for testing.
type MockCDX struct {
	server   *httptest.Server
	mu       sync.RWMutex
	indexes  map[string]*MockIndex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	Queries      []url.Values
	LastHeader   http.Header
}

// NewMockCDX creates a new mock CDX server.
func NewMockCDX() *MockCDX {
	mock := &MockCDX{
		indexes:  make(map[string]*MockIndex),
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.Queries = append(mock.Queries, r.URL.Query())
		mock.LastHeader = r.Header.Clone()
		handler, hasHandler := mock.handlers[r.URL.Path]
		index, hasIndex := mock.indexes[r.URL.Path]
		mock.mu.Unlock()

		switch {
		case hasHandler:
			handler(w, r)
		case hasIndex:
			mock.serveIndex(w, r, index)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCDX) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCDX) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockCDX) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Queries = nil
	m.LastHeader = nil
}

// AddIndex serves index at path and returns its full URL.
func (m *MockCDX) AddIndex(path string, index *MockIndex) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[path] = index
	return m.server.URL + path
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCDX) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockCDX) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// SetCollInfo serves /collinfo.json listing crawlIDs. Each crawl's cdx-api
// points back at this server under /<id>-index.
func (m *MockCDX) SetCollInfo(crawlIDs []string) {
	type coll struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		CDXAPI string `json:"cdx-api"`
	}
	colls := make([]coll, 0, len(crawlIDs))
	for _, id := range crawlIDs {
		colls = append(colls, coll{ID: id, Name: id, CDXAPI: m.CrawlURL(id)})
	}
	body, _ := json.Marshal(colls)
	m.SetResponse("/collinfo.json", MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// CrawlURL returns the index URL SetCollInfo advertises for crawlID.
func (m *MockCDX) CrawlURL(crawlID string) string {
	return m.server.URL + "/" + crawlID + "-index"
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCDX) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetQueries returns a copy of every query received so far.
func (m *MockCDX) GetQueries() []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]url.Values(nil), m.Queries...)
}

// serveIndex answers like a pywb CDX server: showNumPages returns the page
// count, a page past the end is a 400, and no page means the first page.
func (m *MockCDX) serveIndex(w http.ResponseWriter, r *http.Request, index *MockIndex) {
	q := r.URL.Query()

	m.mu.Lock()
	if index.failed < index.FailFirst {
		index.failed++
		m.mu.Unlock()
		w.WriteHeader(index.FailStatus)
		return
	}
	m.mu.Unlock()

	if q.Get("url") == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	if q.Get("showNumPages") == "true" {
		if index.NumPagesStatus != 0 {
			w.WriteHeader(index.NumPagesStatus)
			return
		}
		if index.BareNumPages {
			_, _ = fmt.Fprintf(w, "%d\n", len(index.Pages))
			return
		}
		_, _ = fmt.Fprintf(w, `{"pages": %d, "pageSize": 5, "blocks": %d}`+"\n", len(index.Pages), len(index.Pages))
		return
	}

	page := 0
	if q.Has("page") {
		p, err := strconv.Atoi(q.Get("page"))
		if err != nil {
			http.Error(w, "bad page", http.StatusBadRequest)
			return
		}
		page = p
	}

	if page >= len(index.Pages) {
		if q.Has("page") {
			http.Error(w, fmt.Sprintf("Page %d invalid: First Page is 0, Last Page is %d", page, len(index.Pages)-1), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	recs := index.Pages[page]
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit >= 0 && limit < len(recs) {
		recs = recs[:limit]
	}

	w.Header().Set("Content-Type", "text/x-ndjson")
	if index.Table {
		_, _ = w.Write(EncodeTable(recs))
		return
	}
	_, _ = w.Write(EncodeLines(recs))
}

// EncodeLines renders records as newline-delimited JSON objects.
func EncodeLines(recs []map[string]string) []byte {
	var b strings.Builder
	for _, rec := range recs {
		line, _ := json.Marshal(rec)
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// EncodeTable renders records as a JSON array whose first row holds the
// sorted field names.
func EncodeTable(recs []map[string]string) []byte {
	if len(recs) == 0 {
		return []byte("[]")
	}

	fieldSet := make(map[string]struct{})
	for _, rec := range recs {
		for k := range rec {
			fieldSet[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	rows := [][]string{fields}
	for _, rec := range recs {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = rec[f]
		}
		rows = append(rows, row)
	}
	body, _ := json.Marshal(rows)
	return body
}

// Captures builds n records for urlPrefix with increasing timestamps.
func Captures(urlPrefix string, n int) []map[string]string {
	recs := make([]map[string]string, n)
	for i := range recs {
		recs[i] = map[string]string{
			"url":       fmt.Sprintf("%s/%d", urlPrefix, i),
			"timestamp": fmt.Sprintf("2024010100%04d", i),
			"status":    "200",
		}
	}
	return recs
}
