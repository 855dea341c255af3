package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sternrassler/cdx-client/internal/config"
	"github.com/Sternrassler/cdx-client/internal/testutil"
	"github.com/alicebob/miniredis/v2"
)

// newTestServer starts a proxy in front of a mock index with two pages.
func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *testutil.MockCDX) {
	t.Helper()

	mock := testutil.NewMockCDX()
	t.Cleanup(mock.Close)
	src := mock.AddIndex("/cdx", &testutil.MockIndex{
		Pages: [][]map[string]string{
			testutil.Captures("example.com", 3),
			testutil.Captures("example.com/p1", 2),
		},
	})

	cfg := config.Default()
	cfg.Source = src
	cfg.RetryInterval = 0
	cfg.MaxAttempts = 2
	cfg.LogLevel = "disabled"
	if mutate != nil {
		mutate(&cfg)
	}

	srv, closeFn, err := newServer(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	t.Cleanup(closeFn)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, mock
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func countLines(t *testing.T, body string) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var rec map[string]string
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q is not a JSON record: %v", sc.Text(), err)
		}
		n++
	}
	return n
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got %q", w.Body.String())
	}
}

func TestReadyEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)

	ts, _ := newTestServer(t, func(c *config.Config) {
		c.RedisURL = "redis://" + mr.Addr()
	})

	if resp, _ := get(t, ts.URL+"/ready"); resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d, want 200", resp.StatusCode)
	}

	mr.Close()
	if resp, _ := get(t, ts.URL+"/ready"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready status with redis down = %d, want 503", resp.StatusCode)
	}
}

func TestReadyEndpoint_NoCache(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	if resp, body := get(t, ts.URL+"/ready"); resp.StatusCode != http.StatusOK || body != "OK" {
		t.Errorf("ready = %d %q, want 200 OK", resp.StatusCode, body)
	}
}

func TestQueryEndpoint(t *testing.T) {
	ts, mock := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/cdx/query?url=example.com/*&limit=2&fl=url,status&filter=status:200&collapse=urlkey")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}
	if n := countLines(t, body); n != 2 {
		t.Errorf("got %d records, want 2", n)
	}

	q := mock.GetQueries()[0]
	if q.Get("limit") != "2" || q.Get("fl") != "url,status" || q.Get("filter") != "status:200" {
		t.Errorf("forwarded query = %v", q)
	}
	if q.Get("collapse") != "urlkey" {
		t.Errorf("extra parameter not forwarded: %v", q)
	}
}

func TestIterEndpoint(t *testing.T) {
	ts, mock := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/cdx/iter?url=example.com/*")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if n := countLines(t, body); n != 5 {
		t.Errorf("got %d records, want 5", n)
	}

	// two pages plus the request that finds the end
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("upstream requests = %d, want 3", got)
	}
}

func TestIterEndpoint_Limit(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	_, body := get(t, ts.URL+"/cdx/iter?url=example.com/*&limit=4")
	if n := countLines(t, body); n != 4 {
		t.Errorf("got %d records, want 4", n)
	}
}

func TestSizeEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		query string
		want  int
	}{
		{query: "url=example.com&as_pages=true", want: 2},
		{query: "url=example.com", want: 3000},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, body := get(t, ts.URL+"/cdx/size?"+tt.query)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, body %s", resp.StatusCode, body)
			}
			var out struct {
				Size int `json:"size"`
			}
			if err := json.Unmarshal([]byte(body), &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Size != tt.want {
				t.Errorf("size = %d, want %d", out.Size, tt.want)
			}
		})
	}
}

func TestEndpointsEndpoint(t *testing.T) {
	ts, mock := newTestServer(t, nil)

	_, body := get(t, ts.URL+"/cdx/endpoints")
	var list []string
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0] != mock.URL()+"/cdx" {
		t.Errorf("endpoints = %v", list)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	get(t, ts.URL+"/cdx/query?url=example.com")
	resp, body := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "cdx_requests_total") {
		t.Error("metrics output missing cdx_requests_total")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		upstream   int
		path       string
		wantStatus int
	}{
		{name: "missing url", path: "/cdx/query", wantStatus: http.StatusBadRequest},
		{name: "bad limit", path: "/cdx/query?url=x&limit=many", wantStatus: http.StatusBadRequest},
		{name: "page while iterating", path: "/cdx/iter?url=x&page=1", wantStatus: http.StatusBadRequest},
		{name: "invalid query", upstream: http.StatusBadRequest, path: "/cdx/query?url=x", wantStatus: http.StatusBadRequest},
		{name: "server error", upstream: http.StatusInternalServerError, path: "/cdx/query?url=x", wantStatus: http.StatusBadGateway},
		{name: "retries exhausted", upstream: http.StatusServiceUnavailable, path: "/cdx/iter?url=x", wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockCDX()
			defer mock.Close()
			if tt.upstream != 0 {
				mock.SetResponse("/cdx", testutil.MockResponse{StatusCode: tt.upstream, Body: "nope"})
			}

			cfg := config.Default()
			cfg.Source = mock.URL() + "/cdx"
			cfg.RetryInterval = 0
			cfg.MaxAttempts = 2
			cfg.LogLevel = "disabled"

			srv, closeFn, err := newServer(context.Background(), &cfg)
			if err != nil {
				t.Fatalf("newServer() error = %v", err)
			}
			defer closeFn()

			req := httptest.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			srv.routes().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %q)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/cdx/query?url=%20example.com/*%20&from_ts=2020&to=2021&matchType=prefix&sort=reverse&filter=a&filter=b&fl=url,mime&pageSize=3&page=2&output=json&showNumPages=true&as_pages=1&collapse=digest", nil)

	pattern, p, err := parseQuery(req.URL.Query())
	if err != nil {
		t.Fatalf("parseQuery() error = %v", err)
	}

	if pattern != "example.com/*" {
		t.Errorf("pattern = %q", pattern)
	}
	if p.From != "2020" || p.To != "2021" || p.MatchType != "prefix" || p.Sort != "reverse" {
		t.Errorf("params = %+v", p)
	}
	if len(p.Filter) != 2 || len(p.Fields) != 2 || p.PageSize != 3 {
		t.Errorf("params = %+v", p)
	}
	if p.Page == nil || *p.Page != 2 {
		t.Errorf("page = %v, want 2", p.Page)
	}
	if len(p.Extra) != 1 || p.Extra.Get("collapse") != "digest" {
		t.Errorf("extra = %v, want only collapse", p.Extra)
	}
}
