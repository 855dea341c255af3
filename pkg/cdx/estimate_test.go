package cdx

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/cdx-client/internal/testutil"
	"github.com/Sternrassler/cdx-client/pkg/client"
	"github.com/Sternrassler/cdx-client/pkg/records"
)

func TestPagesToSamples(t *testing.T) {
	tests := []struct {
		pages int
		want  int
	}{
		{pages: -1, want: 0},
		{pages: 0, want: 0},
		{pages: 1, want: 1500},
		{pages: 2, want: 3000},
		{pages: 5, want: 12000},
		{pages: 100, want: 297000},
	}

	for _, tt := range tests {
		if got := PagesToSamples(tt.pages); got != tt.want {
			t.Errorf("PagesToSamples(%d) = %d, want %d", tt.pages, got, tt.want)
		}
	}
}

func TestSizeEstimate(t *testing.T) {
	mock := testutil.NewMockCDX()
	defer mock.Close()

	pages := func(n int) [][]map[string]string {
		out := make([][]map[string]string, n)
		for i := range out {
			out[i] = testutil.Captures("x", 1)
		}
		return out
	}

	list := []string{
		mock.AddIndex("/pywb", &testutil.MockIndex{Pages: pages(3)}),
		mock.AddIndex("/wayback", &testutil.MockIndex{Pages: pages(2), BareNumPages: true}),
		mock.AddIndex("/gone", &testutil.MockIndex{Pages: pages(9), NumPagesStatus: http.StatusNotFound}),
		mock.AddIndex("/broken", &testutil.MockIndex{Pages: pages(9), NumPagesStatus: http.StatusInternalServerError}),
		mock.AddIndex("/denied", &testutil.MockIndex{Pages: pages(9), NumPagesStatus: http.StatusForbidden}),
	}
	f := newTestFetcher(t, list...)

	tests := []struct {
		name    string
		asPages bool
		want    int
	}{
		{name: "as pages", asPages: true, want: 5},
		{name: "as samples", asPages: false, want: 12000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.Reset()
			got, err := f.SizeEstimate(context.Background(), "example.com", tt.asPages, Params{MatchType: "domain", PageSize: 1})
			if err != nil {
				t.Fatalf("SizeEstimate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SizeEstimate() = %d, want %d", got, tt.want)
			}

			queries := mock.GetQueries()
			if len(queries) != len(list) {
				t.Fatalf("requests = %d, want %d", len(queries), len(list))
			}
			for _, q := range queries {
				if q.Get("showNumPages") != "true" || q.Get("matchType") != "domain" || q.Get("pageSize") != "1" {
					t.Errorf("query = %v", q)
				}
				if q.Has("output") || q.Has("page") {
					t.Errorf("size query should not ask for records: %v", q)
				}
			}
		})
	}
}

func TestSizeEstimate_NoPages(t *testing.T) {
	mock := testutil.NewMockCDX()
	defer mock.Close()
	f := newTestFetcher(t, mock.AddIndex("/empty", &testutil.MockIndex{}))

	got, err := f.SizeEstimate(context.Background(), "example.com", false, Params{})
	if err != nil {
		t.Fatalf("SizeEstimate() error = %v", err)
	}
	if got != 0 {
		t.Errorf("SizeEstimate() = %d, want 0", got)
	}
}

func TestSizeEstimate_InvalidQuery(t *testing.T) {
	mock := testutil.NewMockCDX()
	defer mock.Close()
	f := newTestFetcher(t, mock.AddIndex("/idx", &testutil.MockIndex{NumPagesStatus: http.StatusBadRequest}))

	_, err := f.SizeEstimate(context.Background(), "example.com", true, Params{})
	if !errors.Is(err, client.ErrInvalidQuery) {
		t.Errorf("SizeEstimate() error = %v, want ErrInvalidQuery", err)
	}
}

func TestSizeEstimate_UnavailableCountsAsZero(t *testing.T) {
	mock := testutil.NewMockCDX()
	defer mock.Close()
	f := newTestFetcher(t,
		mock.AddIndex("/down", &testutil.MockIndex{FailFirst: 10, FailStatus: http.StatusServiceUnavailable}),
		mock.AddIndex("/up", &testutil.MockIndex{Pages: [][]map[string]string{{}, {}}}),
	)

	got, err := f.SizeEstimate(context.Background(), "example.com", true, Params{})
	if err != nil {
		t.Fatalf("SizeEstimate() error = %v", err)
	}
	if got != 2 {
		t.Errorf("SizeEstimate() = %d, want 2", got)
	}
	// 3 attempts against /down, 1 against /up
	if mock.GetRequestCount() != 4 {
		t.Errorf("requests = %d, want 4", mock.GetRequestCount())
	}
}

func TestSizeEstimate_UnparseableCount(t *testing.T) {
	mock := testutil.NewMockCDX()
	defer mock.Close()
	mock.SetResponse("/odd", testutil.MockResponse{StatusCode: http.StatusOK, Body: `"many"`})
	f := newTestFetcher(t, mock.URL()+"/odd")

	_, err := f.SizeEstimate(context.Background(), "example.com", true, Params{})
	if !errors.Is(err, records.ErrDecode) {
		t.Errorf("SizeEstimate() error = %v, want ErrDecode", err)
	}
}

func TestSizeEstimate_CancelledContext(t *testing.T) {
	mock := testutil.NewMockCDX()
	defer mock.Close()
	f := newTestFetcher(t, mock.AddIndex("/idx", &testutil.MockIndex{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.SizeEstimate(ctx, "example.com", true, Params{}); err == nil {
		t.Error("SizeEstimate() with cancelled context should fail")
	}
}
