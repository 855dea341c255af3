package cache

import (
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "endpoint without params",
			key: CacheKey{
				Endpoint: "https://index.commoncrawl.org/collinfo.json",
			},
			want: "cdx:https://index.commoncrawl.org/collinfo.json",
		},
		{
			name: "trailing slash kept",
			key: CacheKey{
				Endpoint: "https://web.archive.org/cdx/search/cdx/",
			},
			want: "cdx:https://web.archive.org/cdx/search/cdx/",
		},
		{
			name: "query params sorted and escaped",
			key: CacheKey{
				Endpoint: "https://index.commoncrawl.org/CC-MAIN-2024-10-index",
				QueryParams: url.Values{
					"url":    []string{"example.com/*"},
					"output": []string{"json"},
					"page":   []string{"3"},
				},
			},
			want: "cdx:https://index.commoncrawl.org/CC-MAIN-2024-10-index?output=json&page=3&url=example.com%2F%2A",
		},
		{
			name: "repeated filter values kept in order",
			key: CacheKey{
				Endpoint: "https://web.archive.org/cdx/search/cdx",
				QueryParams: url.Values{
					"filter": []string{"status:200", "!mime:text/html"},
				},
			},
			want: "cdx:https://web.archive.org/cdx/search/cdx?filter=status%3A200&filter=%21mime%3Atext%2Fhtml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("CacheKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCacheKey_Determinism ensures same input always produces same key
func TestCacheKey_Determinism(t *testing.T) {
	key := CacheKey{
		Endpoint: "https://index.commoncrawl.org/CC-MAIN-2024-10-index",
		QueryParams: url.Values{
			"url":      []string{"example.com/*"},
			"limit":    []string{"100"},
			"page":     []string{"0"},
			"output":   []string{"json"},
			"pageSize": []string{"5"},
		},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Errorf("iteration %d: %v, want %v (not deterministic)", i, got, first)
		}
	}
}

func TestCacheKey_DistinctQueries(t *testing.T) {
	endpoint := "https://web.archive.org/cdx/search/cdx"
	tests := []struct {
		name string
		a, b CacheKey
	}{
		{
			name: "one filter containing a comma vs two filters",
			a:    CacheKey{Endpoint: endpoint, QueryParams: url.Values{"filter": {"a,b"}}},
			b:    CacheKey{Endpoint: endpoint, QueryParams: url.Values{"filter": {"a", "b"}}},
		},
		{
			name: "separator inside a value",
			a:    CacheKey{Endpoint: endpoint, QueryParams: url.Values{"url": {"a:fl=x"}}},
			b:    CacheKey{Endpoint: endpoint, QueryParams: url.Values{"url": {"a"}, "fl": {"x"}}},
		},
		{
			name: "filter order",
			a:    CacheKey{Endpoint: endpoint, QueryParams: url.Values{"filter": {"a", "b"}}},
			b:    CacheKey{Endpoint: endpoint, QueryParams: url.Values{"filter": {"b", "a"}}},
		},
		{
			name: "trailing slash on endpoint",
			a:    CacheKey{Endpoint: endpoint},
			b:    CacheKey{Endpoint: endpoint + "/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.a.String() == tt.b.String() {
				t.Errorf("distinct requests share key %q", tt.a.String())
			}
		})
	}
}
