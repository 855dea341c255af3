package cache

import (
	"net/url"
)

// keyPrefix namespaces every cache key in Redis.
const keyPrefix = "cdx:"

// CacheKey represents a unique identifier for a cached index response.
type CacheKey struct {
	// Endpoint is the index URL (e.g., "https://index.commoncrawl.org/CC-MAIN-2024-10-index")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"url": "example.com/*", "page": "0"})
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: cdx:<endpoint>?<query encoded with url.Values.Encode>
//
// The endpoint is kept as given. The query part is sorted by key, escaped,
// and keeps repeated values (filter=) in order, so distinct requests never
// share a key.
//
// Example:
//
//	cdx:https://index.commoncrawl.org/CC-MAIN-2024-10-index?output=json&page=0&url=example.com%2F%2A
func (k CacheKey) String() string {
	key := keyPrefix + k.Endpoint
	if len(k.QueryParams) > 0 {
		key += "?" + k.QueryParams.Encode()
	}
	return key
}
