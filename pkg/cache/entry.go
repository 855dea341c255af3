package cache

import (
	"net/http"
	"time"
)

// CacheEntry is one cached index response. Manager stores each field
// under its own hash field.
type CacheEntry struct {
	Data       []byte
	StatusCode int
	Headers    http.Header

	// Expires is when the entry becomes stale; Redis drops the key then.
	Expires  time.Time
	CachedAt time.Time
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
