package cache

import (
	"net/http"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when no expires header is present
	DefaultTTL = 24 * time.Hour
)

// NewEntry builds a CacheEntry from a fully read response. The body slice
// is copied so the caller may keep using its own.
func NewEntry(statusCode int, headers http.Header, body []byte, fallbackTTL time.Duration) *CacheEntry {
	data := make([]byte, len(body))
	copy(data, body)

	return &CacheEntry{
		Data:       data,
		StatusCode: statusCode,
		Headers:    headers.Clone(),
		CachedAt:   time.Now(),
		Expires:    parseExpires(headers, fallbackTTL),
	}
}

// parseExpires parses the Expires header from HTTP headers.
// Returns the parsed expiration time, or current time + fallback if parsing fails.
func parseExpires(headers http.Header, fallback time.Duration) time.Time {
	if fallback <= 0 {
		fallback = DefaultTTL
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return time.Now().Add(fallback)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return time.Now().Add(fallback)
	}

	// Already expired - use minimal TTL
	if expires.Before(time.Now()) {
		return time.Now()
	}

	return expires
}
