package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Hash fields of a stored entry. The body is kept as a raw field so large
// index pages are not re-encoded.
const (
	fieldStatus   = "status"
	fieldHeaders  = "headers"
	fieldBody     = "body"
	fieldExpires  = "expires"
	fieldCachedAt = "cached_at"
)

// scanBatch is the SCAN COUNT hint used by Purge.
const scanBatch = 500

// Manager stores index responses in Redis, one hash per CacheKey.
type Manager struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewManager creates a new cache manager with Redis backend.
// defaultTTL applies to responses without an Expires header; zero means DefaultTTL.
func NewManager(redisClient *redis.Client, defaultTTL time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Manager{
		redis:      redisClient,
		defaultTTL: defaultTTL,
	}
}

// DefaultTTL returns the TTL used for responses without an Expires header.
func (m *Manager) DefaultTTL() time.Duration {
	return m.defaultTTL
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	fields, err := m.redis.HGetAll(ctx, key.String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		if isWrongType(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	entry, err := decodeEntry(fields)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	return entry, nil
}

// Set stores an entry until its Expires time. Entries that are already
// expired are dropped silently.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal headers: %w", err)
	}

	redisKey := key.String()
	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey)
		pipe.HSet(ctx, redisKey,
			fieldStatus, entry.StatusCode,
			fieldHeaders, headers,
			fieldBody, entry.Data,
			fieldExpires, entry.Expires.UnixNano(),
			fieldCachedAt, entry.CachedAt.UnixNano(),
		)
		pipe.PExpire(ctx, redisKey, ttl)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.WithLabelValues("redis").Add(float64(len(entry.Data) + len(headers)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge removes every entry cached for endpoint, whatever its query, and
// returns the number of keys removed.
func (m *Manager) Purge(ctx context.Context, endpoint string) (int, error) {
	base := CacheKey{Endpoint: endpoint}.String()
	match := escapeGlob(base) + "*"

	removed := 0
	var cursor uint64
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			CacheErrors.WithLabelValues("purge").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}

		// The glob also matches longer endpoint names sharing the prefix.
		owned := keys[:0]
		for _, k := range keys {
			if k == base || strings.HasPrefix(k, base+"?") {
				owned = append(owned, k)
			}
		}
		if len(owned) > 0 {
			n, err := m.redis.Unlink(ctx, owned...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("purge").Inc()
				return removed, fmt.Errorf("redis unlink: %w", err)
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Ping checks that Redis is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func decodeEntry(fields map[string]string) (*CacheEntry, error) {
	status, err := strconv.Atoi(fields[fieldStatus])
	if err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrInvalidEntry, err)
	}
	expires, err := strconv.ParseInt(fields[fieldExpires], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expires: %v", ErrInvalidEntry, err)
	}
	cachedAt, err := strconv.ParseInt(fields[fieldCachedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: cached_at: %v", ErrInvalidEntry, err)
	}

	entry := &CacheEntry{
		Data:       []byte(fields[fieldBody]),
		StatusCode: status,
		Expires:    time.Unix(0, expires),
		CachedAt:   time.Unix(0, cachedAt),
	}
	if h := fields[fieldHeaders]; h != "" && h != "null" {
		if err := json.Unmarshal([]byte(h), &entry.Headers); err != nil {
			return nil, fmt.Errorf("%w: headers: %v", ErrInvalidEntry, err)
		}
	}
	return entry, nil
}

func isWrongType(err error) bool {
	return strings.HasPrefix(err.Error(), "WRONGTYPE")
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
