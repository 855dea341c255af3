// Package cache provides a Redis-backed response cache for CDX index queries.
//
// Index pages for finished Common Crawl crawls never change, and the
// collinfo.json crawl listing changes at most a few times a month, so the
// client can answer repeated queries from Redis instead of the index
// servers.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	key := cache.CacheKey{
//		Endpoint:    "https://index.commoncrawl.org/CC-MAIN-2024-10-index",
//		QueryParams: url.Values{"url": []string{"example.com/*"}, "page": []string{"0"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - query the index server
//	}
//
// # Storage
//
// Each entry is a Redis hash (status, headers, body, expires, cached_at)
// under the key's String form, so a page body is stored as-is rather than
// base64 inside a JSON document. Purge drops all keys of one endpoint,
// e.g. after a crawl index was rebuilt.
//
// # Expiry
//
// Entries expire at the time given by the response's Expires header, or
// after the manager's fallback TTL when the server sends none.
//
// # Metrics
//
//   - cdx_cache_hits_total{layer="redis"} - Cache hits
//   - cdx_cache_misses_total - Cache misses
//   - cdx_cache_size_bytes{layer="redis"} - Bytes written to the cache
//   - cdx_cache_errors_total{operation} - Cache operation errors (get, set, delete, purge)
package cache
