package config

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/cdx-client/pkg/cache"
	"github.com/Sternrassler/cdx-client/pkg/cdx"
	"github.com/Sternrassler/cdx-client/pkg/client"
	"github.com/Sternrassler/cdx-client/pkg/endpoints"
	"github.com/Sternrassler/cdx-client/pkg/logging"
	"github.com/Sternrassler/cdx-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

// redisPingTimeout bounds the connectivity check at startup.
const redisPingTimeout = 5 * time.Second

// NewClient builds the HTTP client, connecting to Redis when RedisURL is
// set. The returned close function releases both.
func (c *Config) NewClient(ctx context.Context) (*client.Client, func(), error) {
	cc := client.DefaultConfig()
	cc.UserAgent = c.UserAgent
	cc.Timeout = c.Timeout
	cc.Retry = c.RetryPolicy()
	cc.Limiter = ratelimit.NewLimiter(c.RequestsPerSecond, c.Burst, logging.NewLogger("cdx-ratelimit"))

	var redisClient *redis.Client
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		cc.Cache = cache.NewManager(redisClient, c.CacheTTL)
	}

	cl, err := client.New(cc)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, nil, err
	}

	closeFn := func() {
		_ = cl.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
	return cl, closeFn, nil
}

// FetcherConfig returns the endpoint selection for cdx.NewFetcher.
func (c *Config) FetcherConfig() cdx.Config {
	return cdx.Config{
		Source:      endpoints.Source(c.Source),
		CCDuration:  c.CCDuration,
		CCSort:      endpoints.Sort(c.CCSort),
		CollInfoURL: c.CollInfoURL,
	}
}
