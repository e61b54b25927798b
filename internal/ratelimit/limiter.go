// Package ratelimit bounds inbound request rates per source address.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creatorpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyWebhookSource = "ratelimit:webhook:%s"

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

// NewLimiter picks the configured backend. It returns nil when rate limiting
// is disabled. The redis backend falls back to memory when no client exists.
func NewLimiter(p Params) (Limiter, error) {
	cfg := p.Cfg.RateLimit
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Requests <= 0 || cfg.WindowSeconds <= 0 {
		return nil, fmt.Errorf("webhook rate limit requests and window must be positive")
	}
	window := time.Duration(cfg.WindowSeconds) * time.Second

	if cfg.Backend == config.RateLimitBackendRedis {
		if p.Client != nil {
			return NewRedisLimiter(p.Client, cfg.Requests, window), nil
		}
		p.Log.Warn("redis rate limit backend requested without REDIS_ADDR, using memory")
	}
	return NewMemoryLimiter(cfg.Requests, window, nil), nil
}

// RedisLimiter adapts TokenBucket: burst is the request budget and the
// refill rate spreads it over the window.
type RedisLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewRedisLimiter(client *redis.Client, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		bucket: NewTokenBucket(client),
		rate:   float64(requests) / window.Seconds(),
		burst:  requests,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookSource, strings.TrimSpace(key)), l.rate, l.burst)
}
