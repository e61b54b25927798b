package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/smallbiznis/creatorpay/internal/clock"
)

const memoryLimiterKeys = 10000

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a per-process fixed window counter. Idle keys age out of
// the LRU after one window.
type MemoryLimiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	limit    int
	interval time.Duration
	windows  *expirable.LRU[string, *window]
}

func NewMemoryLimiter(limit int, interval time.Duration, clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryLimiter{
		clock:    clk,
		limit:    limit,
		interval: interval,
		windows:  expirable.NewLRU[string, *window](memoryLimiterKeys, nil, interval),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, errors.New("rate limiter key is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows.Get(key)
	if !ok || !now.Before(w.start.Add(l.interval)) {
		w = &window{start: now}
		l.windows.Add(key, w)
	}

	if w.count >= l.limit {
		return Result{
			Allowed:    false,
			Limit:      l.limit,
			RetryAfter: w.start.Add(l.interval).Sub(now),
		}, nil
	}
	w.count++
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - w.count,
	}, nil
}
