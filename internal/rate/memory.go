package rate

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter is the in-process Throttle backed by go-cache counters.
type MemoryLimiter struct {
	mu     sync.Mutex
	cache  *gocache.Cache
	config Config
}

// NewMemory creates an in-memory throttle.
func NewMemory(cfg Config) (*MemoryLimiter, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		cache:  gocache.New(cfg.Window, cfg.Window),
		config: cfg,
	}, nil
}

func (l *MemoryLimiter) Hit(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var count int64 = 1
	if err := l.cache.Add(key, count, l.config.Window); err != nil {
		n, incErr := l.cache.IncrementInt64(key, 1)
		if incErr != nil {
			// Expired between Add and Increment.
			l.cache.Set(key, count, l.config.Window)
		} else {
			count = n
		}
	}

	res := Result{Count: count, Allowed: count <= int64(l.config.MaxAttempts)}
	if !res.Allowed {
		if _, exp, ok := l.cache.GetWithExpiration(key); ok {
			res.RetryAfter = time.Until(exp)
		}
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Millisecond
		}
	}
	return res, nil
}
