package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the throttle budget.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	KeyPrefix   string
}

// Result of one Hit. RetryAfter is set only when Allowed is false.
type Result struct {
	Count      int64
	Allowed    bool
	RetryAfter time.Duration
}

// Throttle counts hits per key in fixed windows.
type Throttle interface {
	Hit(ctx context.Context, key string) (Result, error)
}

func validate(cfg Config) error {
	if cfg.MaxAttempts < 1 {
		return errors.New("throttle max attempts must be >= 1")
	}
	if cfg.Window <= 0 {
		return errors.New("throttle window must be > 0")
	}
	return nil
}

// Limiter is the Redis-backed Throttle.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Redis [Limiter].
func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "alt"
	}
	return &Limiter{redis: redisClient, config: cfg}, nil
}

func (l *Limiter) key(k string) string {
	return l.config.KeyPrefix + ":" + k
}

// Hit records one attempt for key and reports whether it is within budget.
//
//	Performance: 1 INCR, plus 1 PEXPIRE on the first hit and 1 PTTL when over budget.
func (l *Limiter) Hit(ctx context.Context, key string) (Result, error) {
	k := l.key(key)
	count, err := l.incrementWithTTL(ctx, k, l.config.Window)
	if err != nil {
		return Result{}, err
	}
	res := Result{Count: count, Allowed: count <= int64(l.config.MaxAttempts)}
	if res.Allowed {
		return res, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		// Key without expiry: a previous PEXPIRE was lost. Re-arm it.
		if err := l.redis.PExpire(ctx, k, l.config.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		ttl = l.config.Window
	}
	res.RetryAfter = ttl
	return res, nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.PExpire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
