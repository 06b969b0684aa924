package evalauth

import (
	"context"
	"time"
)

// HealthStatus is an on-demand backend health result. Redis fields are only
// meaningful when RedisConfigured is true.
type HealthStatus struct {
	RedisConfigured bool
	RedisAvailable  bool
	RedisLatency    time.Duration
}

// Healthy reports whether every configured backend answered.
func (h HealthStatus) Healthy() bool {
	return !h.RedisConfigured || h.RedisAvailable
}

// Health pings the shared backend. Engines built without Redis are always
// healthy.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.redis == nil {
		return HealthStatus{}
	}

	start := time.Now()
	err := e.redis.Ping(ctx).Err()
	return HealthStatus{
		RedisConfigured: true,
		RedisAvailable:  err == nil,
		RedisLatency:    time.Since(start),
	}
}
