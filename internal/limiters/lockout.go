package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds the sliding-window lockout policy.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
	KeyPrefix string
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Decision is the outcome of recording one failed attempt.
type Decision struct {
	Count      int
	Locked     bool
	RetryAfter time.Duration
}

// LockState describes whether an identifier is locked right now. RetryAfter is
// zero for an explicit lock without an end.
type LockState struct {
	Locked     bool
	Explicit   bool
	RetryAfter time.Duration
}

// Tracker records failed attempts per identifier and derives lock decisions
// from the attempts inside the trailing window.
type Tracker interface {
	RecordFailedAttempt(ctx context.Context, identifier string, at time.Time) (Decision, error)
	ShouldLock(ctx context.Context, identifier string, now time.Time) (bool, error)
	IsLocked(ctx context.Context, identifier string, now time.Time) (LockState, error)
	Lock(ctx context.Context, identifier string, until time.Time) error
	Unlock(ctx context.Context, identifier string) error
	Reset(ctx context.Context, identifier string) error
}

// ValidateLockoutConfig rejects policies that can never lock or never expire.
func ValidateLockoutConfig(cfg LockoutConfig) error {
	if cfg.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if cfg.Window <= 0 {
		return errors.New("lockout window must be > 0")
	}
	return nil
}

// retryAfter returns how long until the attempt at index len-threshold of the
// ascending timestamps leaves the window, which is when the count falls below
// the threshold.
func retryAfter(pivot, now time.Time, window time.Duration) time.Duration {
	d := pivot.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

const recordAttemptScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
local count = redis.call("ZCARD", KEYS[1])
local threshold = tonumber(ARGV[5])
if count >= threshold then
  local pivot = redis.call("ZRANGE", KEYS[1], count - threshold, count - threshold, "WITHSCORES")
  return {count, pivot[2]}
end
return {count, ""}
`

var recordAttemptLua = redis.NewScript(recordAttemptScript)

const lockStateScript = `
local explicit = redis.call("GET", KEYS[2]) or ""
local count = redis.call("ZCOUNT", KEYS[1], ARGV[1], "+inf")
local threshold = tonumber(ARGV[2])
if count >= threshold then
  local pivot = redis.call("ZRANGEBYSCORE", KEYS[1], ARGV[1], "+inf", "WITHSCORES", "LIMIT", count - threshold, 1)
  return {count, explicit, pivot[2]}
end
return {count, explicit, ""}
`

var lockStateLua = redis.NewScript(lockStateScript)

// RedisLockout keeps attempt timestamps in a sorted set per identifier and the
// explicit lock flag in a sibling string key. Every read-modify-write runs in
// one Lua script, so concurrent failures for the same identifier are
// linearizable.
type RedisLockout struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewRedisLockout creates a tracker. The config must pass
// ValidateLockoutConfig.
func NewRedisLockout(rdb redis.UniversalClient, cfg LockoutConfig) (*RedisLockout, error) {
	if err := ValidateLockoutConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "alo"
	}
	return &RedisLockout{redis: rdb, config: cfg}, nil
}

func (l *RedisLockout) attemptsKey(identifier string) string {
	return l.config.KeyPrefix + ":" + identifier
}

func (l *RedisLockout) lockKey(identifier string) string {
	return l.config.KeyPrefix + ":" + identifier + ":lock"
}

// cutoff is the exclusive lower score bound of the window ending at now.
func (l *RedisLockout) cutoff(now time.Time) int64 {
	return now.Add(-l.config.Window).UnixMilli()
}

// RecordFailedAttempt appends one attempt, prunes the expired ones and reports
// whether the count reached the threshold.
//
//	Performance: 1 EVALSHA.
func (l *RedisLockout) RecordFailedAttempt(ctx context.Context, identifier string, at time.Time) (Decision, error) {
	res, err := recordAttemptLua.Run(ctx, l.redis, []string{l.attemptsKey(identifier)},
		at.UnixMilli(),
		l.cutoff(at),
		strconv.FormatInt(at.UnixMilli(), 10)+"-"+uuid.NewString(),
		l.config.Window.Milliseconds(),
		l.config.Threshold,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}

	count, _ := res[0].(int64)
	d := Decision{Count: int(count)}
	if pivot, ok := parseScore(res[1]); ok {
		d.Locked = true
		d.RetryAfter = retryAfter(pivot, at, l.config.Window)
	}
	return d, nil
}

// ShouldLock reports whether the attempts inside the window meet the
// threshold. The explicit lock flag is not consulted.
func (l *RedisLockout) ShouldLock(ctx context.Context, identifier string, now time.Time) (bool, error) {
	count, err := l.redis.ZCount(ctx, l.attemptsKey(identifier), "("+strconv.FormatInt(l.cutoff(now), 10), "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return count >= int64(l.config.Threshold), nil
}

// IsLocked combines the explicit flag with the derived lock.
//
//	Performance: 1 EVALSHA, read-only.
func (l *RedisLockout) IsLocked(ctx context.Context, identifier string, now time.Time) (LockState, error) {
	res, err := lockStateLua.Run(ctx, l.redis,
		[]string{l.attemptsKey(identifier), l.lockKey(identifier)},
		"("+strconv.FormatInt(l.cutoff(now), 10),
		l.config.Threshold,
	).Slice()
	if err != nil {
		return LockState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 3 {
		return LockState{}, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}

	var st LockState
	if raw, _ := res[1].(string); raw != "" {
		until, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return LockState{}, fmt.Errorf("%w: corrupt lock flag", ErrLockoutUnavailable)
		}
		switch {
		case until == 0:
			st = LockState{Locked: true, Explicit: true}
		case time.UnixMilli(until).After(now):
			st = LockState{Locked: true, Explicit: true, RetryAfter: time.UnixMilli(until).Sub(now)}
		}
	}
	if pivot, ok := parseScore(res[2]); ok {
		derived := retryAfter(pivot, now, l.config.Window)
		if !st.Locked || (st.RetryAfter != 0 && derived > st.RetryAfter) {
			st.RetryAfter = derived
		}
		st.Locked = true
	}
	return st, nil
}

// Lock sets the explicit flag. A zero until locks until Unlock is called.
func (l *RedisLockout) Lock(ctx context.Context, identifier string, until time.Time) error {
	key := l.lockKey(identifier)
	var err error
	if until.IsZero() {
		err = l.redis.Set(ctx, key, 0, 0).Err()
	} else {
		_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, until.UnixMilli(), 0)
			pipe.PExpireAt(ctx, key, until)
			return nil
		})
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Unlock clears the explicit flag and the attempt history.
func (l *RedisLockout) Unlock(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.attemptsKey(identifier), l.lockKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Reset clears the attempt history only.
func (l *RedisLockout) Reset(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.attemptsKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func parseScore(v interface{}) (time.Time, bool) {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}
