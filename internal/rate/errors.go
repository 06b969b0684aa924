package rate

import "errors"

var (
	// ErrRateLimited reports a key over its budget in the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
