package limiters

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryEntry struct {
	attempts    []time.Time
	locked      bool
	lockedUntil time.Time
}

// MemoryLockout is the in-process Tracker. One mutex serializes all
// identifiers; go-cache drops idle entries after the window.
type MemoryLockout struct {
	mu     sync.Mutex
	cache  *gocache.Cache
	config LockoutConfig
}

// NewMemoryLockout creates an in-memory tracker.
func NewMemoryLockout(cfg LockoutConfig) (*MemoryLockout, error) {
	if err := ValidateLockoutConfig(cfg); err != nil {
		return nil, err
	}
	return &MemoryLockout{
		cache:  gocache.New(gocache.NoExpiration, cfg.Window),
		config: cfg,
	}, nil
}

func (l *MemoryLockout) entry(identifier string) *memoryEntry {
	if v, ok := l.cache.Get(identifier); ok {
		return v.(*memoryEntry)
	}
	return &memoryEntry{}
}

// store keeps e alive at least for the window and for as long as an explicit
// lock lasts. Only an indefinite lock keeps the entry forever. go-cache
// evicts on the wall clock.
func (l *MemoryLockout) store(identifier string, e *memoryEntry) {
	ttl := l.config.Window
	if e.locked {
		if e.lockedUntil.IsZero() {
			ttl = gocache.NoExpiration
		} else if d := time.Until(e.lockedUntil); d > ttl {
			ttl = d
		}
	}
	l.cache.Set(identifier, e, ttl)
}

// expireLock clears an explicit lock whose end has passed and reports
// whether it did.
func expireLock(e *memoryEntry, now time.Time) bool {
	if !e.locked || e.lockedUntil.IsZero() || e.lockedUntil.After(now) {
		return false
	}
	e.locked = false
	e.lockedUntil = time.Time{}
	return true
}

func (l *MemoryLockout) inWindow(e *memoryEntry, now time.Time) []time.Time {
	cutoff := now.Add(-l.config.Window)
	kept := e.attempts[:0]
	for _, ts := range e.attempts {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (l *MemoryLockout) derived(attempts []time.Time, now time.Time) (bool, time.Duration) {
	if len(attempts) < l.config.Threshold {
		return false, 0
	}
	sorted := append([]time.Time(nil), attempts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return true, retryAfter(sorted[len(sorted)-l.config.Threshold], now, l.config.Window)
}

func (l *MemoryLockout) RecordFailedAttempt(_ context.Context, identifier string, at time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(identifier)
	expireLock(e, at)
	e.attempts = append(l.inWindow(e, at), at)
	l.store(identifier, e)

	locked, retry := l.derived(e.attempts, at)
	return Decision{Count: len(e.attempts), Locked: locked, RetryAfter: retry}, nil
}

func (l *MemoryLockout) ShouldLock(_ context.Context, identifier string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(identifier)
	e.attempts = l.inWindow(e, now)
	return len(e.attempts) >= l.config.Threshold, nil
}

func (l *MemoryLockout) IsLocked(_ context.Context, identifier string, now time.Time) (LockState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(identifier)
	e.attempts = l.inWindow(e, now)
	if expireLock(e, now) {
		if len(e.attempts) == 0 {
			l.cache.Delete(identifier)
		} else {
			l.store(identifier, e)
		}
	}

	var st LockState
	if e.locked {
		st = LockState{Locked: true, Explicit: true}
		if !e.lockedUntil.IsZero() {
			st.RetryAfter = e.lockedUntil.Sub(now)
		}
	}

	if locked, retry := l.derived(e.attempts, now); locked {
		if !st.Locked || (st.RetryAfter != 0 && retry > st.RetryAfter) {
			st.RetryAfter = retry
		}
		st.Locked = true
	}
	return st, nil
}

func (l *MemoryLockout) Lock(_ context.Context, identifier string, until time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(identifier)
	e.locked = true
	e.lockedUntil = until
	l.store(identifier, e)
	return nil
}

func (l *MemoryLockout) Unlock(_ context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Delete(identifier)
	return nil
}

func (l *MemoryLockout) Reset(_ context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(identifier)
	if !e.locked {
		l.cache.Delete(identifier)
		return nil
	}
	e.attempts = nil
	l.store(identifier, e)
	return nil
}
