package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store. Records are evicted by go-cache once
// they expire; the mutex makes Revoke a single read-modify-write.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
	now   func() time.Time
}

// NewMemoryStore returns an empty store. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
		now:   now,
	}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.TokenID == "" {
		return errors.New("refresh: empty token id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Add(rec.TokenID, rec, s.ttl(rec)); err != nil {
		return ErrDuplicate
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tokenID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(tokenID)
	if !ok {
		return Record{}, ErrNotFound
	}
	return v.(Record), nil
}

func (s *MemoryStore) Revoke(_ context.Context, tokenID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(tokenID)
	if !ok {
		return false, nil
	}
	rec := v.(Record)
	if rec.State(at) != StateActive {
		return false, nil
	}
	rec.RevokedAt = &at
	s.cache.Set(tokenID, rec, s.ttl(rec))
	return true, nil
}

// RevokeAll revokes every active record of identityID.
func (s *MemoryStore) RevokeAll(_ context.Context, identityID int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, item := range s.cache.Items() {
		rec, ok := item.Object.(Record)
		if !ok || rec.IdentityID != identityID || rec.State(at) != StateActive {
			continue
		}
		rec.RevokedAt = &at
		s.cache.Set(id, rec, s.ttl(rec))
		n++
	}
	return n, nil
}

// ttl keeps a record until its expiry on the store's clock.
func (s *MemoryStore) ttl(rec Record) time.Duration {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	return ttl
}

// Len reports the number of records held, including revoked ones.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
