package evalauth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/evalauth/password"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeIdentities struct {
	mu          sync.Mutex
	byID        map[int64]Identity
	lookupErr   error
	recordErr   error
	lookups     atomic.Int64
	loginWrites atomic.Int64
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{byID: map[int64]Identity{}}
}

func (f *fakeIdentities) add(ident Identity) {
	f.mu.Lock()
	f.byID[ident.ID] = ident
	f.mu.Unlock()
}

func (f *fakeIdentities) setActive(id int64, active bool) {
	f.mu.Lock()
	ident := f.byID[id]
	ident.Active = active
	f.byID[id] = ident
	f.mu.Unlock()
}

func (f *fakeIdentities) IdentityByEmail(_ context.Context, email string) (Identity, error) {
	f.lookups.Add(1)
	if f.lookupErr != nil {
		return Identity{}, f.lookupErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.byID {
		if strings.EqualFold(ident.Email, email) {
			return ident, nil
		}
	}
	return Identity{}, ErrIdentityNotFound
}

func (f *fakeIdentities) IdentityByID(_ context.Context, id int64) (Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return ident, nil
}

func (f *fakeIdentities) RecordLogin(_ context.Context, id int64, at time.Time) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.loginWrites.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	ident := f.byID[id]
	ident.LastLoginAt = at
	f.byID[id] = ident
	return nil
}

func (f *fakeIdentities) lastLogin(id int64) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].LastLoginAt
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningKey = testSigningKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func hashFor(t testing.TB, plaintext string) string {
	t.Helper()
	h, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	encoded, err := h.Hash(plaintext)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return encoded
}

// seedAx adds the a@x.com / secret123 identity used by most tests.
func seedAx(t testing.TB, ids *fakeIdentities) Identity {
	t.Helper()
	ident := Identity{
		ID:           1,
		Email:        "a@x.com",
		PasswordHash: hashFor(t, "secret123"),
		Active:       true,
		Roles:        []string{"member"},
	}
	ids.add(ident)
	return ident
}

type engineOption func(*Builder)

func buildTestEngine(t testing.TB, cfg Config, ids IdentityProvider, opts ...engineOption) *Engine {
	t.Helper()
	b := New().WithConfig(cfg).WithIdentityProvider(ids)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func withClock(c *testClock) engineOption {
	return func(b *Builder) { b.WithClock(c.Now) }
}

type countingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *countingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *countingSink) snapshot() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}
