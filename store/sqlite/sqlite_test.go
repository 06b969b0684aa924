package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/evalauth"
	"github.com/MrEthical07/evalauth/refresh"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIdentityLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Identities()

	created, err := store.Create(ctx, evalauth.Identity{
		Email:        "A@X.com",
		PasswordHash: "hash",
		Active:       true,
		Roles:        []string{"member", "admin"},
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := store.IdentityByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, []string{"member", "admin"}, got.Roles)
	assert.True(t, got.Active)
	assert.True(t, got.LastLoginAt.IsZero())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordLogin(ctx, created.ID, at))
	require.NoError(t, store.SetActive(ctx, created.ID, false))

	got, err = store.IdentityByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.LastLoginAt))
	assert.False(t, got.Active)

	_, err = store.Create(ctx, evalauth.Identity{Email: "a@x.com", PasswordHash: "other"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	_, err = store.IdentityByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, evalauth.ErrIdentityNotFound)
	assert.ErrorIs(t, store.RecordLogin(ctx, 999, at), evalauth.ErrIdentityNotFound)

	require.NoError(t, store.UpdatePasswordHash(ctx, created.ID, "rehashed"))
	got, err = store.IdentityByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "rehashed", got.PasswordHash)
	assert.ErrorIs(t, store.UpdatePasswordHash(ctx, 999, "x"), evalauth.ErrIdentityNotFound)
}

func TestRefreshStoreSemantics(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).RefreshTokens()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := refresh.Record{TokenID: "tok-1", IdentityID: 1, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.Save(ctx, rec))
	assert.ErrorIs(t, store.Save(ctx, rec), refresh.ErrDuplicate)

	got, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, refresh.StateActive, got.State(now))
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

	ok, err := store.Revoke(ctx, "tok-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Revoke(ctx, "tok-1", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, refresh.StateRevoked, got.State(now.Add(2*time.Hour)))

	ok, err = store.Revoke(ctx, "missing", now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, refresh.ErrNotFound)
}

func TestRevokeExpiredTokenReportsFalse(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).RefreshTokens()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, refresh.Record{TokenID: "old", IdentityID: 1, IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))

	ok, err := store.Revoke(ctx, "old", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.DeleteExpired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConcurrentRevokeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).RefreshTokens()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, refresh.Record{TokenID: "race", IdentityID: 1, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Revoke(ctx, "race", now)
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRevokeAllTouchesOnlyActiveTokensOfIdentity(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).RefreshTokens()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, refresh.Record{TokenID: "a1", IdentityID: 1, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.Save(ctx, refresh.Record{TokenID: "a2", IdentityID: 1, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.Save(ctx, refresh.Record{TokenID: "b1", IdentityID: 2, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))
	_, err := store.Revoke(ctx, "a2", now)
	require.NoError(t, err)

	n, err := store.RevokeAll(ctx, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for id, want := range map[string]refresh.State{"a1": refresh.StateRevoked, "a2": refresh.StateRevoked, "b1": refresh.StateActive} {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.State(now.Add(2*time.Minute)), id)
	}
}
