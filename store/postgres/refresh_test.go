package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/evalauth/refresh"
)

func TestRefreshSave(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := refresh.Record{TokenID: id.String(), IdentityID: 1, IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}
	insert := regexp.QuoteMeta(`INSERT INTO refresh_tokens`)

	t.Run("stores record", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(insert).
			WithArgs(id, int64(1), issued, issued.Add(time.Hour), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, NewRefreshStore(mock).Save(ctx, rec))
	})

	t.Run("duplicate", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(insert).
			WithArgs(id, int64(1), issued, issued.Add(time.Hour), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		assert.ErrorIs(t, NewRefreshStore(mock).Save(ctx, rec), refresh.ErrDuplicate)
	})

	t.Run("unavailable", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(insert).
			WithArgs(id, int64(1), issued, issued.Add(time.Hour), pgxmock.AnyArg()).
			WillReturnError(errors.New("broken pipe"))
		assert.ErrorIs(t, NewRefreshStore(mock).Save(ctx, rec), refresh.ErrUnavailable)
	})

	t.Run("rejects non-uuid id", func(t *testing.T) {
		mock := newMock(t)
		bad := rec
		bad.TokenID = "not-a-uuid"
		assert.Error(t, NewRefreshStore(mock).Save(ctx, bad))
	})
}

func TestRefreshGet(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta(`SELECT identity_id, issued_at, expires_at, revoked_at FROM refresh_tokens WHERE token_id = $1`)
	cols := []string{"identity_id", "issued_at", "expires_at", "revoked_at"}

	t.Run("revoked record", func(t *testing.T) {
		mock := newMock(t)
		revoked := issued.Add(time.Minute)
		mock.ExpectQuery(query).WithArgs(id).
			WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(3), issued, issued.Add(time.Hour), &revoked))

		rec, err := NewRefreshStore(mock).Get(ctx, id.String())
		require.NoError(t, err)
		assert.Equal(t, int64(3), rec.IdentityID)
		assert.Equal(t, refresh.StateRevoked, rec.State(issued))
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(query).WithArgs(id).WillReturnError(pgx.ErrNoRows)

		_, err := NewRefreshStore(mock).Get(ctx, id.String())
		assert.ErrorIs(t, err, refresh.ErrNotFound)
	})

	t.Run("non-uuid id is not found", func(t *testing.T) {
		mock := newMock(t)
		_, err := NewRefreshStore(mock).Get(ctx, "abc")
		assert.ErrorIs(t, err, refresh.ErrNotFound)
	})
}

func TestRefreshRevoke(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	update := regexp.QuoteMeta(`UPDATE refresh_tokens SET revoked_at = $1 WHERE token_id = $2 AND revoked_at IS NULL`)

	mock := newMock(t)
	mock.ExpectExec(update).WithArgs(at, id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(update).WithArgs(at, id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewRefreshStore(mock)
	first, err := store.Revoke(ctx, id.String(), at)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.Revoke(ctx, id.String(), at)
	require.NoError(t, err)
	assert.False(t, second)

	unknown, err := store.Revoke(ctx, "garbage", at)
	require.NoError(t, err)
	assert.False(t, unknown)
}

func TestRefreshBulkOperations(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`WHERE identity_id = $2 AND revoked_at IS NULL`)).
		WithArgs(at, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM refresh_tokens WHERE expires_at < $1`)).
		WithArgs(at).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	store := NewRefreshStore(mock)
	n, err := store.RevokeAll(ctx, 5, at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = store.DeleteExpired(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
