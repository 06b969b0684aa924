package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/evalauth"
)

var identityCols = []string{"id", "email", "password_hash", "active", "roles", "last_login_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestIdentityByEmail(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta(`SELECT id, email, password_hash, active, roles, last_login_at FROM identities WHERE email = $1`)

	t.Run("found with normalized email", func(t *testing.T) {
		mock := newMock(t)
		store := NewIdentityStore(mock)
		last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery(query).
			WithArgs("a@x.com").
			WillReturnRows(pgxmock.NewRows(identityCols).
				AddRow(int64(1), "a@x.com", "$argon2id$hash", true, []string{"member"}, &last))

		ident, err := store.IdentityByEmail(ctx, "  A@X.com ")
		require.NoError(t, err)
		assert.Equal(t, int64(1), ident.ID)
		assert.True(t, ident.Active)
		assert.Equal(t, []string{"member"}, ident.Roles)
		assert.Equal(t, last, ident.LastLoginAt)
	})

	t.Run("never logged in", func(t *testing.T) {
		mock := newMock(t)
		store := NewIdentityStore(mock)
		mock.ExpectQuery(query).
			WithArgs("b@x.com").
			WillReturnRows(pgxmock.NewRows(identityCols).
				AddRow(int64(2), "b@x.com", "hash", false, []string{}, (*time.Time)(nil)))

		ident, err := store.IdentityByEmail(ctx, "b@x.com")
		require.NoError(t, err)
		assert.False(t, ident.Active)
		assert.True(t, ident.LastLoginAt.IsZero())
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMock(t)
		store := NewIdentityStore(mock)
		mock.ExpectQuery(query).WithArgs("nobody@x.com").WillReturnError(pgx.ErrNoRows)

		_, err := store.IdentityByEmail(ctx, "nobody@x.com")
		assert.ErrorIs(t, err, evalauth.ErrIdentityNotFound)
	})

	t.Run("backend error", func(t *testing.T) {
		mock := newMock(t)
		store := NewIdentityStore(mock)
		mock.ExpectQuery(query).WithArgs("a@x.com").WillReturnError(errors.New("connection reset"))

		_, err := store.IdentityByEmail(ctx, "a@x.com")
		require.Error(t, err)
		assert.NotErrorIs(t, err, evalauth.ErrIdentityNotFound)
	})
}

func TestIdentityByID(t *testing.T) {
	mock := newMock(t)
	store := NewIdentityStore(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM identities WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(identityCols).
			AddRow(int64(7), "g@x.com", "hash", true, []string{"admin"}, (*time.Time)(nil)))

	ident, err := store.IdentityByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "g@x.com", ident.Email)
}

func TestCreateIdentity(t *testing.T) {
	ctx := context.Background()
	insert := regexp.QuoteMeta(`INSERT INTO identities (email, password_hash, active, roles)`)

	t.Run("assigns id", func(t *testing.T) {
		mock := newMock(t)
		store := NewIdentityStore(mock)
		mock.ExpectQuery(insert).
			WithArgs("new@x.com", "hash", true, []string{}).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

		ident, err := store.Create(ctx, evalauth.Identity{Email: "New@x.com", PasswordHash: "hash", Active: true})
		require.NoError(t, err)
		assert.Equal(t, int64(42), ident.ID)
		assert.Equal(t, "new@x.com", ident.Email)
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock := newMock(t)
		store := NewIdentityStore(mock)
		mock.ExpectQuery(insert).
			WithArgs("dup@x.com", "hash", true, []string{"member"}).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		_, err := store.Create(ctx, evalauth.Identity{Email: "dup@x.com", PasswordHash: "hash", Active: true, Roles: []string{"member"}})
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})
}

func TestRecordLoginAndSetActive(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock := newMock(t)
	store := NewIdentityStore(mock)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE identities SET last_login_at = $1 WHERE id = $2`)).
		WithArgs(at, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE identities SET last_login_at = $1 WHERE id = $2`)).
		WithArgs(at, int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE identities SET active = $1 WHERE id = $2`)).
		WithArgs(false, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RecordLogin(ctx, 1, at))
	assert.ErrorIs(t, store.RecordLogin(ctx, 9, at), evalauth.ErrIdentityNotFound)
	require.NoError(t, store.SetActive(ctx, 1, false))
}

func TestUpdatePasswordHash(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	store := NewIdentityStore(mock)
	query := regexp.QuoteMeta(`UPDATE identities SET password_hash = $1 WHERE id = $2`)

	mock.ExpectExec(query).WithArgs("$argon2id$new", int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(query).WithArgs("$argon2id$new", int64(9)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdatePasswordHash(ctx, 1, "$argon2id$new"))
	assert.ErrorIs(t, store.UpdatePasswordHash(ctx, 9, "$argon2id$new"), evalauth.ErrIdentityNotFound)
}
