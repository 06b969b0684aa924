package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/evalauth"
)

var ErrDuplicateEmail = errors.New("sqlite: email already registered")

type IdentityStore struct {
	db *DB
}

var (
	_ evalauth.IdentityProvider = (*IdentityStore)(nil)
	_ evalauth.PasswordRehasher = (*IdentityStore)(nil)
)

// Create inserts ident and returns it with the assigned ID.
func (s *IdentityStore) Create(ctx context.Context, ident evalauth.Identity) (evalauth.Identity, error) {
	ident.Email = evalauth.NormalizeEmail(ident.Email)
	res, err := s.db.exec(ctx,
		"INSERT INTO identities (email, password_hash, active, roles) VALUES (?, ?, ?, ?)",
		ident.Email, ident.PasswordHash, ident.Active, strings.Join(ident.Roles, ","),
	)
	if err != nil {
		if isConstraint(err) {
			return evalauth.Identity{}, errors.Join(ErrDuplicateEmail, err)
		}
		return evalauth.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	if ident.ID, err = res.LastInsertId(); err != nil {
		return evalauth.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	return ident, nil
}

func (s *IdentityStore) IdentityByEmail(ctx context.Context, email string) (evalauth.Identity, error) {
	return scanIdentity(s.db.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, active, roles, last_login_at FROM identities WHERE email = ?",
		evalauth.NormalizeEmail(email),
	))
}

func (s *IdentityStore) IdentityByID(ctx context.Context, id int64) (evalauth.Identity, error) {
	return scanIdentity(s.db.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, active, roles, last_login_at FROM identities WHERE id = ?",
		id,
	))
}

func (s *IdentityStore) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	return s.updateOne(ctx, "UPDATE identities SET last_login_at = ? WHERE id = ?", toUnix(at), id)
}

func (s *IdentityStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.updateOne(ctx, "UPDATE identities SET active = ? WHERE id = ?", active, id)
}

func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return s.updateOne(ctx, "UPDATE identities SET password_hash = ? WHERE id = ?", hash, id)
}

func (s *IdentityStore) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if n == 0 {
		return evalauth.ErrIdentityNotFound
	}
	return nil
}

func scanIdentity(row *sql.Row) (evalauth.Identity, error) {
	var (
		ident     evalauth.Identity
		roles     string
		lastLogin sql.NullInt64
	)
	err := row.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &ident.Active, &roles, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return evalauth.Identity{}, evalauth.ErrIdentityNotFound
	}
	if err != nil {
		return evalauth.Identity{}, fmt.Errorf("query identity: %w", err)
	}
	if roles != "" {
		ident.Roles = strings.Split(roles, ",")
	}
	if lastLogin.Valid {
		ident.LastLoginAt = fromUnix(lastLogin.Int64)
	}
	return ident, nil
}
