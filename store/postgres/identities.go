package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/evalauth"
)

// ErrDuplicateEmail is returned by Create when the email is already taken.
var ErrDuplicateEmail = errors.New("postgres: email already registered")

const identityColumns = `id, email, password_hash, active, roles, last_login_at`

// IdentityStore implements evalauth.IdentityProvider over the identities
// table.
type IdentityStore struct {
	db DB
}

var (
	_ evalauth.IdentityProvider = (*IdentityStore)(nil)
	_ evalauth.PasswordRehasher = (*IdentityStore)(nil)
)

func NewIdentityStore(db DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// Create inserts ident and returns it with the assigned ID.
func (s *IdentityStore) Create(ctx context.Context, ident evalauth.Identity) (evalauth.Identity, error) {
	ident.Email = evalauth.NormalizeEmail(ident.Email)
	if ident.Roles == nil {
		ident.Roles = []string{}
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO identities (email, password_hash, active, roles) VALUES ($1, $2, $3, $4) RETURNING id`,
		ident.Email, ident.PasswordHash, ident.Active, ident.Roles,
	).Scan(&ident.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return evalauth.Identity{}, ErrDuplicateEmail
		}
		return evalauth.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	return ident, nil
}

func (s *IdentityStore) IdentityByEmail(ctx context.Context, email string) (evalauth.Identity, error) {
	return s.scanOne(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = $1`, evalauth.NormalizeEmail(email)))
}

func (s *IdentityStore) IdentityByID(ctx context.Context, id int64) (evalauth.Identity, error) {
	return s.scanOne(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
}

func (s *IdentityStore) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE identities SET last_login_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return evalauth.ErrIdentityNotFound
	}
	return nil
}

// SetActive flips the active flag; inactive identities cannot log in or
// refresh.
func (s *IdentityStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE identities SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return evalauth.ErrIdentityNotFound
	}
	return nil
}

func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE identities SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return evalauth.ErrIdentityNotFound
	}
	return nil
}

func (s *IdentityStore) scanOne(row pgx.Row) (evalauth.Identity, error) {
	var (
		ident     evalauth.Identity
		lastLogin *time.Time
	)
	err := row.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &ident.Active, &ident.Roles, &lastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return evalauth.Identity{}, evalauth.ErrIdentityNotFound
	}
	if err != nil {
		return evalauth.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	if lastLogin != nil {
		ident.LastLoginAt = *lastLogin
	}
	return ident, nil
}
