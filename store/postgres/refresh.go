package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/evalauth/refresh"
)

// RefreshStore implements refresh.Store over the refresh_tokens table. Token
// IDs are uuids; anything else is reported as not found.
type RefreshStore struct {
	db DB
}

var (
	_ refresh.Store           = (*RefreshStore)(nil)
	_ refresh.IdentityRevoker = (*RefreshStore)(nil)
)

func NewRefreshStore(db DB) *RefreshStore {
	return &RefreshStore{db: db}
}

func (s *RefreshStore) Save(ctx context.Context, rec refresh.Record) error {
	id, err := uuid.Parse(rec.TokenID)
	if err != nil {
		return fmt.Errorf("refresh token id %q: %w", rec.TokenID, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO refresh_tokens (token_id, identity_id, issued_at, expires_at, revoked_at) VALUES ($1, $2, $3, $4, $5)`,
		id, rec.IdentityID, rec.IssuedAt.UTC(), rec.ExpiresAt.UTC(), rec.RevokedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return refresh.ErrDuplicate
		}
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) Get(ctx context.Context, tokenID string) (refresh.Record, error) {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return refresh.Record{}, refresh.ErrNotFound
	}
	rec := refresh.Record{TokenID: tokenID}
	err = s.db.QueryRow(ctx,
		`SELECT identity_id, issued_at, expires_at, revoked_at FROM refresh_tokens WHERE token_id = $1`, id,
	).Scan(&rec.IdentityID, &rec.IssuedAt, &rec.ExpiresAt, &rec.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return refresh.Record{}, refresh.ErrNotFound
	}
	if err != nil {
		return refresh.Record{}, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return rec, nil
}

// Revoke is a single conditional UPDATE, so concurrent callers race inside
// Postgres and exactly one sees a changed row.
func (s *RefreshStore) Revoke(ctx context.Context, tokenID string, at time.Time) (bool, error) {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return false, nil
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE token_id = $2 AND revoked_at IS NULL AND expires_at > $1`,
		at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeAll revokes every active token of identityID and returns how many
// changed.
func (s *RefreshStore) RevokeAll(ctx context.Context, identityID int64, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE identity_id = $2 AND revoked_at IS NULL`,
		at.UTC(), identityID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes tokens that expired before cutoff.
func (s *RefreshStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}
