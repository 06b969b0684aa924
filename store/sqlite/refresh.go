package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/evalauth/refresh"
)

// RefreshStore implements refresh.Store. Revoke runs under the write lock,
// so concurrent revocations of one token serialize and only the first
// changes a row.
type RefreshStore struct {
	db *DB
}

var (
	_ refresh.Store           = (*RefreshStore)(nil)
	_ refresh.IdentityRevoker = (*RefreshStore)(nil)
)

func (s *RefreshStore) Save(ctx context.Context, rec refresh.Record) error {
	_, err := s.db.exec(ctx,
		"INSERT INTO refresh_tokens (token_id, identity_id, issued_at, expires_at, revoked_at) VALUES (?, ?, ?, ?, ?)",
		rec.TokenID, rec.IdentityID, toUnix(rec.IssuedAt), toUnix(rec.ExpiresAt), nullableUnix(rec.RevokedAt),
	)
	if err != nil {
		if isConstraint(err) {
			return refresh.ErrDuplicate
		}
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) Get(ctx context.Context, tokenID string) (refresh.Record, error) {
	var (
		issued, expires int64
		revoked         sql.NullInt64
	)
	rec := refresh.Record{TokenID: tokenID}
	err := s.db.db.QueryRowContext(ctx,
		"SELECT identity_id, issued_at, expires_at, revoked_at FROM refresh_tokens WHERE token_id = ?",
		tokenID,
	).Scan(&rec.IdentityID, &issued, &expires, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return refresh.Record{}, refresh.ErrNotFound
	}
	if err != nil {
		return refresh.Record{}, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	rec.IssuedAt = fromUnix(issued)
	rec.ExpiresAt = fromUnix(expires)
	if revoked.Valid {
		at := fromUnix(revoked.Int64)
		rec.RevokedAt = &at
	}
	return rec, nil
}

func (s *RefreshStore) Revoke(ctx context.Context, tokenID string, at time.Time) (bool, error) {
	res, err := s.db.exec(ctx,
		"UPDATE refresh_tokens SET revoked_at = ? WHERE token_id = ? AND revoked_at IS NULL AND expires_at > ?",
		toUnix(at), tokenID, toUnix(at),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return n == 1, nil
}

// RevokeAll revokes every active token of identityID and returns how many
// changed.
func (s *RefreshStore) RevokeAll(ctx context.Context, identityID int64, at time.Time) (int64, error) {
	res, err := s.db.exec(ctx,
		"UPDATE refresh_tokens SET revoked_at = ? WHERE identity_id = ? AND revoked_at IS NULL AND expires_at > ?",
		toUnix(at), identityID, toUnix(at),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes tokens that expired before cutoff.
func (s *RefreshStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.exec(ctx, "DELETE FROM refresh_tokens WHERE expires_at < ?", toUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return res.RowsAffected()
}
