package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when no record exists for the token ID.
	ErrNotFound = errors.New("refresh token not found")
	// ErrRevoked reports a refresh token that has been invalidated.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrDuplicate is returned by Save when the token ID is already stored.
	ErrDuplicate = errors.New("refresh token already stored")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("refresh store unavailable")
)

// State of a refresh token at a point in time.
type State int

const (
	StateActive State = iota
	StateExpired
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Record is the persisted view of one issued refresh token.
type Record struct {
	TokenID    string
	IdentityID int64
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// State evaluates the record at now.
func (r Record) State(now time.Time) State {
	if r.RevokedAt != nil {
		return StateRevoked
	}
	if !now.Before(r.ExpiresAt) {
		return StateExpired
	}
	return StateActive
}

// Store persists refresh records.
//
// Revoke reports true only for the call that moved the record from active to
// revoked. Unknown, expired and already revoked tokens report false with a nil
// error.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, tokenID string) (Record, error)
	Revoke(ctx context.Context, tokenID string, at time.Time) (bool, error)
}

// IdentityRevoker is implemented by stores that can revoke every active
// token of one identity at once.
type IdentityRevoker interface {
	RevokeAll(ctx context.Context, identityID int64, at time.Time) (int64, error)
}
