package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/evalauth/jwt"
	"github.com/MrEthical07/evalauth/refresh"
)

// RefreshFailureKind classifies refresh-token failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureParse
	RefreshFailureRevoked
	RefreshFailureExpired
	RefreshFailureIdentity
	RefreshFailureStore
	RefreshFailureIssue
)

// TokenPair is the flow-local view of an issued pair.
type TokenPair struct {
	Access  jwt.Issued
	Refresh jwt.Issued
}

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	TokenID    string
	IdentityID int64
	Identity   IdentityRecord
	Pair       TokenPair
}

// RefreshDeps captures refresh validation and rotation dependencies.
type RefreshDeps struct {
	Now              func() time.Time
	ParseRefresh     func(string) (*jwt.Claims, error)
	Store            refresh.Store
	LoadIdentity     func(context.Context, int64) (IdentityRecord, error)
	IssuePair        func(context.Context, IdentityRecord) (TokenPair, error)
	IdentityNotFound error
	// RevokeIdentity, when set, revokes every token of an identity that can
	// no longer refresh. Without it only the presented token is revoked.
	RevokeIdentity func(ctx context.Context, identityID int64, at time.Time) (int64, error)
}

// RunValidateRefresh checks signature, expiry and revocation of a refresh
// token and loads the identity it belongs to. Nothing is written.
func RunValidateRefresh(ctx context.Context, token string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	claims, err := deps.ParseRefresh(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return RefreshResult{Failure: RefreshFailureExpired, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureParse, Err: err}
	}

	identityID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureParse, Err: jwt.ErrMalformed, TokenID: claims.ID}
	}
	out := RefreshResult{TokenID: claims.ID, IdentityID: identityID}

	rec, err := deps.Store.Get(ctx, claims.ID)
	switch {
	case errors.Is(err, refresh.ErrNotFound):
		// Signed by us but never tracked, or already evicted.
		out.Failure, out.Err = RefreshFailureRevoked, refresh.ErrRevoked
		return out
	case err != nil:
		out.Failure, out.Err = RefreshFailureStore, err
		return out
	}
	if rec.IdentityID != identityID {
		out.Failure, out.Err = RefreshFailureRevoked, refresh.ErrRevoked
		return out
	}

	switch rec.State(deps.Now()) {
	case refresh.StateRevoked:
		out.Failure, out.Err = RefreshFailureRevoked, refresh.ErrRevoked
		return out
	case refresh.StateExpired:
		out.Failure, out.Err = RefreshFailureExpired, jwt.ErrExpired
		return out
	}

	ident, err := deps.LoadIdentity(ctx, identityID)
	if err != nil {
		if deps.IdentityNotFound != nil && errors.Is(err, deps.IdentityNotFound) {
			out.Failure, out.Err = RefreshFailureIdentity, err
			return out
		}
		out.Failure, out.Err = RefreshFailureStore, err
		return out
	}
	if !ident.Active {
		out.Failure = RefreshFailureIdentity
		return out
	}
	out.Identity = ident
	return out
}

// RunRefresh validates the presented token, revokes it, and issues a new
// pair. A token whose identity is inactive or gone is revoked as well. Of concurrent callers presenting the same token only the one whose
// revoke succeeds gets a pair; the rest see RefreshFailureRevoked.
func RunRefresh(ctx context.Context, token string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	out := RunValidateRefresh(ctx, token, deps)
	if out.Failure == RefreshFailureIdentity {
		if err := revokeUnusable(ctx, out, deps); err != nil {
			out.Failure, out.Err = RefreshFailureStore, err
		}
		return out
	}
	if out.Failure != RefreshFailureNone {
		return out
	}

	revoked, err := deps.Store.Revoke(ctx, out.TokenID, deps.Now())
	if err != nil {
		out.Failure, out.Err = RefreshFailureStore, err
		return out
	}
	if !revoked {
		out.Failure, out.Err = RefreshFailureRevoked, refresh.ErrRevoked
		return out
	}

	pair, err := deps.IssuePair(ctx, out.Identity)
	if err != nil {
		out.Failure, out.Err = RefreshFailureIssue, err
		return out
	}
	out.Pair = pair
	return out
}

// revokeUnusable retires the tokens of an inactive or deleted identity so a
// later reactivation does not bring them back.
func revokeUnusable(ctx context.Context, out RefreshResult, deps RefreshDeps) error {
	at := deps.Now()
	if deps.RevokeIdentity != nil {
		_, err := deps.RevokeIdentity(ctx, out.IdentityID, at)
		return err
	}
	_, err := deps.Store.Revoke(ctx, out.TokenID, at)
	return err
}

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "success"
	case RefreshFailureParse:
		return "invalid_token"
	case RefreshFailureRevoked:
		return "revoked"
	case RefreshFailureExpired:
		return "expired"
	case RefreshFailureIdentity:
		return "identity_unavailable"
	case RefreshFailureStore:
		return "store_unavailable"
	case RefreshFailureIssue:
		return "issue_failed"
	default:
		return "unknown"
	}
}
