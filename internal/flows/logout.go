package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/evalauth/jwt"
)

// LogoutResult reports whether this call revoked the token.
type LogoutResult struct {
	Revoked    bool
	TokenID    string
	IdentityID int64
	Err        error
}

// LogoutDeps reuses the refresh dependencies for parsing and storage.
type LogoutDeps struct {
	Now          func() time.Time
	ParseRefresh func(string) (*jwt.Claims, error)
	Revoke       func(ctx context.Context, tokenID string, at time.Time) (bool, error)
}

// RunLogout revokes a refresh token. Expired, unknown and already revoked
// tokens report Revoked=false with a nil error. Malformed or forged tokens
// report their parse error.
func RunLogout(ctx context.Context, token string, deps LogoutDeps) LogoutResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	claims, err := deps.ParseRefresh(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return LogoutResult{}
		}
		return LogoutResult{Err: err}
	}

	out := LogoutResult{TokenID: claims.ID, IdentityID: subjectID(claims)}
	out.Revoked, out.Err = deps.Revoke(ctx, claims.ID, deps.Now())
	return out
}
