package evalauth

import (
	"context"
	"time"
)

// Identity is an authenticatable account as the IdentityProvider stores it.
// The engine only ever writes LastLoginAt, through RecordLogin.
type Identity struct {
	ID           int64
	Email        string
	PasswordHash string
	Active       bool
	Roles        []string
	LastLoginAt  time.Time
}

// IdentityProvider is implemented by the host's persistence layer. Lookups by
// email are case-insensitive; the engine passes the email lower-cased and
// trimmed. Missing identities are reported with ErrIdentityNotFound, any
// other error is treated as a backend failure.
type IdentityProvider interface {
	IdentityByEmail(ctx context.Context, email string) (Identity, error)
	IdentityByID(ctx context.Context, id int64) (Identity, error)
	RecordLogin(ctx context.Context, id int64, at time.Time) error
}

// PasswordRehasher is an optional IdentityProvider extension. When the
// provider implements it, a successful login whose stored hash uses an older
// algorithm or weaker parameters replaces the hash.
type PasswordRehasher interface {
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}

// FailureReason classifies an unsuccessful AuthResult.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonInvalidCredentials
	ReasonAccountLocked
	ReasonAccountInactive
	ReasonTooManyAttempts
	ReasonSystemError
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInvalidCredentials:
		return "invalid_credentials"
	case ReasonAccountLocked:
		return "account_locked"
	case ReasonAccountInactive:
		return "account_inactive"
	case ReasonTooManyAttempts:
		return "too_many_attempts"
	case ReasonSystemError:
		return "system_error"
	default:
		return "unknown"
	}
}

// Err returns the sentinel for r, or nil for ReasonNone.
func (r FailureReason) Err() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonInvalidCredentials:
		return ErrInvalidCredentials
	case ReasonAccountLocked:
		return ErrAccountLocked
	case ReasonAccountInactive:
		return ErrAccountInactive
	case ReasonTooManyAttempts:
		return ErrTooManyAttempts
	default:
		return ErrSystem
	}
}

// AuthResult is the outcome of one authentication attempt. A success always
// carries an Identity and a failure never does. RetryAfter is only set for
// locked and throttled results.
type AuthResult struct {
	Identity   *Identity
	Reason     FailureReason
	Message    string
	RetryAfter time.Duration

	cause error
}

// Succeeded reports whether the attempt authenticated.
func (r AuthResult) Succeeded() bool {
	return r.Reason == ReasonNone && r.Identity != nil
}

// Err returns the reason sentinel, or nil on success.
func (r AuthResult) Err() error {
	if r.Succeeded() {
		return nil
	}
	return r.Reason.Err()
}

func successResult(ident Identity, msg string) AuthResult {
	ident.PasswordHash = ""
	ident.Roles = cloneStrings(ident.Roles)
	return AuthResult{Identity: &ident, Message: msg}
}

func failureResult(reason FailureReason, msg string, retryAfter time.Duration, cause error) AuthResult {
	return AuthResult{Reason: reason, Message: msg, RetryAfter: retryAfter, cause: cause}
}

// IssuedToken is one signed token with the claims a client needs to schedule
// renewal.
type IssuedToken struct {
	Token     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is an access token with the refresh token that can replace it.
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// LoginResult is Authenticate plus, on success, a freshly issued pair.
type LoginResult struct {
	AuthResult
	Tokens *TokenPair
}

// Claims is the decoded content of a valid access token.
type Claims struct {
	IdentityID int64
	Roles      []string
	TokenID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
