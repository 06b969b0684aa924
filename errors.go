package evalauth

import (
	"errors"

	"github.com/MrEthical07/evalauth/jwt"
	"github.com/MrEthical07/evalauth/refresh"
)

// Authentication failures. Authenticate never returns these as Go errors;
// they are reachable through [AuthResult.Err] and [FailureReason.Err].
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrSystem             = errors.New("authentication system error")
)

// Token validation failures. These are the jwt and refresh package sentinels,
// so errors.Is matches across packages.
var (
	ErrMalformedToken   = jwt.ErrMalformed
	ErrExpiredToken     = jwt.ErrExpired
	ErrInvalidSignature = jwt.ErrInvalidSignature
	ErrRevokedToken     = refresh.ErrRevoked
)

var (
	// ErrIdentityNotFound is returned by an IdentityProvider when no identity
	// matches the lookup.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrUnauthorized reports a missing or unusable access token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionDenied is returned by Authorize when a capability check fails.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEngineNotReady is returned when the engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)
