// Package evalauth is an authentication and session-lifecycle core: it checks
// email and password credentials, locks identifiers after repeated failures,
// and issues, validates, rotates and revokes JWT access and refresh tokens.
//
// The package is the public surface. It exposes [Engine], [Builder], [Config]
// and the value types ([AuthResult], [TokenPair], [Claims]). Lockout windows,
// throttling and the authenticate/refresh/logout flows live under internal/.
//
// # Authentication
//
// [Engine.Authenticate] never returns a Go error. Each call returns an
// [AuthResult] whose Reason is one of ReasonNone, ReasonInvalidCredentials,
// ReasonAccountLocked, ReasonAccountInactive, ReasonTooManyAttempts or
// ReasonSystemError. Inactive accounts carry the same message as invalid
// credentials so that callers cannot tell them apart.
//
// A call is ordered as follows: the optional per-IP throttle, one lockout
// read, credential validation, then either the login record (success) or one
// lockout write (invalid credentials). A locked identifier is rejected before
// any password hashing.
//
// # Tokens
//
// Access tokens are stateless. Refresh tokens are persisted in a
// [refresh.Store] so that they can be revoked; [Engine.Refresh] revokes the
// presented token before issuing a new pair, so a token is usable once.
//
// # Deployment
//
// Without [Builder.WithRedis] all state is process-local. Run more than one
// instance only with Redis configured.
package evalauth
