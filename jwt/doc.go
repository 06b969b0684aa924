// Package jwt issues and validates the two signed token types used by evalauth:
// short-lived access tokens carrying the identity ID and roles, and long-lived
// refresh tokens whose jti is tracked by a refresh store.
//
// # Token format
//
// Both types are JWS compact tokens (HS256 or EdDSA) with registered claims sub,
// jti, iat, nbf, exp, iss and aud, plus a "typ" discriminator ("access" or
// "refresh") and, for access tokens, a "roles" array.
//
// # Error contract
//
// [Manager.Parse] only fails with [ErrMalformed], [ErrExpired] or
// [ErrInvalidSignature], wrapped with detail. Callers branch with errors.Is.
//
// # What this package must NOT do
//
//   - Track revocation (see package refresh).
//   - Read keys from the environment or any global state.
package jwt
