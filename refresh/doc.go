// Package refresh tracks issued refresh tokens so each one can be revoked on
// its own.
//
// # Lifecycle
//
// A [Record] is keyed by the token's jti. Its [State] moves from
// [StateActive] to either [StateExpired] or [StateRevoked] and never back.
// Revoked wins over expired once set.
//
// # Stores
//
//   - [RedisStore] keeps one hash per token and revokes through a Lua script,
//     so concurrent revokes of the same token have exactly one winner.
//   - [MemoryStore] keeps records in a go-cache instance guarded by a mutex.
//
// SQL-backed stores live in store/postgres and store/sqlite.
//
// # What this package must NOT do
//
//   - Parse or sign tokens. The jwt package owns that.
//   - Decide rotation policy. The engine does.
package refresh
