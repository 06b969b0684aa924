// Package limiters implements the per-identifier lockout tracker.
//
// # Window semantics
//
// Failed attempts are timestamps. An attempt counts while it is younger than
// the window; older ones are pruned at read or write time, never by a timer.
// The identifier is locked while the count inside the window is at least the
// threshold, or while an explicit lock flag is set.
//
// Key layout for [RedisLockout]:
//   - <prefix>:<identifier>      sorted set of attempt timestamps (ms)
//   - <prefix>:<identifier>:lock explicit lock end in ms, 0 for indefinite
//
// # What this package must NOT do
//
//   - Import evalauth or any sibling internal package.
//   - Decide what a lock means for the caller. Flow functions decide that.
package limiters
