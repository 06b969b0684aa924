// Package rate provides the fixed-window login throttle keyed by client IP.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on the first hit of a window. The
// window starts at the first attempt and the key disappears with it.
//
// # What this package must NOT do
//
//   - Track per-identifier lockout (internal/limiters does).
//   - Be imported outside the evalauth module.
package rate
