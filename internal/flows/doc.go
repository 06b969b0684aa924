// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunAuthenticate, RunRefresh, RunLogout, ...) accepts a
// typed dependency struct and returns a classified result. Side effects happen
// only through those dependencies, so flows are tested with plain fakes and
// the Engine stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate the lockout tracker, throttle, refresh store, JWT
// manager, audit and metrics. They do not own any of these resources.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import evalauth (to avoid import cycles).
//   - Perform I/O directly.
package flows
