// Package middleware adapts an evalauth.Engine to net/http.
//
//   - [RequestInfo] copies the client IP and User-Agent into the request
//     context for the login throttle and audit events.
//   - [Guard] requires a valid bearer access token and stores its claims on
//     the request context.
//   - [Require] runs one explicit capability check per route.
//
// The package never parses tokens itself; every decision is made by the
// Engine.
package middleware
