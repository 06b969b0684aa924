// Package memory is an in-process evalauth.IdentityProvider. It is meant for
// tests, the load generator and single-node demos.
package memory
