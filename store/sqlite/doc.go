// Package sqlite stores evalauth identities and refresh tokens in a local
// SQLite file using the pure-Go modernc.org/sqlite driver.
package sqlite
