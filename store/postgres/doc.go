// Package postgres stores evalauth identities and refresh tokens in
// PostgreSQL through pgx.
//
// Open builds a pgxpool.Pool with google/uuid support registered on every
// connection, and Migrate applies the embedded schema. IdentityStore and
// RefreshStore accept any DB, so a *pgxpool.Pool, a pgx.Tx or a pgxmock pool
// all work.
package postgres
