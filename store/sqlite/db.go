package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT    UNIQUE NOT NULL,
	password_hash TEXT    NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1,
	roles         TEXT    NOT NULL DEFAULT '',
	last_login_at INTEGER
);
CREATE TABLE IF NOT EXISTS refresh_tokens (
	token_id    TEXT    PRIMARY KEY,
	identity_id INTEGER NOT NULL,
	issued_at   INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL,
	revoked_at  INTEGER
);
CREATE INDEX IF NOT EXISTS refresh_tokens_identity_idx ON refresh_tokens (identity_id);
`

// DB owns the database handle. The driver does not allow concurrent writes,
// so every statement that modifies rows takes writeMu.
type DB struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens or creates the database at path and applies the schema. Every
// pooled connection gets a 5s busy timeout.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

func (d *DB) Identities() *IdentityStore { return &IdentityStore{db: d} }

func (d *DB) RefreshTokens() *RefreshStore { return &RefreshStore{db: d} }

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.db.ExecContext(ctx, query, args...)
}

func isConstraint(err error) bool {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	switch liteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(*t), Valid: true}
}
