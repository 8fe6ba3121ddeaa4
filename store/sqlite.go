// Package store persists users, sessions and the token blacklist in SQLite.
// The driver is pure Go, so the binary stays CGO-free.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	wallet        TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	last_login_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	origin_ip     TEXT NOT NULL DEFAULT '',
	origin_agent  TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_access_token ON sessions (access_token);
CREATE INDEX IF NOT EXISTS idx_sessions_refresh_token ON sessions (refresh_token);

CREATE TABLE IF NOT EXISTS token_blacklist (
	token          TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	reason         TEXT NOT NULL,
	blacklisted_at INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL
);
`

// DB wraps the SQLite connection pool shared by the repositories.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema. WAL mode keeps concurrent session checks from blocking on
// login writes.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "[store.Open] create database directory")
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "[store.Open] open database")
	}

	if err := conn.Ping(); err != nil {
		return nil, errors.Wrap(err, "[store.Open] ping database")
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "[store.Open] apply schema")
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}
