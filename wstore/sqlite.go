// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteConfig holds the configuration of the sqlite backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string
}

// DSN returns the sqlite connection string with the pragmas the store
// relies on.
func (c *SQLiteConfig) DSN() string {
	dsn := c.Path

	// Foreign keys enforce the account cascade constraints.
	dsn += "?_pragma=foreign_keys=on"

	// WAL allows readers to proceed while a commit is in flight.
	dsn += "&_pragma=journal_mode=WAL"

	// Take the write lock at BEGIN rather than at first write to avoid
	// upgrade deadlocks between concurrent transactions.
	dsn += "&_txlock=immediate"

	// Retry lock acquisition instead of returning SQLITE_BUSY.
	dsn += "&_pragma=busy_timeout=5000"

	return dsn
}

// OpenSQLite opens (creating if needed) the sqlite database at the
// configured path, applies migrations and returns a store around it.
func OpenSQLite(cfg *SQLiteConfig) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The driver returns SQLITE_BUSY when two connections write at
	// once, so funnel everything through one connection.
	db.SetMaxOpenConns(1)

	if err := ApplySQLiteMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an already open and migrated sqlite handle.
func NewSQLiteStore(db *sql.DB) (*Store, error) {
	return newStore(db, rebindQuestion)
}
