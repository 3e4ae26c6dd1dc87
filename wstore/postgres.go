// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wstore

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresConfig holds the configuration of the postgres backend.
type PostgresConfig struct {
	// DSN is the postgres connection string.
	DSN string

	// MaxOpenConns bounds the connection pool, zero for the driver
	// default.
	MaxOpenConns int
}

// OpenPostgres connects to the configured postgres database, applies
// migrations and returns a store around it.
func OpenPostgres(cfg *PostgresConfig) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := ApplyPostgresMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewPostgresStore(db)
}

// NewPostgresStore wraps an already open and migrated postgres handle.
func NewPostgresStore(db *sql.DB) (*Store, error) {
	return newStore(db, rebindDollar)
}
