// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

// Package store is the durable SQLite layer beneath the cache cascade.
// It is called directly, with no circuit breaker: it is the final
// fallback, and its unavailability is the one fatal dependency failure.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/giak/mnemo-lite-sub001/internal/cache"
	"github.com/giak/mnemo-lite-sub001/internal/guard"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// defaultQueryTimeout bounds any single database call.
const defaultQueryTimeout = 10 * time.Second

// ArtifactStore persists opaque indexing artifacts (chunk metadata,
// serialized analysis results) keyed by string.
type ArtifactStore struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewArtifactStore opens (or creates) the SQLite database at dbPath and
// initialises the artifacts table.
func NewArtifactStore(dbPath string, queryTimeout time.Duration) (*ArtifactStore, error) {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeStoreOpenFailure, "opening artifact db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "pinging artifact db")
	}

	if err := migrateArtifacts(db); err != nil {
		_ = db.Close()
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "migrating artifact db")
	}

	return &ArtifactStore{db: db, queryTimeout: queryTimeout}, nil
}

func migrateArtifacts(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS artifacts (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

// Get returns the payload stored under key; ok is false when absent.
func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type row struct {
		payload []byte
		ok      bool
	}

	out, err := guard.Run(ctx, s.queryTimeout, "store.artifact.get", func(ctx context.Context) (row, error) {
		var payload []byte
		err := s.db.QueryRowContext(ctx,
			`SELECT payload FROM artifacts WHERE key = ?`, key).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			return row{}, nil
		}
		if err != nil {
			return row{}, err
		}
		return row{payload: payload, ok: true}, nil
	}, "key", key)
	if err != nil {
		return nil, false, mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "reading artifact",
			mnemoerr.Field("key", key))
	}

	return out.payload, out.ok, nil
}

// Put inserts or replaces the payload under key.
func (s *ArtifactStore) Put(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return mnemoerr.New(mnemoerr.CodeStoreInvalidInput, "artifact key must not be empty")
	}

	_, err := guard.Run(ctx, s.queryTimeout, "store.artifact.put", func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO artifacts(key, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			key, payload, time.Now().UTC().Format(time.RFC3339Nano))
		return struct{}{}, err
	}, "key", key)
	if err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "writing artifact",
			mnemoerr.Field("key", key))
	}
	return nil
}

// Delete removes the payload under key; deleting an absent key is not
// an error.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	_, err := guard.Run(ctx, s.queryTimeout, "store.artifact.delete", func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key)
		return struct{}{}, err
	}, "key", key)
	if err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "deleting artifact",
			mnemoerr.Field("key", key))
	}
	return nil
}

// Loader adapts the store to the cache fallback contract.
func (s *ArtifactStore) Loader() cache.Loader {
	return func(ctx context.Context, key string) ([]byte, bool, error) {
		return s.Get(ctx, key)
	}
}

// DB exposes the shared handle so companion stores (vectors) can reuse
// the same database file and connection pool.
func (s *ArtifactStore) DB() *sql.DB { return s.db }

// Ping reports reachability for the health surface.
func (s *ArtifactStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "pinging artifact db")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *ArtifactStore) Close() error {
	return s.db.Close()
}
