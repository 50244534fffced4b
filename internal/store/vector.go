// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

func init() {
	// Register the sqlite-vec extension with every sqlite3 connection.
	sqlite_vec.Auto()
}

// VectorStore persists code-chunk embeddings in a vec0 virtual table,
// sharing the artifact store's database handle.
type VectorStore struct {
	db           *sql.DB
	dim          int
	queryTimeout time.Duration
}

// NewVectorStore initialises vector storage for embeddings of the given
// dimension on an already-open database.
func NewVectorStore(db *sql.DB, dim int, queryTimeout time.Duration) (*VectorStore, error) {
	if dim <= 0 {
		return nil, mnemoerr.Errorf(mnemoerr.CodeStoreInvalidInput, "embedding dimension must be positive, got %d", dim)
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	ddl := fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec0(
	chunk_id TEXT PRIMARY KEY,
	embedding float[%d]
);
`, dim)
	if _, err := db.Exec(ddl); err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "creating vector table")
	}

	return &VectorStore{db: db, dim: dim, queryTimeout: queryTimeout}, nil
}

// Put stores the embedding for chunkID, replacing any previous value.
// vec0 has no ON CONFLICT support, so the upsert is delete-then-insert
// inside one transaction.
func (v *VectorStore) Put(ctx context.Context, chunkID string, embedding []float32) error {
	if chunkID == "" {
		return mnemoerr.New(mnemoerr.CodeStoreInvalidInput, "chunk id must not be empty")
	}
	if len(embedding) != v.dim {
		return mnemoerr.Errorf(mnemoerr.CodeStoreVectorInvalid,
			"embedding has dimension %d, want %d", len(embedding), v.dim)
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreVectorInvalid, "serializing embedding",
			mnemoerr.Field("chunk_id", chunkID))
	}

	tctx, cancel := context.WithTimeout(ctx, v.queryTimeout)
	defer cancel()

	tx, err := v.db.BeginTx(tctx, nil)
	if err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "beginning vector transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(tctx, `DELETE FROM chunk_vectors WHERE chunk_id = ?`, chunkID); err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "clearing previous embedding",
			mnemoerr.Field("chunk_id", chunkID))
	}
	if _, err := tx.ExecContext(tctx,
		`INSERT INTO chunk_vectors(chunk_id, embedding) VALUES (?, ?)`, chunkID, blob); err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "inserting embedding",
			mnemoerr.Field("chunk_id", chunkID))
	}

	if err := tx.Commit(); err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "committing embedding",
			mnemoerr.Field("chunk_id", chunkID))
	}
	return nil
}

// Get returns the stored embedding for chunkID; ok is false when absent.
func (v *VectorStore) Get(ctx context.Context, chunkID string) ([]float32, bool, error) {
	tctx, cancel := context.WithTimeout(ctx, v.queryTimeout)
	defer cancel()

	var blob []byte
	err := v.db.QueryRowContext(tctx,
		`SELECT embedding FROM chunk_vectors WHERE chunk_id = ?`, chunkID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "reading embedding",
			mnemoerr.Field("chunk_id", chunkID))
	}

	vec, err := deserializeFloat32(blob)
	if err != nil {
		return nil, false, mnemoerr.Wrap(err, mnemoerr.CodeStoreVectorInvalid, "decoding stored embedding",
			mnemoerr.Field("chunk_id", chunkID))
	}
	return vec, true, nil
}

// Delete removes the embedding for chunkID; absent ids are not errors.
func (v *VectorStore) Delete(ctx context.Context, chunkID string) error {
	tctx, cancel := context.WithTimeout(ctx, v.queryTimeout)
	defer cancel()

	if _, err := v.db.ExecContext(tctx, `DELETE FROM chunk_vectors WHERE chunk_id = ?`, chunkID); err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeStoreUnavailable, "deleting embedding",
			mnemoerr.Field("chunk_id", chunkID))
	}
	return nil
}

// Nearest returns the ids of the k stored embeddings closest to query,
// best match first.
func (v *VectorStore) Nearest(ctx context.Context, query []float32, k int) ([]string, error) {
	if len(query) != v.dim {
		return nil, mnemoerr.Errorf(mnemoerr.CodeStoreVectorInvalid,
			"query has dimension %d, want %d", len(query), v.dim)
	}
	if k <= 0 {
		return nil, mnemoerr.Errorf(mnemoerr.CodeStoreInvalidInput, "k must be positive, got %d", k)
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeStoreVectorInvalid, "serializing query")
	}

	tctx, cancel := context.WithTimeout(ctx, v.queryTimeout)
	defer cancel()

	rows, err := v.db.QueryContext(tctx, `
SELECT chunk_id FROM chunk_vectors
WHERE embedding MATCH ? AND k = ?
ORDER BY distance`, blob, k)
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeStoreQueryFailure, "querying nearest embeddings")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mnemoerr.Wrap(err, mnemoerr.CodeStoreQueryFailure, "scanning nearest embeddings")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeStoreQueryFailure, "iterating nearest embeddings")
	}
	return ids, nil
}

// deserializeFloat32 decodes the little-endian float32 blob format that
// sqlite-vec stores and SerializeFloat32 produces.
func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
