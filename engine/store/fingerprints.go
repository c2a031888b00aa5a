package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/scoutline/scoutd/engine/domain"
)

// InsertFingerprint stores a dedup record. The hash is globally unique;
// inserting a hash that already exists is a silent no-op (returns false).
func (s *Store) InsertFingerprint(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	var blob []byte
	if len(fp.Embedding) > 0 {
		blob = vectorToBlob(fp.Embedding)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fingerprints (hash, embedding, provenance, created_at)
		VALUES (?, ?, ?, ?)`,
		fp.Hash, blob, string(fp.Provenance), time.Now().UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("store: insert fingerprint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

// HasFingerprint reports whether the exact hash is already known.
func (s *Store) HasFingerprint(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM fingerprints WHERE hash=? LIMIT 1`, hash).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("store: has fingerprint: %w", err)
}

// ListEmbeddings streams every stored embedding (rows without a vector are
// skipped) to the visit callback. Used by the dedup memory to warm its
// in-process cache.
func (s *Store) ListEmbeddings(ctx context.Context, visit func(id int64, hash string, vec []float32) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hash, embedding FROM fingerprints WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return fmt.Errorf("store: list embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			hash string
			blob []byte
		)
		if err := rows.Scan(&id, &hash, &blob); err != nil {
			return err
		}
		if len(blob) == 0 {
			continue
		}
		if err := visit(id, hash, blobToVector(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountFingerprints returns the total number of dedup records.
func (s *Store) CountFingerprints(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count fingerprints: %w", err)
	}
	return n, nil
}

// Vectors persist as little-endian float32, 4 bytes per dimension.

func vectorToBlob(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func blobToVector(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
