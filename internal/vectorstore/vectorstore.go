// Package vectorstore persists unit embeddings and serves k-nearest-
// neighbor queries by an exact brute-force cosine scan, matching the
// shape of a SQLite-backed associative memory: one connection, WAL
// journaling, and, when the sqlite-vec vec0 module is available, a
// virtual vec0 table built alongside the row-oriented table it mirrors.
// Upsert writes into the vec0 table, but KNN does not query it; there is
// no approximate nearest-neighbor search.
package vectorstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"codeintel/internal/embedding"
	"codeintel/internal/logging"
	"codeintel/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed vector store for unit embeddings. One Store
// serves one pinned (model_id, dimension) pair; storing a vector from a
// different model_id is rejected rather than silently corrupting kNN.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	path      string
	modelID   string
	dimension int
	vecIndex  bool
}

// Neighbor is one kNN result: a unit id, its similarity to the query, and
// the path it lives in (for filter-respecting display without a second
// lookup).
type Neighbor struct {
	UnitID     string
	FilePath   string
	Similarity float64
}

// Filter restricts KNN to a path prefix and/or language; zero value means
// no restriction.
type Filter struct {
	PathPrefix string
	Language   model.Language
}

// Open creates or opens the vector store database at path, pinned to
// modelID/dimension.
func Open(path string, modelID string, dimension int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryVectorStore, "Open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create vectorstore dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open vectorstore db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryVectorStore).Warn("pragma failed: %s: %v", pragma, err)
		}
	}

	s := &Store{db: db, path: path, modelID: modelID, dimension: dimension}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.tryEnableVecIndex()
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS embeddings (
	unit_id    TEXT PRIMARY KEY,
	file_path  TEXT NOT NULL,
	language   TEXT NOT NULL,
	model_id   TEXT NOT NULL,
	dimension  INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_path ON embeddings(file_path);
CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model_id);
`)
	if err != nil {
		return fmt.Errorf("migrate vectorstore schema: %w", err)
	}
	return nil
}

// tryEnableVecIndex creates the vec0 virtual table when the connection
// provides sqlite-vec's vec0 module; it is a no-op, not an error, when
// the module is unavailable. KNN scans the embeddings table either way.
func (s *Store) tryEnableVecIndex() {
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(vector float[%d])", s.dimension)
	if _, err := s.db.Exec(stmt); err == nil {
		s.vecIndex = true
		logging.Get(logging.CategoryVectorStore).Info("sqlite-vec index enabled (dimension=%d)", s.dimension)
	} else {
		logging.Get(logging.CategoryVectorStore).Debug("sqlite-vec unavailable, using brute-force search: %v", err)
	}
}

// Upsert stores or replaces the embedding for a unit.
func (s *Store) Upsert(ctx context.Context, e model.Embedding, filePath string, lang model.Language) error {
	if e.ModelID != s.modelID || e.Dimension != s.dimension {
		return fmt.Errorf("embedding model/dimension mismatch: store pinned to %s/%d, got %s/%d",
			s.modelID, s.dimension, e.ModelID, e.Dimension)
	}

	timer := logging.StartTimer(logging.CategoryVectorStore, "Upsert")
	defer timer.Stop()

	blob := encodeVector(e.Vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO embeddings (unit_id, file_path, language, model_id, dimension, vector, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UnitID, filePath, string(lang), e.ModelID, e.Dimension, blob, e.CreatedAt,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("upsert embedding: %w", err)
	}
	if s.vecIndex {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO vec_embeddings (rowid, vector) VALUES (
			(SELECT rowid FROM embeddings WHERE unit_id = ?), ?)`, e.UnitID, blob); err != nil {
			logging.Get(logging.CategoryVectorStore).Warn("vec index upsert failed for %s: %v", e.UnitID, err)
		}
	}
	return tx.Commit()
}

// UpsertBatch stores multiple embeddings in one transaction, continuing
// past per-item failures so one bad vector doesn't discard the batch.
func (s *Store) UpsertBatch(ctx context.Context, embeddings []model.Embedding, fileOf map[string]string, langOf map[string]model.Language) (int, error) {
	timer := logging.StartTimer(logging.CategoryVectorStore, "UpsertBatch")
	defer timer.Stop()

	stored := 0
	var firstErr error
	for _, e := range embeddings {
		if err := s.Upsert(ctx, e, fileOf[e.UnitID], langOf[e.UnitID]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stored++
	}
	return stored, firstErr
}

// Delete removes a unit's embedding, for callers that have a specific unit
// id to purge rather than a whole file (e.g. the unit no longer extracts
// from an otherwise-surviving file).
func (s *Store) Delete(unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM embeddings WHERE unit_id = ?", unitID)
	return err
}

// DeleteByFile removes every embedding recorded against path, used when
// the Change Ledger reports a file was deleted: every embedding a deleted
// file contributed carries that file's path, regardless of unit id.
func (s *Store) DeleteByFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM embeddings WHERE file_path = ?", path)
	return err
}

// KNN returns the k nearest neighbors to query by cosine similarity,
// respecting filter.
func (s *Store) KNN(ctx context.Context, query []float32, k int, filter Filter) ([]Neighbor, error) {
	timer := logging.StartTimer(logging.CategoryVectorStore, "KNN")
	defer timer.Stop()

	if k <= 0 {
		k = 20
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension %d does not match store dimension %d", len(query), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	whereClauses := []string{}
	args := []interface{}{}
	if filter.PathPrefix != "" {
		whereClauses = append(whereClauses, "file_path LIKE ?")
		args = append(args, filter.PathPrefix+"%")
	}
	if filter.Language != "" {
		whereClauses = append(whereClauses, "language = ?")
		args = append(args, string(filter.Language))
	}

	query_ := "SELECT unit_id, file_path, vector FROM embeddings"
	if len(whereClauses) > 0 {
		query_ += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query_, args...)
	if err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		neighbor   Neighbor
		similarity float64
	}
	var candidates []candidate

	for rows.Next() {
		var unitID, filePath string
		var blob []byte
		if err := rows.Scan(&unitID, &filePath, &blob); err != nil {
			continue
		}
		vec := decodeVector(blob, s.dimension)
		sim, err := embedding.CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			neighbor:   Neighbor{UnitID: unitID, FilePath: filePath, Similarity: sim},
			similarity: sim,
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].similarity > candidates[j].similarity })
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Neighbor, len(candidates))
	for i, c := range candidates {
		results[i] = c.neighbor
	}
	return results, nil
}

// Count returns the number of stored embeddings.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&n)
	return n, err
}

// All returns every stored embedding's unit id, file path and vector. Used
// by the engine's FindSimilar and DuplicateReport to look up stored
// vectors by unit id; callers needing filtered subsets should prefer KNN.
func (s *Store) All(ctx context.Context) ([]model.Embedding, map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT unit_id, file_path, model_id, dimension, vector, created_at FROM embeddings")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []model.Embedding
	fileOf := make(map[string]string)
	for rows.Next() {
		var e model.Embedding
		var filePath string
		var blob []byte
		var createdAt time.Time
		if err := rows.Scan(&e.UnitID, &filePath, &e.ModelID, &e.Dimension, &blob, &createdAt); err != nil {
			continue
		}
		e.Vector = decodeVector(blob, e.Dimension)
		e.CreatedAt = createdAt
		out = append(out, e)
		fileOf[e.UnitID] = filePath
	}
	return out, fileOf, nil
}

// encodeVector serializes a vector as little-endian float32 bytes, the
// layout sqlite-vec's vec0 module expects.
func encodeVector(vec []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func decodeVector(blob []byte, dim int) []float32 {
	vec := make([]float32, dim)
	if len(blob) < dim*4 {
		return vec
	}
	_ = binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec)
	return vec
}
