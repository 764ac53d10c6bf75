// Package ledger tracks the content hash of every scanned file across
// ingest passes, so a run can tell which paths were added, modified,
// deleted, or left unchanged instead of reprocessing a whole project
// every time: a SQLite-backed path-to-hash map with an atomic commit
// transaction and an optional fsnotify watch mode for incremental runs.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeintel/internal/logging"
	"codeintel/internal/model"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed record of the last known content hash for
// every tracked path.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryLedger).Warn("pragma failed: %s: %v", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS ledger_entries (
	path       TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	size       INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS units (
	unit_id         TEXT PRIMARY KEY,
	file_path       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	name            TEXT NOT NULL,
	qualified_name  TEXT NOT NULL,
	start_line      INTEGER NOT NULL,
	end_line        INTEGER NOT NULL,
	signature       TEXT,
	parameters_json TEXT,
	return_type     TEXT,
	parent_class    TEXT,
	complexity      INTEGER NOT NULL DEFAULT 0,
	normalized_hash TEXT
);
CREATE INDEX IF NOT EXISTS idx_units_file ON units(file_path);
CREATE TABLE IF NOT EXISTS duplicate_runs (
	run_id     TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL,
	stats_json TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// UpsertUnits records a file's extracted units, replacing any existing
// rows for the same unit ids. Parameters are stored as a JSON array since
// SQLite has no native list type.
func (s *Store) UpsertUnits(ctx context.Context, units []model.Unit) (int, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "UpsertUnits")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO units
		(unit_id, file_path, kind, name, qualified_name, start_line, end_line, signature, parameters_json, return_type, parent_class, complexity, normalized_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	stored := 0
	for _, u := range units {
		params, err := json.Marshal(u.Parameters)
		if err != nil {
			continue
		}
		if _, err := stmt.Exec(u.UnitID, u.FilePath, string(u.Kind), u.Name, u.QualifiedName,
			u.StartLine, u.EndLine, u.Signature, string(params), u.ReturnType, u.ParentClass,
			u.Complexity, u.NormalizedHash); err != nil {
			continue
		}
		stored++
	}
	return stored, tx.Commit()
}

// DeleteUnitsByFile removes every unit row recorded against path, used
// when the Change Ledger reports the file was deleted.
func (s *Store) DeleteUnitsByFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM units WHERE file_path = ?", path)
	return err
}

// UnitCountForFile returns the number of unit rows currently recorded for
// path, mainly useful to tests asserting DeleteUnitsByFile's effect.
func (s *Store) UnitCountForFile(path string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM units WHERE file_path = ?", path).Scan(&n)
	return n, err
}

// DuplicateRunStats summarizes one duplicate-detection pass for
// persistence in duplicate_runs.
type DuplicateRunStats struct {
	GroupCount          int  `json:"group_count"`
	UnitCount           int  `json:"unit_count"`
	EstimatedLinesSaved int  `json:"estimated_lines_saved"`
	Degraded            bool `json:"degraded"`
}

// RecordDuplicateRun persists one duplicate-detection pass's summary
// stats under a fresh run id, giving callers a history of past runs
// instead of only the most recent report.
func (s *Store) RecordDuplicateRun(ctx context.Context, stats DuplicateRunStats) (string, error) {
	blob, err := json.Marshal(stats)
	if err != nil {
		return "", fmt.Errorf("marshal duplicate run stats: %w", err)
	}

	runID := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO duplicate_runs (run_id, created_at, stats_json) VALUES (?, ?, ?)`,
		runID, time.Now(), string(blob),
	); err != nil {
		return "", fmt.Errorf("record duplicate run: %w", err)
	}
	return runID, nil
}

// Diff compares a freshly scanned file set against the stored ledger and
// classifies every path as added, modified, deleted, or unchanged. It
// does not mutate the ledger; call Commit with the same files once the
// downstream extract/embed/index work for them has succeeded.
func (s *Store) Diff(ctx context.Context, files []model.File) ([]model.ChangeRecord, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "Diff")
	defer timer.Stop()

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, "SELECT path, hash FROM ledger_entries")
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	prev := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			continue
		}
		prev[path] = hash
	}
	rows.Close()
	s.mu.RUnlock()

	seen := make(map[string]bool, len(files))
	records := make([]model.ChangeRecord, 0, len(files))

	for _, f := range files {
		seen[f.Path] = true
		prevHash, tracked := prev[f.Path]
		switch {
		case !tracked:
			records = append(records, model.ChangeRecord{Path: f.Path, NewHash: f.ContentHash, Status: model.StatusAdded})
		case prevHash != f.ContentHash:
			records = append(records, model.ChangeRecord{Path: f.Path, PrevHash: prevHash, NewHash: f.ContentHash, Status: model.StatusModified})
		default:
			records = append(records, model.ChangeRecord{Path: f.Path, PrevHash: prevHash, NewHash: f.ContentHash, Status: model.StatusUnchanged})
		}
	}

	for path, hash := range prev {
		if !seen[path] {
			records = append(records, model.ChangeRecord{Path: path, PrevHash: hash, Status: model.StatusDeleted})
		}
	}

	return records, nil
}

// Commit atomically applies a set of change records to the ledger:
// added/modified paths are upserted with their new hash, deleted paths
// are removed, unchanged paths are left untouched. Callers should only
// commit records once the corresponding extract/embed/index work has
// succeeded, so a crash mid-ingest leaves the ledger consistent with
// whatever downstream state was actually written.
func (s *Store) Commit(ctx context.Context, records []model.ChangeRecord) error {
	timer := logging.StartTimer(logging.CategoryLedger, "Commit")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	upsert, err := tx.Prepare(`INSERT OR REPLACE INTO ledger_entries (path, hash, size, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer upsert.Close()

	del, err := tx.Prepare(`DELETE FROM ledger_entries WHERE path = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer del.Close()

	now := time.Now()
	for _, r := range records {
		switch r.Status {
		case model.StatusAdded, model.StatusModified:
			if _, err := upsert.Exec(r.Path, r.NewHash, 0, now); err != nil {
				tx.Rollback()
				return fmt.Errorf("commit %s: %w", r.Path, err)
			}
		case model.StatusDeleted:
			if _, err := del.Exec(r.Path); err != nil {
				tx.Rollback()
				return fmt.Errorf("commit delete %s: %w", r.Path, err)
			}
		case model.StatusUnchanged:
			// nothing to write
		}
	}

	return tx.Commit()
}

// CommitFile atomically applies a single path's change, for callers
// committing one file at a time as a pipeline stage completes rather
// than batching a whole scan.
func (s *Store) CommitFile(ctx context.Context, r model.ChangeRecord) error {
	return s.Commit(ctx, []model.ChangeRecord{r})
}

// Get returns the stored hash for a path and whether it is tracked.
func (s *Store) Get(path string) (hash string, tracked bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	err = s.db.QueryRow("SELECT hash FROM ledger_entries WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// Count returns the number of tracked paths.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM ledger_entries").Scan(&n)
	return n, err
}

// All returns every tracked path and its stored hash.
func (s *Store) All() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT path, hash FROM ledger_entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			continue
		}
		out[path] = hash
	}
	return out, nil
}
