// Package graph stores the directed relationships the Unit Extractor and
// Similarity Engine produce (calls, imports, extends, implements,
// contains, similar_to, part_of) and answers neighbor and impact-analysis
// queries over them: a SQLite-backed edge table plus bounded breadth-first
// traversal, the same shape as an entity/relation/entity knowledge graph
// with weighted links.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"codeintel/internal/logging"
	"codeintel/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed relationship graph over unit ids.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the graph database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create graph dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryGraph).Warn("pragma failed: %s: %v", pragma, err)
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
CREATE TABLE IF NOT EXISTS edges (
	src_unit_id TEXT NOT NULL,
	dst_unit_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	weight      REAL NOT NULL DEFAULT 1.0,
	evidence    TEXT,
	name        TEXT,
	unresolved  INTEGER NOT NULL DEFAULT 0,
	file_path   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (src_unit_id, dst_unit_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src_unit_id);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst_unit_id);
CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file_path);
`)
	if err != nil {
		return fmt.Errorf("migrate graph schema: %w", err)
	}
	return nil
}

// UpsertEdge stores one directed edge, recorded against the file it was
// extracted from so a later file deletion can purge it by path. Unresolved
// edges (DstUnitID empty) are kept keyed by Name so a later pass that
// resolves the callee can replace them without leaving an orphan row;
// callers resolving a name should delete the unresolved edge first.
func (s *Store) UpsertEdge(ctx context.Context, e model.Edge, filePath string) error {
	timer := logging.StartTimer(logging.CategoryGraph, "UpsertEdge")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	dst := e.DstUnitID
	if e.Unresolved {
		dst = "unresolved:" + e.Name
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO edges (src_unit_id, dst_unit_id, kind, weight, evidence, name, unresolved, file_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SrcUnitID, dst, string(e.Kind), e.Weight, e.Evidence, e.Name, boolToInt(e.Unresolved), filePath,
	)
	if err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

// UpsertEdges stores multiple edges extracted from the same file in one
// transaction, tagging every row with filePath so DeleteByFile can later
// purge them by path rather than by unit id.
func (s *Store) UpsertEdges(ctx context.Context, edges []model.Edge, filePath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO edges
		(src_unit_id, dst_unit_id, kind, weight, evidence, name, unresolved, file_path) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	stored := 0
	for _, e := range edges {
		dst := e.DstUnitID
		if e.Unresolved {
			dst = "unresolved:" + e.Name
		}
		if _, err := stmt.Exec(e.SrcUnitID, dst, string(e.Kind), e.Weight, e.Evidence, e.Name, boolToInt(e.Unresolved), filePath); err != nil {
			continue
		}
		stored++
	}
	return stored, tx.Commit()
}

// Direction selects which side of an edge to query from a given unit.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// Neighbors returns the edges touching unitID in the given direction,
// optionally restricted to one or more edge kinds (all kinds when empty).
func (s *Store) Neighbors(ctx context.Context, unitID string, dir Direction, kinds ...model.EdgeKind) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighborsLocked(ctx, unitID, dir, kinds...)
}

func (s *Store) neighborsLocked(ctx context.Context, unitID string, dir Direction, kinds ...model.EdgeKind) ([]model.Edge, error) {
	var query string
	args := []interface{}{unitID}

	switch dir {
	case Outgoing:
		query = "SELECT src_unit_id, dst_unit_id, kind, weight, evidence, name, unresolved FROM edges WHERE src_unit_id = ?"
	case Incoming:
		query = "SELECT src_unit_id, dst_unit_id, kind, weight, evidence, name, unresolved FROM edges WHERE dst_unit_id = ?"
	default:
		query = "SELECT src_unit_id, dst_unit_id, kind, weight, evidence, name, unresolved FROM edges WHERE src_unit_id = ? OR dst_unit_id = ?"
		args = append(args, unitID)
	}

	if len(kinds) > 0 {
		placeholders := ""
		for i, k := range kinds {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, string(k))
		}
		query += " AND kind IN (" + placeholders + ")"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []model.Edge
	for rows.Next() {
		var e model.Edge
		var dst string
		var unresolved int
		if err := rows.Scan(&e.SrcUnitID, &dst, &e.Kind, &e.Weight, &e.Evidence, &e.Name, &unresolved); err != nil {
			continue
		}
		e.Unresolved = unresolved != 0
		if !e.Unresolved {
			e.DstUnitID = dst
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// ImpactResult reports the units reachable from a changed unit within a
// bounded depth, banded by risk.
type ImpactResult struct {
	UnitID        string
	AffectedUnits []string
	Depth         int
	Risk          model.RiskLevel
}

// Impact performs a bounded breadth-first traversal of incoming "calls"
// and "contains" edges from unitID, so the caller can answer "what breaks
// if I change this". maxDepth <= 0 defaults to 5.
func (s *Store) Impact(ctx context.Context, unitID string, maxDepth int, thresholds model.RiskThresholds) (ImpactResult, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Impact")
	defer timer.Stop()

	if maxDepth <= 0 {
		maxDepth = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type queueItem struct {
		unitID string
		depth  int
	}

	visited := map[string]bool{unitID: true}
	queue := []queueItem{{unitID: unitID, depth: 0}}
	var affected []string
	reachedDepth := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		edges, err := s.neighborsLocked(ctx, current.unitID, Incoming, model.EdgeCalls, model.EdgeContains)
		if err != nil {
			return ImpactResult{}, err
		}
		for _, e := range edges {
			if visited[e.SrcUnitID] {
				continue
			}
			visited[e.SrcUnitID] = true
			affected = append(affected, e.SrcUnitID)
			if current.depth+1 > reachedDepth {
				reachedDepth = current.depth + 1
			}
			queue = append(queue, queueItem{unitID: e.SrcUnitID, depth: current.depth + 1})
		}
	}

	return ImpactResult{
		UnitID:        unitID,
		AffectedUnits: affected,
		Depth:         reachedDepth,
		Risk:          thresholds.Classify(len(affected)),
	}, nil
}

// TraversePath finds a shortest path from one unit to another over
// outgoing edges, via breadth-first search bounded by maxDepth.
func (s *Store) TraversePath(ctx context.Context, from, to string, maxDepth int) ([]model.Edge, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "TraversePath")
	defer timer.Stop()

	if maxDepth <= 0 {
		maxDepth = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type queueItem struct {
		unitID string
		depth  int
	}

	cameFrom := map[string]*model.Edge{from: nil}
	queue := []queueItem{{unitID: from, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.unitID == to {
			path := make([]model.Edge, current.depth)
			curr := to
			for i := current.depth - 1; i >= 0; i-- {
				edge := cameFrom[curr]
				if edge == nil {
					break
				}
				path[i] = *edge
				curr = edge.SrcUnitID
			}
			return path, nil
		}

		if current.depth >= maxDepth {
			continue
		}

		edges, err := s.neighborsLocked(ctx, current.unitID, Outgoing)
		if err != nil {
			continue
		}
		for _, e := range edges {
			if e.Unresolved {
				continue
			}
			if _, seen := cameFrom[e.DstUnitID]; seen {
				continue
			}
			edgeCopy := e
			cameFrom[e.DstUnitID] = &edgeCopy
			queue = append(queue, queueItem{unitID: e.DstUnitID, depth: current.depth + 1})
		}
	}

	return nil, fmt.Errorf("no path found from %s to %s within depth %d", from, to, maxDepth)
}

// DeleteByUnit removes every edge touching unitID, for callers that have a
// specific unit id to purge rather than a whole file.
func (s *Store) DeleteByUnit(unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM edges WHERE src_unit_id = ? OR dst_unit_id = ?", unitID, unitID)
	return err
}

// DeleteByFile removes every edge recorded against path, used when the
// Change Ledger reports a file was deleted: edges are extracted per file,
// so every edge a deleted file contributed carries that file's path
// regardless of which unit ids they touch.
func (s *Store) DeleteByFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM edges WHERE file_path = ?", path)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
