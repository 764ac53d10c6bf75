package graph

import (
	"fmt"
	"strings"

	"codeintel/internal/logging"
	"codeintel/internal/model"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// reachesProgram declares a transitive closure over the "calls" edge kind,
// so "what can unit X reach through calls" is a Datalog query instead of a
// hand-rolled traversal, answered unbounded regardless of hop count. The
// BFS in Impact walks the other way (incoming calls and contains edges)
// and is bounded by depth.
const reachesProgram = `
Decl calls_edge(Caller.Type<n>, Callee.Type<n>).
Decl reaches(Caller.Type<n>, Callee.Type<n>).

reaches(A, B) :- calls_edge(A, B).
reaches(A, C) :- calls_edge(A, B), reaches(B, C).
`

// DatalogIndex is a Mangle-backed fact store over this graph's call
// edges, rebuilt from the SQLite edge table on demand. It complements
// Store.Impact's bounded BFS with an unbounded transitive "reaches" query.
type DatalogIndex struct {
	store       factstore.FactStore
	programInfo *analysis.ProgramInfo
}

// BuildDatalogIndex loads every resolved "calls" edge from the graph store
// and evaluates the reaches program to a fixed point.
func (s *Store) BuildDatalogIndex() (*DatalogIndex, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "BuildDatalogIndex")
	defer timer.Stop()

	unit, err := parse.Unit(strings.NewReader(reachesProgram))
	if err != nil {
		return nil, fmt.Errorf("parse datalog program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze datalog program: %w", err)
	}
	store := factstore.NewSimpleInMemoryStore()

	s.mu.RLock()
	rows, err := s.db.Query("SELECT src_unit_id, dst_unit_id FROM edges WHERE kind = ? AND unresolved = 0", string(model.EdgeCalls))
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("query call edges: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var src, dst string
		if err := rows.Scan(&src, &dst); err != nil {
			continue
		}
		store.Add(ast.NewAtom("calls_edge", ast.String(src), ast.String(dst)))
		loaded++
	}

	if _, err := engine.EvalProgramWithStats(programInfo, store); err != nil {
		return nil, fmt.Errorf("evaluate datalog program: %w", err)
	}

	logging.Get(logging.CategoryGraph).Info("datalog index built from %d call edges", loaded)
	return &DatalogIndex{store: store, programInfo: programInfo}, nil
}

// Reaches returns every unit transitively reachable from unitID by calls
// edges, unbounded by depth.
func (idx *DatalogIndex) Reaches(unitID string) ([]string, error) {
	pred := ast.PredicateSym{Symbol: "reaches", Arity: 2}
	query := ast.NewQuery(pred)

	var out []string
	err := idx.store.GetFacts(query, func(atom ast.Atom) error {
		if len(atom.Args) != 2 {
			return nil
		}
		caller, ok := atom.Args[0].(ast.Constant)
		if !ok || caller.Symbol != unitID {
			return nil
		}
		callee, ok := atom.Args[1].(ast.Constant)
		if !ok {
			return nil
		}
		out = append(out, callee.Symbol)
		return nil
	})
	return out, err
}
