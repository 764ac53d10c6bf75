package similarity

import (
	"context"
	"testing"
	"time"

	"codeintel/internal/model"
	"codeintel/internal/vectorstore"
)

func defaultThresholds() Thresholds {
	return Thresholds{Exact: 1.0, Semantic: 0.9, Structural: 0.8, TopKNeighbors: 10}
}

func TestClassifyExactWins(t *testing.T) {
	p := Pair{Exact: true, Cosine: 0.5, Structural: 0.5}
	dupType, sim, ok := Classify(p, defaultThresholds())
	if !ok || dupType != model.DuplicateExact || sim != 1.0 {
		t.Fatalf("expected exact classification, got type=%s sim=%f ok=%v", dupType, sim, ok)
	}
}

func TestClassifySemanticOverStructural(t *testing.T) {
	p := Pair{Cosine: 0.95, Structural: 0.99}
	dupType, sim, ok := Classify(p, defaultThresholds())
	if !ok || dupType != model.DuplicateSemantic || sim != 0.95 {
		t.Fatalf("expected semantic classification, got type=%s sim=%f ok=%v", dupType, sim, ok)
	}
}

func TestClassifyStructuralFallback(t *testing.T) {
	p := Pair{Cosine: 0.1, Structural: 0.85}
	dupType, _, ok := Classify(p, defaultThresholds())
	if !ok || dupType != model.DuplicateStructural {
		t.Fatalf("expected structural classification, got type=%s ok=%v", dupType, ok)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	p := Pair{Cosine: 0.1, Structural: 0.1}
	_, _, ok := Classify(p, defaultThresholds())
	if ok {
		t.Fatal("expected no classification below all thresholds")
	}
}

func TestTokenSetFiltersStopwords(t *testing.T) {
	toks := TokenSet("the quick fox and the lazy dog")
	if toks["the"] != 0 {
		t.Error("expected 'the' to be filtered as a stopword")
	}
	if toks["quick"] != 1 || toks["fox"] != 1 {
		t.Errorf("expected content words preserved, got %v", toks)
	}
}

func TestStructuralTokensExtractsKeywordsAndPunctuation(t *testing.T) {
	toks := StructuralTokens("if (x) { return y; } else { return z; }")
	if toks["if"] != 1 || toks["else"] != 1 {
		t.Errorf("expected if/else counted, got %v", toks)
	}
	if toks["{"] != 2 || toks["}"] != 2 {
		t.Errorf("expected brace counts, got %v", toks)
	}
}

func TestUnionFindGroupsTransitively(t *testing.T) {
	uf := newUnionFind()
	uf.union("a", "b")
	uf.union("b", "c")
	uf.union("x", "y")

	groups := uf.groups()
	sizes := map[int]int{}
	for _, members := range groups {
		sizes[len(members)]++
	}
	if sizes[3] != 1 || sizes[2] != 1 {
		t.Fatalf("expected one group of 3 and one of 2, got sizes %v (%v)", sizes, groups)
	}
}

func TestDetectDuplicatesFindsExactPair(t *testing.T) {
	store, err := vectorstore.Open(":memory:", "model", 4)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	units := []model.Unit{
		{UnitID: "u1", FilePath: "a.go", NormalizedHash: "hash1", NormalizedText: "func foo() { return 1 }", StartLine: 1, EndLine: 3},
		{UnitID: "u2", FilePath: "b.go", NormalizedHash: "hash1", NormalizedText: "func foo() { return 1 }", StartLine: 1, EndLine: 3},
		{UnitID: "u3", FilePath: "c.go", NormalizedHash: "hash2", NormalizedText: "func bar(a, b int) int { if a > b { return a }; return b }", StartLine: 1, EndLine: 3},
	}

	embeddings := map[string]model.Embedding{
		"u1": {UnitID: "u1", Vector: []float32{1, 0, 0, 0}, ModelID: "model", Dimension: 4, CreatedAt: time.Now()},
		"u2": {UnitID: "u2", Vector: []float32{1, 0, 0, 0}, ModelID: "model", Dimension: 4, CreatedAt: time.Now()},
		"u3": {UnitID: "u3", Vector: []float32{0, 1, 0, 0}, ModelID: "model", Dimension: 4, CreatedAt: time.Now()},
	}

	ctx := context.Background()
	for id, e := range embeddings {
		var unit model.Unit
		for _, u := range units {
			if u.UnitID == id {
				unit = u
			}
		}
		if err := store.Upsert(ctx, e, unit.FilePath, model.LangGo); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", id, err)
		}
	}

	engine := NewEngine(store, defaultThresholds())
	report, err := engine.DetectDuplicates(ctx, units, embeddings)
	if err != nil {
		t.Fatalf("DetectDuplicates failed: %v", err)
	}
	if report.Degraded {
		t.Error("expected non-degraded report when all embeddings present")
	}

	found := false
	for _, g := range report.Groups {
		if g.Type == model.DuplicateExact && len(g.Members) == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an exact duplicate group of 2, got %+v", report.Groups)
	}
}

func TestDetectDuplicatesDegradesWithoutEmbeddings(t *testing.T) {
	store, err := vectorstore.Open(":memory:", "model", 4)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	units := []model.Unit{
		{UnitID: "u1", FilePath: "a.go", NormalizedHash: "hash1", NormalizedText: "func foo() {}"},
		{UnitID: "u2", FilePath: "a.go", NormalizedHash: "hash1", NormalizedText: "func foo() {}"},
	}

	engine := NewEngine(store, defaultThresholds())
	report, err := engine.DetectDuplicates(context.Background(), units, map[string]model.Embedding{})
	if err != nil {
		t.Fatalf("DetectDuplicates failed: %v", err)
	}
	if !report.Degraded {
		t.Error("expected degraded report when no embeddings are available")
	}
	if len(report.Groups) != 1 || report.Groups[0].Type != model.DuplicateExact {
		t.Fatalf("expected one exact group from in-file comparison, got %+v", report.Groups)
	}
}
