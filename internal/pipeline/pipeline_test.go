package pipeline

import (
	"context"
	"fmt"
	"testing"

	"codeintel/internal/graph"
	"codeintel/internal/ledger"
	"codeintel/internal/model"
	"codeintel/internal/vectorstore"
)

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(i + 1)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }
func (f *fakeEmbedder) Name() string    { return "fake" }

func newTestPipeline(t *testing.T) (*Pipeline, *ledger.Store, *vectorstore.Store, *graph.Store) {
	t.Helper()
	l, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatalf("ledger.Open failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	vs, err := vectorstore.Open(":memory:", "test-model", 4)
	if err != nil {
		t.Fatalf("vectorstore.Open failed: %v", err)
	}
	t.Cleanup(func() { vs.Close() })

	gs, err := graph.Open(":memory:")
	if err != nil {
		t.Fatalf("graph.Open failed: %v", err)
	}
	t.Cleanup(func() { gs.Close() })

	p := New(Config{}, l, &fakeEmbedder{dim: 4}, vs, gs, "test-model", 0.05)
	return p, l, vs, gs
}

func TestIngestProcessesAddedFiles(t *testing.T) {
	p, _, vs, _ := newTestPipeline(t)
	ctx := context.Background()

	content := map[string][]byte{
		"a.go": []byte("package a\n\nfunc F() {\n\treturn\n}\n"),
	}
	files := []model.File{{Path: "a.go", ContentHash: "h1", Language: model.LangGo}}

	stats, err := p.Ingest(ctx, files, func(path string) ([]byte, error) { return content[path], nil })
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if stats.Added != 1 || stats.Processed != 1 {
		t.Fatalf("expected 1 added/processed, got %+v", stats)
	}

	count, err := vs.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count == 0 {
		t.Fatal("expected at least one embedding stored")
	}
}

func TestIngestSkipsUnchangedFiles(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	ctx := context.Background()

	content := map[string][]byte{"a.go": []byte("package a\n\nfunc F() {}\n")}
	files := []model.File{{Path: "a.go", ContentHash: "h1", Language: model.LangGo}}

	if _, err := p.Ingest(ctx, files, func(path string) ([]byte, error) { return content[path], nil }); err != nil {
		t.Fatal(err)
	}

	stats, err := p.Ingest(ctx, files, func(path string) ([]byte, error) {
		t.Fatal("unchanged file should not be re-read")
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Unchanged != 1 || stats.Processed != 0 {
		t.Fatalf("expected 1 unchanged and 0 processed, got %+v", stats)
	}
}

func TestIngestFailsAboveMaxErrorRate(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	p.maxErrorRate = 0.01
	ctx := context.Background()

	files := []model.File{
		{Path: "a.go", ContentHash: "h1", Language: model.LangGo},
		{Path: "b.go", ContentHash: "h2", Language: model.LangGo},
	}

	_, err := p.Ingest(ctx, files, func(path string) ([]byte, error) {
		return nil, fmt.Errorf("simulated read failure for %s", path)
	})
	if err == nil {
		t.Fatal("expected error rate to exceed MAX_ERROR_RATE")
	}
}

func TestIngestPurgesDeletedFiles(t *testing.T) {
	p, l, vs, gs := newTestPipeline(t)
	ctx := context.Background()

	content := map[string][]byte{"a.go": []byte("package a\n\nfunc F() {}\n")}
	files := []model.File{{Path: "a.go", ContentHash: "h1", Language: model.LangGo}}
	if _, err := p.Ingest(ctx, files, func(path string) ([]byte, error) { return content[path], nil }); err != nil {
		t.Fatal(err)
	}

	// A real edge is keyed by unit ids (path plus name), never by the bare
	// file path, so plant one that way rather than an edge keyed on "a.go" itself
	// (which would still pass even if purge-by-file were broken).
	if err := gs.UpsertEdge(ctx, model.Edge{SrcUnitID: "a.go#F", DstUnitID: "x", Kind: model.EdgeCalls}, "a.go"); err != nil {
		t.Fatal(err)
	}

	countBefore, err := vs.Count()
	if err != nil {
		t.Fatal(err)
	}
	if countBefore == 0 {
		t.Fatal("expected at least one embedding stored before deletion")
	}

	stats, err := p.Ingest(ctx, nil, func(path string) ([]byte, error) { return nil, nil })
	if err != nil {
		t.Fatal(err)
	}
	if stats.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %+v", stats)
	}

	edges, err := gs.Neighbors(ctx, "a.go#F", graph.Both)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected edges purged for deleted file, got %d", len(edges))
	}

	countAfter, err := vs.Count()
	if err != nil {
		t.Fatal(err)
	}
	if countAfter != 0 {
		t.Fatalf("expected embeddings purged for deleted file, got %d", countAfter)
	}

	unitCount, err := l.UnitCountForFile("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if unitCount != 0 {
		t.Fatalf("expected units purged for deleted file, got %d", unitCount)
	}
}
