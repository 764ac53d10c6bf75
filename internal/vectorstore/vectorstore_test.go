package vectorstore

import (
	"context"
	"testing"
	"time"

	"codeintel/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", "test-model", 4)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndKNN(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vectors := map[string][]float32{
		"cat": {1, 0, 0, 0},
		"dog": {0.9, 0.1, 0, 0},
		"car": {0, 0, 1, 0},
	}
	for id, vec := range vectors {
		e := model.Embedding{UnitID: id, Vector: vec, ModelID: "test-model", Dimension: 4, CreatedAt: time.Now()}
		if err := s.Upsert(ctx, e, "file.go", model.LangGo); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", id, err)
		}
	}

	results, err := s.KNN(ctx, []float32{1, 0, 0, 0}, 2, Filter{})
	if err != nil {
		t.Fatalf("KNN failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].UnitID != "cat" {
		t.Errorf("expected nearest neighbor 'cat', got %q", results[0].UnitID)
	}
	if results[1].UnitID != "dog" {
		t.Errorf("expected second neighbor 'dog', got %q", results[1].UnitID)
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := model.Embedding{UnitID: "bad", Vector: []float32{1, 2}, ModelID: "test-model", Dimension: 2, CreatedAt: time.Now()}
	if err := s.Upsert(ctx, e, "file.go", model.LangGo); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestKNNRespectsPathFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := model.Embedding{UnitID: "a", Vector: []float32{1, 0, 0, 0}, ModelID: "test-model", Dimension: 4, CreatedAt: time.Now()}
	b := model.Embedding{UnitID: "b", Vector: []float32{1, 0, 0, 0}, ModelID: "test-model", Dimension: 4, CreatedAt: time.Now()}
	if err := s.Upsert(ctx, a, "pkg/foo/a.go", model.LangGo); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, b, "pkg/bar/b.go", model.LangGo); err != nil {
		t.Fatal(err)
	}

	results, err := s.KNN(ctx, []float32{1, 0, 0, 0}, 10, Filter{PathPrefix: "pkg/foo/"})
	if err != nil {
		t.Fatalf("KNN failed: %v", err)
	}
	if len(results) != 1 || results[0].UnitID != "a" {
		t.Fatalf("expected only unit 'a', got %+v", results)
	}
}

func TestDeleteRemovesEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := model.Embedding{UnitID: "gone", Vector: []float32{1, 0, 0, 0}, ModelID: "test-model", Dimension: 4, CreatedAt: time.Now()}
	if err := s.Upsert(ctx, e, "f.go", model.LangGo); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	count, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 embeddings after delete, got %d", count)
	}
}

func TestDeleteByFileRemovesOnlyThatFilesEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := model.Embedding{UnitID: "a", Vector: []float32{1, 0, 0, 0}, ModelID: "test-model", Dimension: 4, CreatedAt: time.Now()}
	b := model.Embedding{UnitID: "b", Vector: []float32{0, 1, 0, 0}, ModelID: "test-model", Dimension: 4, CreatedAt: time.Now()}
	if err := s.Upsert(ctx, a, "gone.go", model.LangGo); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, b, "stays.go", model.LangGo); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteByFile("gone.go"); err != nil {
		t.Fatalf("DeleteByFile failed: %v", err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 embedding to survive, got %d", count)
	}
}
