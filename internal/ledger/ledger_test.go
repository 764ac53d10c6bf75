package ledger

import (
	"context"
	"testing"
	"time"

	"codeintel/internal/model"
)

func newTestLedger(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDiffClassifiesAddedOnEmptyLedger(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	files := []model.File{
		{Path: "a.go", ContentHash: "h1", Size: 10, LastModified: time.Now()},
	}
	records, err := s.Diff(ctx, files)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(records) != 1 || records[0].Status != model.StatusAdded {
		t.Fatalf("expected single added record, got %+v", records)
	}
}

func TestDiffClassifiesModifiedAndUnchanged(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	initial := []model.File{{Path: "a.go", ContentHash: "h1"}, {Path: "b.go", ContentHash: "h2"}}
	records, err := s.Diff(ctx, initial)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx, records); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	next := []model.File{{Path: "a.go", ContentHash: "h1-changed"}, {Path: "b.go", ContentHash: "h2"}}
	records, err = s.Diff(ctx, next)
	if err != nil {
		t.Fatal(err)
	}

	statuses := map[string]model.ChangeStatus{}
	for _, r := range records {
		statuses[r.Path] = r.Status
	}
	if statuses["a.go"] != model.StatusModified {
		t.Errorf("expected a.go modified, got %s", statuses["a.go"])
	}
	if statuses["b.go"] != model.StatusUnchanged {
		t.Errorf("expected b.go unchanged, got %s", statuses["b.go"])
	}
}

func TestDiffClassifiesDeleted(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	records, err := s.Diff(ctx, []model.File{{Path: "a.go", ContentHash: "h1"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx, records); err != nil {
		t.Fatal(err)
	}

	records, err = s.Diff(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != model.StatusDeleted || records[0].Path != "a.go" {
		t.Fatalf("expected single deleted record for a.go, got %+v", records)
	}
}

func TestCommitPersistsAcrossDiffs(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	records, err := s.Diff(ctx, []model.File{{Path: "a.go", ContentHash: "h1"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx, records); err != nil {
		t.Fatal(err)
	}

	hash, tracked, err := s.Get("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if !tracked || hash != "h1" {
		t.Fatalf("expected a.go tracked with hash h1, got tracked=%v hash=%s", tracked, hash)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestCommitRemovesDeletedEntries(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	records, err := s.Diff(ctx, []model.File{{Path: "a.go", ContentHash: "h1"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx, records); err != nil {
		t.Fatal(err)
	}

	deleteRecords, err := s.Diff(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx, deleteRecords); err != nil {
		t.Fatal(err)
	}

	_, tracked, err := s.Get("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if tracked {
		t.Fatal("expected a.go to no longer be tracked after deletion commit")
	}
}

func TestDiffDoesNotMutateLedger(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	if _, err := s.Diff(ctx, []model.File{{Path: "a.go", ContentHash: "h1"}}); err != nil {
		t.Fatal(err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected Diff alone to leave ledger empty, got count %d", count)
	}
}

func TestUpsertUnitsAndDeleteByFile(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	units := []model.Unit{
		{UnitID: "u1", FilePath: "a.go", Kind: model.KindFunction, Name: "F", QualifiedName: "a.F", StartLine: 1, EndLine: 3, Parameters: []string{"x", "y"}},
		{UnitID: "u2", FilePath: "a.go", Kind: model.KindFunction, Name: "G", QualifiedName: "a.G", StartLine: 5, EndLine: 7},
		{UnitID: "u3", FilePath: "b.go", Kind: model.KindFunction, Name: "H", QualifiedName: "b.H", StartLine: 1, EndLine: 2},
	}
	stored, err := s.UpsertUnits(ctx, units)
	if err != nil {
		t.Fatalf("UpsertUnits failed: %v", err)
	}
	if stored != 3 {
		t.Fatalf("expected 3 units stored, got %d", stored)
	}

	count, err := s.UnitCountForFile("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 units for a.go, got %d", count)
	}

	if err := s.DeleteUnitsByFile(ctx, "a.go"); err != nil {
		t.Fatalf("DeleteUnitsByFile failed: %v", err)
	}

	count, err = s.UnitCountForFile("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected a.go's units purged, got %d", count)
	}

	count, err = s.UnitCountForFile("b.go")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected b.go's units to survive, got %d", count)
	}
}

func TestRecordDuplicateRunPersistsStats(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	runID, err := s.RecordDuplicateRun(ctx, DuplicateRunStats{GroupCount: 2, UnitCount: 5, EstimatedLinesSaved: 40, Degraded: false})
	if err != nil {
		t.Fatalf("RecordDuplicateRun failed: %v", err)
	}
	if runID == "" {
		t.Fatal("expected a non-empty run id")
	}

	var storedStats string
	if err := s.db.QueryRow("SELECT stats_json FROM duplicate_runs WHERE run_id = ?", runID).Scan(&storedStats); err != nil {
		t.Fatalf("expected duplicate run row to exist: %v", err)
	}
	if storedStats == "" {
		t.Fatal("expected non-empty stats_json")
	}
}
