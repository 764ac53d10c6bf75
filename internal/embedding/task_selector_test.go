package embedding

import "testing"

func TestTaskTypeString(t *testing.T) {
	if TaskIndexUnit.String() != "CODE_RETRIEVAL_DOCUMENT" {
		t.Fatalf("TaskIndexUnit.String()=%q, want CODE_RETRIEVAL_DOCUMENT", TaskIndexUnit.String())
	}
	if TaskSearchQuery.String() != "CODE_RETRIEVAL_QUERY" {
		t.Fatalf("TaskSearchQuery.String()=%q, want CODE_RETRIEVAL_QUERY", TaskSearchQuery.String())
	}
	if TaskSimilarity.String() != "SEMANTIC_SIMILARITY" {
		t.Fatalf("TaskSimilarity.String()=%q, want SEMANTIC_SIMILARITY", TaskSimilarity.String())
	}
}
