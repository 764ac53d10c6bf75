package embedding

// TaskType names a GenAI embedding task type, which changes how the
// model weights the vector for retrieval. A GenAIEngine sends the one
// task type set by Config.TaskType with every request, for units and
// queries alike; the Ollama engine ignores it.
type TaskType string

const (
	// TaskIndexUnit is used when embedding a unit for storage.
	TaskIndexUnit TaskType = "CODE_RETRIEVAL_DOCUMENT"
	// TaskSearchQuery is used when embedding a free-text search query.
	TaskSearchQuery TaskType = "CODE_RETRIEVAL_QUERY"
	// TaskSimilarity is used when comparing two units directly (the
	// Similarity Engine's cosine pass), where neither side is a query.
	TaskSimilarity TaskType = "SEMANTIC_SIMILARITY"
)

func (t TaskType) String() string { return string(t) }
