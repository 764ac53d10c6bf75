package embedding

import (
	"context"
	"fmt"
	"time"

	"codeintel/internal/logging"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// maxBatchSize is the maximum number of texts allowed in a single GenAI batch
// request; the API returns an error if more than 100 are in one call.
const maxBatchSize = 100

const defaultGenAIDimension = 3072

func int32Ptr(i int32) *int32 {
	return &i
}

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client     *genai.Client
	model      string
	taskType   string
	dimension  int32
	maxRetries int
}

// NewGenAIEngine creates a new GenAI embedding engine. dimension, when
// nonzero, is passed as OutputDimensionality so the vector store's pinned
// model_id and dimension stay consistent across providers.
func NewGenAIEngine(apiKey, model, taskType string, dimension, maxRetries int) (*GenAIEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewGenAIEngine")
	defer timer.Stop()

	log := logging.Get(logging.CategoryEmbedding)
	if apiKey == "" {
		log.Error("genai api key is required but not provided")
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
		log.Debug("genai model defaulted to %s", model)
	}
	if taskType == "" {
		taskType = string(TaskSimilarity)
		log.Debug("genai task type defaulted to %s", taskType)
	}
	if dimension <= 0 {
		dimension = defaultGenAIDimension
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		log.Error("failed to create genai client: %v", err)
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{
		client:     client,
		model:      model,
		taskType:   taskType,
		dimension:  int32(dimension),
		maxRetries: maxRetries,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "GenAI.Embed")
	log := logging.Get(logging.CategoryEmbedding)

	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		timer.Stop()
		log.Error("GenAI.Embed: failed after retries: %v", err)
		return nil, err
	}
	if len(embeddings) == 0 {
		timer.Stop()
		return nil, fmt.Errorf("no embeddings returned")
	}

	timer.StopWithInfo(map[string]interface{}{"dimensions": len(embeddings[0])})
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts. GenAI has native
// batch support but limits batches to maxBatchSize; larger inputs are
// chunked and each chunk retried independently.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "GenAI.EmbedBatch")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}

	if len(texts) <= maxBatchSize {
		return e.embedWithRetry(ctx, texts)
	}

	numBatches := (len(texts) + maxBatchSize - 1) / maxBatchSize
	allEmbeddings := make([][]float32, 0, len(texts))

	for batchIdx := 0; batchIdx < numBatches; batchIdx++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		start := batchIdx * maxBatchSize
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		chunkEmbeddings, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d failed: %w", batchIdx+1, numBatches, err)
		}
		allEmbeddings = append(allEmbeddings, chunkEmbeddings...)
	}

	return allEmbeddings, nil
}

// embedWithRetry wraps embedBatchChunk with bounded exponential backoff for
// transient GenAI errors (rate limiting, transport failures).
func (e *GenAIEngine) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	return backoff.Retry(ctx, func() ([][]float32, error) {
		return e.embedBatchChunk(ctx, texts)
	}, backoff.WithMaxTries(uint(e.maxRetries)))
}

// embedBatchChunk processes a single batch chunk (must be <= maxBatchSize).
func (e *GenAIEngine) embedBatchChunk(ctx context.Context, texts []string) ([][]float32, error) {
	log := logging.Get(logging.CategoryEmbedding)

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	apiStart := time.Now()
	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType:             e.taskType,
			OutputDimensionality: int32Ptr(e.dimension),
		},
	)
	if err != nil {
		log.Warn("GenAI.embedBatchChunk: call failed after %v, will retry: %v", time.Since(apiStart), err)
		return nil, err
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings this engine was
// configured to produce.
func (e *GenAIEngine) Dimensions() int {
	return int(e.dimension)
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}

// Close is a no-op for the GenAI client.
func (e *GenAIEngine) Close() error {
	return nil
}
