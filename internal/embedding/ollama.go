package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"codeintel/internal/logging"

	"github.com/cenkalti/backoff/v5"
)

// =============================================================================
// OLLAMA EMBEDDING ENGINE
// =============================================================================

// OllamaEngine generates embeddings using a local Ollama server. Supports
// embeddinggemma and other embedding models.
type OllamaEngine struct {
	endpoint   string
	model      string
	client     *http.Client
	maxRetries int
}

// NewOllamaEngine creates a new Ollama embedding engine.
func NewOllamaEngine(endpoint, model string, maxRetries int) (*OllamaEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewOllamaEngine")
	defer timer.Stop()

	log := logging.Get(logging.CategoryEmbedding)
	if endpoint == "" {
		endpoint = "http://localhost:11434"
		log.Debug("ollama endpoint defaulted to %s", endpoint)
	}
	if model == "" {
		model = "embeddinggemma"
		log.Debug("ollama model defaulted to %s", model)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &OllamaEngine{
		endpoint:   endpoint,
		model:      model,
		maxRetries: maxRetries,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Embed generates an embedding for a single text, retrying transient
// failures (network errors, 5xx, 429) with bounded exponential backoff.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "Ollama.Embed")
	log := logging.Get(logging.CategoryEmbedding)

	result, err := backoff.Retry(ctx, func() (ollamaEmbedResponse, error) {
		return e.embedOnce(ctx, text)
	}, backoff.WithMaxTries(uint(e.maxRetries)))

	if err != nil {
		timer.Stop()
		log.Error("Ollama.Embed: failed after retries: %v", err)
		return nil, err
	}

	timer.StopWithInfo(map[string]interface{}{"dimensions": len(result.Embedding)})
	return result.Embedding, nil
}

func (e *OllamaEngine) embedOnce(ctx context.Context, text string) (ollamaEmbedResponse, error) {
	log := logging.Get(logging.CategoryEmbedding)

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return ollamaEmbedResponse{}, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return ollamaEmbedResponse{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		log.Warn("Ollama.Embed: request error, will retry: %v", err)
		return ollamaEmbedResponse{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Warn("Ollama.Embed: status %d, will retry: %s", resp.StatusCode, string(bodyBytes))
		return ollamaEmbedResponse{}, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return ollamaEmbedResponse{}, backoff.Permanent(fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ollamaEmbedResponse{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return result, nil
}

// EmbedBatch generates embeddings for multiple texts. Ollama has no native
// batch API, so each text is embedded sequentially.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "Ollama.EmbedBatch")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		embedding, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings. embeddinggemma
// produces 768-dimensional vectors; other Ollama models may vary.
func (e *OllamaEngine) Dimensions() int {
	return 768
}

// Name returns the engine name.
func (e *OllamaEngine) Name() string {
	return fmt.Sprintf("ollama:%s", e.model)
}

// =============================================================================
// OLLAMA API TYPES
// =============================================================================

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}
