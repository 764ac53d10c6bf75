// Package engine is the single facade the CLI (and any other external
// collaborator) drives: Ingest, Search, FindSimilar, DuplicateReport,
// Neighbors, and Impact, each backed by the Scanner, Ledger, Extractor,
// Embedding Pipeline, Vector Store, Similarity Engine, and Relationship
// Graph wired together underneath.
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"codeintel/internal/cache"
	"codeintel/internal/config"
	"codeintel/internal/embedding"
	"codeintel/internal/graph"
	"codeintel/internal/ledger"
	"codeintel/internal/logging"
	"codeintel/internal/model"
	"codeintel/internal/pipeline"
	"codeintel/internal/scanner"
	"codeintel/internal/similarity"
	"codeintel/internal/vectorstore"
)

// Engine owns every store for one project root and exposes the query
// surface the CLI calls into. It is the only package cmd/codeintel talks
// to.
type Engine struct {
	cfg      config.Config
	root     string
	scanner  *scanner.Scanner
	ledger   *ledger.Store
	vectors  *vectorstore.Store
	graph    *graph.Store
	cache    *cache.Cache
	embedder embedding.EmbeddingEngine
	pipeline *pipeline.Pipeline
	sim      *similarity.Engine
}

// Open builds an Engine rooted at projectRoot, creating or opening its
// .codeintel state directory.
func Open(ctx context.Context, projectRoot string, cfg config.Config) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "OpenEngine")
	defer timer.Stop()

	stateDir := filepath.Join(projectRoot, ".codeintel")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	l, err := ledger.Open(filepath.Join(stateDir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	vs, err := vectorstore.Open(filepath.Join(stateDir, "vectors.db"), cfg.Embedding.ModelID, cfg.Embedding.Dimension)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	gs, err := graph.Open(filepath.Join(stateDir, "graph.db"))
	if err != nil {
		l.Close()
		vs.Close()
		return nil, fmt.Errorf("open graph: %w", err)
	}

	l2Dir := cfg.Cache.L2Dir
	if l2Dir != "" && !filepath.IsAbs(l2Dir) {
		l2Dir = filepath.Join(projectRoot, l2Dir)
	}
	c := cache.New(cache.Config{
		L1MaxEntries:    cfg.Cache.L1MaxEntries,
		L2Dir:           l2Dir,
		RemoteURL:       cfg.Cache.RemoteURL,
		RemoteTimeoutMs: cfg.Cache.RemoteTimeoutMs,
	})

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:   "ollama",
		Dimension:  cfg.Embedding.Dimension,
		MaxRetries: 3,
	})
	if err != nil {
		l.Close()
		vs.Close()
		gs.Close()
		return nil, fmt.Errorf("init embedding engine: %w", err)
	}

	scannerCfg := scanner.Config{
		Include:      cfg.Scanner.IncludeGlobs,
		Exclude:      cfg.Scanner.ExcludeGlobs,
		MaxFileBytes: cfg.Scanner.MaxFileBytes,
	}

	thresholds := similarity.Thresholds{
		Exact:         cfg.Similarity.ExactThreshold,
		Semantic:      cfg.Similarity.SemanticThreshold,
		Structural:    cfg.Similarity.StructuralThreshold,
		TopKNeighbors: cfg.Similarity.TopKNeighbors,
	}

	e := &Engine{
		cfg:      cfg,
		root:     projectRoot,
		scanner:  scanner.New(scannerCfg, projectRoot),
		ledger:   l,
		vectors:  vs,
		graph:    gs,
		cache:    c,
		embedder: cachedEmbedder{inner: embedder, cache: c},
		sim:      similarity.NewEngine(vs, thresholds),
	}
	e.pipeline = pipeline.New(pipeline.Config{
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		BatchSize:      cfg.Embedding.BatchSize,
	}, l, e.embedder, vs, gs, cfg.Embedding.ModelID, 0.05)

	return e, nil
}

// Close releases every underlying store.
func (e *Engine) Close() error {
	var firstErr error
	for _, closer := range []func() error{e.ledger.Close, e.vectors.Close, e.graph.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IngestResult reports the change counts from one Ingest call.
type IngestResult struct {
	Added, Modified, Deleted, Unchanged int
	Processed, Skipped, Failed          int
}

// Ingest runs Scanner → Ledger → Extractor → Embedding Pipeline over the
// project root and returns the per-stage change and outcome counts.
func (e *Engine) Ingest(ctx context.Context) (IngestResult, error) {
	result, err := e.scanner.ScanDirectory(ctx, e.root)
	if err != nil {
		return IngestResult{}, fmt.Errorf("scan: %w", err)
	}

	stats, err := e.pipeline.Ingest(ctx, result.Files, func(path string) ([]byte, error) {
		return os.ReadFile(path)
	})
	ir := IngestResult{
		Added: stats.Added, Modified: stats.Modified, Deleted: stats.Deleted, Unchanged: stats.Unchanged,
		Processed: stats.Processed, Skipped: stats.Skipped, Failed: stats.Failed,
	}
	return ir, err
}

// SearchResult is one ranked hit from Search or FindSimilar.
type SearchResult struct {
	UnitID    string
	FilePath  string
	Score     float64
	MatchType string
}

// Search embeds queryText with the same embedder (and so the same task
// type) used for units at ingest, and returns the k nearest units,
// optionally restricted by filter.
func (e *Engine) Search(ctx context.Context, queryText string, k int, filter vectorstore.Filter) ([]SearchResult, error) {
	vec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	neighbors, err := e.vectors.KNN(ctx, vec, k, filter)
	if err != nil {
		return nil, fmt.Errorf("knn: %w", err)
	}
	return toSearchResults(neighbors, "semantic"), nil
}

// FindSimilar returns the k nearest units to an existing unit's stored
// embedding.
func (e *Engine) FindSimilar(ctx context.Context, unitID string, k int) ([]SearchResult, error) {
	embeddings, fileOf, err := e.vectors.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	var query []float32
	for _, emb := range embeddings {
		if emb.UnitID == unitID {
			query = emb.Vector
			break
		}
	}
	if query == nil {
		return nil, fmt.Errorf("unit %s has no stored embedding", unitID)
	}
	_ = fileOf

	neighbors, err := e.vectors.KNN(ctx, query, k+1, vectorstore.Filter{})
	if err != nil {
		return nil, fmt.Errorf("knn: %w", err)
	}
	out := toSearchResults(neighbors, "semantic")
	filtered := out[:0]
	for _, r := range out {
		if r.UnitID != unitID {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func toSearchResults(neighbors []vectorstore.Neighbor, matchType string) []SearchResult {
	out := make([]SearchResult, len(neighbors))
	for i, n := range neighbors {
		out[i] = SearchResult{UnitID: n.UnitID, FilePath: n.FilePath, Score: n.Similarity, MatchType: matchType}
	}
	return out
}

// DuplicateReport runs the Similarity Engine over units, using each
// unit's stored embedding where one exists (units without one put the
// report in degraded mode), then records the run's summary stats in the
// ledger's duplicate_runs history.
func (e *Engine) DuplicateReport(ctx context.Context, units []model.Unit) (similarity.Report, error) {
	embeddings, _, err := e.vectors.All(ctx)
	if err != nil {
		return similarity.Report{}, fmt.Errorf("load embeddings: %w", err)
	}
	byUnit := make(map[string]model.Embedding, len(embeddings))
	for _, emb := range embeddings {
		byUnit[emb.UnitID] = emb
	}
	report, err := e.sim.DetectDuplicates(ctx, units, byUnit)
	if err != nil {
		return report, err
	}

	linesSaved := 0
	for _, g := range report.Groups {
		linesSaved += g.EstimatedLinesSaved
	}
	stats := ledger.DuplicateRunStats{
		GroupCount:          len(report.Groups),
		UnitCount:           len(units),
		EstimatedLinesSaved: linesSaved,
		Degraded:            report.Degraded,
	}
	if _, err := e.ledger.RecordDuplicateRun(ctx, stats); err != nil {
		logging.Get(logging.CategoryPipeline).Warn("record duplicate run: %v", err)
	}
	return report, nil
}

// Neighbors delegates to the Relationship Graph.
func (e *Engine) Neighbors(ctx context.Context, unitID string, dir graph.Direction, kinds ...model.EdgeKind) ([]model.Edge, error) {
	return e.graph.Neighbors(ctx, unitID, dir, kinds...)
}

// Impact delegates to the Relationship Graph's bounded BFS, banded by
// the configured risk thresholds.
func (e *Engine) Impact(ctx context.Context, unitID string, maxDepth int) (graph.ImpactResult, error) {
	thresholds := model.RiskThresholds{Critical: e.cfg.Risk.Critical, High: e.cfg.Risk.High, Medium: e.cfg.Risk.Medium}
	return e.graph.Impact(ctx, unitID, maxDepth, thresholds)
}

// TransitiveReaches returns every unit reachable from unitID by following
// outgoing calls edges, regardless of hop count, by evaluating a Datalog
// transitive-closure query. This is the opposite direction from Impact,
// which walks incoming calls and contains edges up to a depth bound.
func (e *Engine) TransitiveReaches(unitID string) ([]string, error) {
	idx, err := e.graph.BuildDatalogIndex()
	if err != nil {
		return nil, fmt.Errorf("build datalog index: %w", err)
	}
	return idx.Reaches(unitID)
}

// cachedEmbedder wraps an EmbeddingEngine with the multi-tier Cache,
// keyed by provider name + model dimension + text, so repeated ingests
// of unchanged content never re-hit the provider.
type cachedEmbedder struct {
	inner embedding.EmbeddingEngine
	cache *cache.Cache
}

func (c cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.inner.Name(), c.inner.Dimensions(), text)
	blob, err := c.cache.Fill(ctx, key, 0, func(ctx context.Context) ([]byte, error) {
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return encodeFloats(vec), nil
	})
	if err != nil {
		return nil, err
	}
	return decodeFloats(blob), nil
}

func (c cachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c cachedEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c cachedEmbedder) Name() string    { return c.inner.Name() }

func cacheKey(provider string, dim int, text string) string {
	return fmt.Sprintf("embed:%s:%d:%s", provider, dim, text)
}

// encodeFloats/decodeFloats serialize a vector for the on-disk cache
// tiers, mirroring the vector store's own little-endian encoding so a
// cached blob is just as compact as one read back out of sqlite.
func encodeFloats(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		bits := math.Float32bits(f)
		binary.LittleEndian.PutUint32(buf[i*4:], bits)
	}
	return buf
}

func decodeFloats(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}
