// Package pipeline drives one ingest pass per file through Extract,
// Embed, and the Vector Store / Relationship Graph writes, bounded by a
// worker pool and cancellable mid-run. Each file's work is committed as
// one unit so a cancelled pass leaves the ledger consistent with
// whatever files actually finished, per the convergent-idempotence
// requirement: re-running a cancelled pass must reach the same state as
// an uninterrupted one.
package pipeline

import (
	"context"
	"fmt"

	"codeintel/internal/embedding"
	"codeintel/internal/extract"
	"codeintel/internal/graph"
	"codeintel/internal/ledger"
	"codeintel/internal/logging"
	"codeintel/internal/model"
	"codeintel/internal/vectorstore"

	"golang.org/x/sync/errgroup"
)

// Config tunes the pipeline's concurrency and batching.
type Config struct {
	MaxConcurrency int // in-flight file workers; defaults to 4
	BatchSize      int // texts per embedding call; defaults to 32
}

// Stats reports per-stage outcome counts for one ingest pass, surfaced
// to the caller instead of hidden, per the partial-failure policy.
type Stats struct {
	Added, Modified, Deleted, Unchanged int
	Processed, Skipped, Failed         int
}

// ErrorRate returns failed/(processed+failed), the ratio the caller
// compares against MAX_ERROR_RATE.
func (s Stats) ErrorRate() float64 {
	total := s.Processed + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total)
}

// ErrMaxErrorRateExceeded is returned when a pass's failure rate crosses
// the configured MAX_ERROR_RATE, turning an otherwise-successful run
// into a failed one.
var ErrMaxErrorRateExceeded = fmt.Errorf("ingest pass exceeded MAX_ERROR_RATE")

// Pipeline wires the Ledger, Unit Extractor, Embedding Pipeline, Vector
// Store, and Relationship Graph into one per-file ingest worker pool.
type Pipeline struct {
	cfg      Config
	ledger   *ledger.Store
	embedder embedding.EmbeddingEngine
	vectors  *vectorstore.Store
	graph    *graph.Store
	modelID  string

	maxErrorRate float64
}

// New builds a Pipeline from its collaborating stores and the embedding
// engine selected by configuration.
func New(cfg Config, l *ledger.Store, embedder embedding.EmbeddingEngine, vectors *vectorstore.Store, g *graph.Store, modelID string, maxErrorRate float64) *Pipeline {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if maxErrorRate <= 0 {
		maxErrorRate = 0.05
	}
	return &Pipeline{cfg: cfg, ledger: l, embedder: embedder, vectors: vectors, graph: g, modelID: modelID, maxErrorRate: maxErrorRate}
}

// readFile abstracts file content retrieval so tests can inject fixtures
// without touching disk.
type readFile func(path string) ([]byte, error)

// Ingest runs one pass over files, diffing them against the ledger and
// processing every added or modified file through extract → embed →
// store, each as one atomic per-file commit. Deleted files have their
// units, edges, and embeddings purged. Unchanged files are skipped
// entirely: their embeddings are neither recomputed nor re-read.
func (p *Pipeline) Ingest(ctx context.Context, files []model.File, read readFile) (Stats, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "Ingest")
	defer timer.Stop()

	records, err := p.ledger.Diff(ctx, files)
	if err != nil {
		return Stats{}, fmt.Errorf("diff ledger: %w", err)
	}

	stats := Stats{}
	for _, r := range records {
		switch r.Status {
		case model.StatusAdded:
			stats.Added++
		case model.StatusModified:
			stats.Modified++
		case model.StatusDeleted:
			stats.Deleted++
		case model.StatusUnchanged:
			stats.Unchanged++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)

	var statsCh = make(chan fileOutcome, len(records))

	pathByFile := make(map[string]model.File, len(files))
	for _, f := range files {
		pathByFile[f.Path] = f
	}

	for _, r := range records {
		r := r
		switch r.Status {
		case model.StatusUnchanged:
			continue
		case model.StatusDeleted:
			g.Go(func() error {
				outcome := p.processDeleted(gctx, r)
				statsCh <- outcome
				return nil
			})
		default:
			file, ok := pathByFile[r.Path]
			if !ok {
				continue
			}
			g.Go(func() error {
				outcome := p.processFile(gctx, file, r, read)
				statsCh <- outcome
				return nil
			})
		}
	}

	_ = g.Wait()
	close(statsCh)

	for outcome := range statsCh {
		if outcome.err != nil {
			stats.Failed++
			logging.Get(logging.CategoryPipeline).Warn("file %s failed: %v", outcome.record.Path, outcome.err)
			continue
		}
		stats.Processed++
		if err := p.ledger.CommitFile(ctx, outcome.record); err != nil {
			stats.Failed++
			stats.Processed--
			logging.Get(logging.CategoryPipeline).Error("commit failed for %s: %v", outcome.record.Path, err)
		}
	}

	if ctx.Err() != nil {
		return stats, ctx.Err()
	}

	if stats.ErrorRate() > p.maxErrorRate {
		return stats, fmt.Errorf("%w: %.1f%% > %.1f%%", ErrMaxErrorRateExceeded, stats.ErrorRate()*100, p.maxErrorRate*100)
	}

	return stats, nil
}

type fileOutcome struct {
	record model.ChangeRecord
	err    error
}

func (p *Pipeline) processDeleted(ctx context.Context, r model.ChangeRecord) fileOutcome {
	if p.graph != nil {
		if err := p.graph.DeleteByFile(r.Path); err != nil {
			logging.Get(logging.CategoryPipeline).Warn("delete graph edges for %s: %v", r.Path, err)
		}
	}
	if p.vectors != nil {
		if err := p.vectors.DeleteByFile(r.Path); err != nil {
			logging.Get(logging.CategoryPipeline).Warn("delete embeddings for %s: %v", r.Path, err)
		}
	}
	if p.ledger != nil {
		if err := p.ledger.DeleteUnitsByFile(ctx, r.Path); err != nil {
			logging.Get(logging.CategoryPipeline).Warn("delete units for %s: %v", r.Path, err)
		}
	}
	return fileOutcome{record: r}
}

func (p *Pipeline) processFile(ctx context.Context, file model.File, r model.ChangeRecord, read readFile) fileOutcome {
	content, err := read(file.Path)
	if err != nil {
		return fileOutcome{record: r, err: fmt.Errorf("read %s: %w", file.Path, err)}
	}

	units, edges, err := extract.Extract(file.Path, content, file.Language)
	if err != nil {
		logging.Get(logging.CategoryPipeline).Warn("extract degraded for %s: %v", file.Path, err)
	}

	if len(units) == 0 {
		return fileOutcome{record: r}
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.NormalizedText
	}

	vectors, embedErr := p.embedBatched(ctx, texts)
	if embedErr != nil {
		return fileOutcome{record: r, err: fmt.Errorf("embed %s: %w", file.Path, embedErr)}
	}

	if p.vectors != nil {
		for i, u := range units {
			if i >= len(vectors) {
				break
			}
			e := model.Embedding{UnitID: u.UnitID, Vector: vectors[i], ModelID: p.modelID, Dimension: len(vectors[i])}
			if err := p.vectors.Upsert(ctx, e, file.Path, file.Language); err != nil {
				return fileOutcome{record: r, err: fmt.Errorf("store embedding for %s: %w", u.UnitID, err)}
			}
		}
	}

	if p.graph != nil && len(edges) > 0 {
		if _, err := p.graph.UpsertEdges(ctx, edges, file.Path); err != nil {
			return fileOutcome{record: r, err: fmt.Errorf("store edges for %s: %w", file.Path, err)}
		}
	}

	if p.ledger != nil {
		if _, err := p.ledger.UpsertUnits(ctx, units); err != nil {
			return fileOutcome{record: r, err: fmt.Errorf("store units for %s: %w", file.Path, err)}
		}
	}

	return fileOutcome{record: r}
}

// embedBatched splits texts into BatchSize chunks and embeds each
// sequentially; the embedding engine's own backoff handles per-call
// retry, so the pipeline's job is purely batching, not resilience.
func (p *Pipeline) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	if p.embedder == nil || len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}
