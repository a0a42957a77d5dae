package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"ragweb/internal/domain"
	"ragweb/internal/metrics"
	"ragweb/internal/port"
)

// DefaultMinTextChars is the least extracted text worth indexing.
const DefaultMinTextChars = 20

// Outcome is how a job ended.
type Outcome int

const (
	// OutcomeSkipped means the job did no work: its ingestion is gone or
	// was already claimed.
	OutcomeSkipped Outcome = iota
	OutcomeCompleted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	}
	return "skipped"
}

// PipelineDeps are the collaborators of an IngestPipeline.
type PipelineDeps struct {
	Store        port.MetadataStore
	Index        port.VectorIndex
	Fetcher      port.Fetcher
	Chunker      port.Chunker
	Embedder     port.Embedder
	MinTextChars int
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// IngestPipeline drives one ingestion from pending to a terminal status.
type IngestPipeline struct {
	store        port.MetadataStore
	index        port.VectorIndex
	fetcher      port.Fetcher
	chunker      port.Chunker
	embedder     port.Embedder
	minTextChars int
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewIngestPipeline creates a new ingestion pipeline.
func NewIngestPipeline(deps PipelineDeps) *IngestPipeline {
	if deps.MinTextChars <= 0 {
		deps.MinTextChars = DefaultMinTextChars
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &IngestPipeline{
		store:        deps.Store,
		index:        deps.Index,
		fetcher:      deps.Fetcher,
		chunker:      deps.Chunker,
		embedder:     deps.Embedder,
		minTextChars: deps.MinTextChars,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		now:          time.Now,
	}
}

// Process runs the pipeline for job. Domain failures are recorded on the
// ingestion and reported as OutcomeFailed with a nil error; a non-nil error
// means the outcome could not be recorded at all.
//
// Once claimed, a job runs to completion even if ctx is cancelled, so a
// shutdown never strands an ingestion in processing.
func (p *IngestPipeline) Process(ctx context.Context, job domain.Job) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	started := p.now()
	log := p.logger.With("ingestion_id", job.IngestionID)

	ing, err := p.store.GetIngestion(ctx, job.IngestionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("ingestion no longer exists, dropping job")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("loading ingestion: %w", err)
	}
	log = log.With("url", ing.URL)

	if err := p.store.Transition(ctx, ing.ID, domain.StatusProcessing, ""); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			log.Info("ingestion already handled, skipping duplicate delivery", "status", ing.Status)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, fmt.Errorf("claiming ingestion: %w", err)
	}

	chunks, perr := p.run(ctx, ing, log)
	if perr == nil {
		if err := p.store.Transition(ctx, ing.ID, domain.StatusCompleted, ""); err != nil {
			perr = domain.NewPipelineError(domain.KindPersistFailed, "", err)
		}
	}
	if perr != nil {
		return p.fail(ctx, ing.ID, perr, started, log)
	}

	elapsed := p.now().Sub(started)
	p.metrics.IngestionFinished(string(domain.StatusCompleted), "", elapsed)
	log.Info("ingestion completed", "chunks", chunks, "elapsed", elapsed)
	return OutcomeCompleted, nil
}

// run performs fetch through chunk persistence and returns the number of
// chunks written.
func (p *IngestPipeline) run(ctx context.Context, ing *domain.Ingestion, log *slog.Logger) (int, *domain.PipelineError) {
	page, err := p.fetcher.Fetch(ctx, ing.URL)
	if err != nil {
		return 0, domain.NewPipelineError(domain.KindFetchFailed, "", err)
	}

	text := strings.TrimSpace(page.Text)
	if n := utf8.RuneCountInString(text); n < p.minTextChars {
		return 0, domain.NewPipelineError(domain.KindExtractionEmpty,
			fmt.Sprintf("extracted %d characters, need at least %d", n, p.minTextChars), nil)
	}

	if title := strings.TrimSpace(page.Title); title != "" {
		if err := p.store.SetTitle(ctx, ing.ID, title); err != nil {
			log.Warn("could not store page title", "error", err)
		}
	}

	passages, err := p.chunker.Chunk(text)
	if err != nil {
		return 0, domain.NewPipelineError(domain.KindChunkingEmpty, "", err)
	}
	if len(passages) == 0 {
		return 0, domain.NewPipelineError(domain.KindChunkingEmpty, "text produced no chunks", nil)
	}

	texts := make([]string, len(passages))
	for i, ps := range passages {
		texts[i] = ps.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return 0, domain.NewPipelineError(domain.KindDimensionMismatch, "", err)
		}
		return 0, domain.NewPipelineError(domain.KindEmbeddingFailed, "", err)
	}
	if len(vectors) != len(passages) {
		return 0, domain.NewPipelineError(domain.KindEmbeddingFailed,
			fmt.Sprintf("got %d vectors for %d chunks", len(vectors), len(passages)), nil)
	}

	// Vectors must be durable before any chunk row references them.
	start, end, err := p.index.Add(ctx, vectors)
	if err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return 0, domain.NewPipelineError(domain.KindDimensionMismatch, "", err)
		}
		return 0, domain.NewPipelineError(domain.KindIndexFailed, "", err)
	}
	p.metrics.VectorsAppended(int(end - start))

	chunks := make([]domain.Chunk, len(passages))
	for i, ps := range passages {
		chunks[i] = domain.Chunk{
			IngestionID: ing.ID,
			URL:         ing.URL,
			ChunkIndex:  i,
			TokenCount:  ps.TokenCount,
			Text:        ps.Text,
			VectorID:    start + int64(i),
		}
	}
	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		// The appended range stays in the index as orphans.
		log.Warn("orphaned vectors after failed chunk insert", "start", start, "end", end)
		return 0, domain.NewPipelineError(domain.KindPersistFailed, "", err)
	}

	return len(chunks), nil
}

// fail records pe as the ingestion's terminal error.
func (p *IngestPipeline) fail(ctx context.Context, id string, pe *domain.PipelineError, started time.Time, log *slog.Logger) (Outcome, error) {
	log = log.With("kind", pe.Kind.String(), "error", pe.Detail)

	switch pe.Kind {
	case domain.KindFetchFailed, domain.KindExtractionEmpty, domain.KindChunkingEmpty:
		log.Warn("ingestion failed")
	case domain.KindDimensionMismatch:
		log.Error("ingestion failed: embedding dimension does not match the index")
	case domain.KindEmbeddingFailed, domain.KindIndexFailed, domain.KindPersistFailed:
		log.Error("ingestion failed")
	case domain.KindEnqueueFailed, domain.KindAbandoned:
		log.Error("ingestion failed outside the pipeline")
	default:
		log.Error("ingestion failed with unclassified error")
	}

	p.metrics.IngestionFinished(string(domain.StatusFailed), pe.Kind.String(), p.now().Sub(started))

	if err := p.store.Transition(ctx, id, domain.StatusFailed, pe.Error()); err != nil {
		return OutcomeFailed, fmt.Errorf("recording failure %q: %w", pe.Error(), err)
	}
	return OutcomeFailed, nil
}
