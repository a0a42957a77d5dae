package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ragweb/internal/domain"
	"ragweb/internal/metrics"
	"ragweb/internal/port"
)

// NoContentAnswer is returned when the index holds nothing to search.
const NoContentAnswer = "No indexed content yet. Ingest some URLs first."

// QueryService answers questions from the indexed pages.
type QueryService struct {
	retriever port.Retriever
	reranker  port.Reranker
	packer    *ContextPacker
	generator port.AnswerGenerator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewQueryService creates a new query service.
func NewQueryService(retriever port.Retriever, packer *ContextPacker, generator port.AnswerGenerator, logger *slog.Logger, m *metrics.Metrics) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		retriever: retriever,
		packer:    packer,
		generator: generator,
		logger:    logger,
		metrics:   m,
	}
}

// WithReranker reorders passages before packing. Citations keep score order.
func (s *QueryService) WithReranker(r port.Reranker) *QueryService {
	s.reranker = r
	return s
}

// Query retrieves the topK passages for query and answers from them.
// Citations cover every resolved passage, best first.
func (s *QueryService) Query(ctx context.Context, query string, topK int) (*domain.Answer, error) {
	started := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		s.metrics.QueryServed("invalid", time.Since(started))
		return nil, fmt.Errorf("%w: query must not be empty", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		s.metrics.QueryServed("invalid", time.Since(started))
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidInput, topK)
	}

	hits, passages, err := s.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrLockTimeout) {
			outcome = "lock_timeout"
		}
		s.metrics.QueryServed(outcome, time.Since(started))
		return nil, err
	}

	if hits == 0 {
		s.metrics.QueryServed("empty", time.Since(started))
		return &domain.Answer{Text: NoContentAnswer, Citations: []domain.Citation{}}, nil
	}

	citations := make([]domain.Citation, len(passages))
	for i, p := range passages {
		citations[i] = domain.Citation{URL: p.Chunk.URL, ChunkIndex: p.Chunk.ChunkIndex, Score: p.Score}
	}

	prompt := passages
	if s.reranker != nil {
		prompt = s.reranker.Rerank(prompt)
	}
	if s.packer != nil {
		packed := s.packer.Pack(prompt)
		prompt = packed.Passages
		if packed.Dropped > 0 {
			s.logger.Debug("passages left out of prompt", "dropped", packed.Dropped, "used_tokens", packed.UsedTokens)
		}
	}

	text, usedLLM := s.generator.Answer(ctx, query, prompt)
	s.metrics.QueryServed("answered", time.Since(started))
	s.logger.Info("query answered", "hits", hits, "passages", len(passages), "used_llm", usedLLM)

	return &domain.Answer{Text: text, Citations: citations, UsedLLM: usedLLM}, nil
}
