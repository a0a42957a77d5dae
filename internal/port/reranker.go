package port

import "ragweb/internal/domain"

// Reranker reorders retrieved passages before they are packed into a
// prompt. It may drop passages but never adds any.
type Reranker interface {
	Rerank(passages []domain.ScoredChunk) []domain.ScoredChunk
}
