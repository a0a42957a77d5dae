package port

import (
	"context"

	"ragweb/internal/domain"
)

// Retriever resolves a free-text query into scored chunks.
type Retriever interface {
	// Retrieve returns the number of raw index hits and the chunks that
	// resolved against the metadata store, ordered by descending score.
	Retrieve(ctx context.Context, query string, k int) (hits int, chunks []domain.ScoredChunk, err error)
}
