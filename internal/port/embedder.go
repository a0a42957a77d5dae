package port

import (
	"context"

	"ragweb/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates one L2-normalized vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex is an append-only nearest-neighbour store. Positions are
// assigned sequentially and never reused.
type VectorIndex interface {
	// Add appends vectors and returns the half-open id range [start, end)
	// they were assigned. The vectors are durable when Add returns.
	Add(ctx context.Context, vectors [][]float32) (start, end int64, err error)

	// Search returns up to k hits ordered by descending inner product.
	// An empty or absent index yields no hits and no error.
	Search(ctx context.Context, query []float32, k int) ([]domain.VectorHit, error)

	// Stats reports the index dimension and number of stored vectors.
	Stats(ctx context.Context) (domain.IndexStats, error)
}
