package usecase

import (
	"context"
	"fmt"
	"sort"

	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// RetrieveUseCase resolves a query into scored chunks: embed, search the
// vector index, then join hits against the metadata store.
type RetrieveUseCase struct {
	embedder          port.Embedder
	index             port.VectorIndex
	store             port.MetadataStore
	minScoreThreshold float64 // Filter results below this score (0 = disabled)
}

var _ port.Retriever = (*RetrieveUseCase)(nil)

// NewRetrieveUseCase creates a new retrieve use case. Pass a cached embedder
// to reuse query vectors.
func NewRetrieveUseCase(
	embedder port.Embedder,
	index port.VectorIndex,
	store port.MetadataStore,
	minScoreThreshold float64,
) *RetrieveUseCase {
	return &RetrieveUseCase{
		embedder:          embedder,
		index:             index,
		store:             store,
		minScoreThreshold: minScoreThreshold,
	}
}

// Retrieve returns the raw hit count and the hits that still resolve to a
// chunk, best first. Hits without a chunk are orphans from incomplete
// ingestions and are dropped.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, query string, k int) (int, []domain.ScoredChunk, error) {
	vectors, err := u.embedder.Embed(ctx, []string{query})
	if err != nil {
		return 0, nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return 0, nil, fmt.Errorf("embedding query: got %d vectors", len(vectors))
	}

	hits, err := u.index.Search(ctx, vectors[0], k)
	if err != nil {
		return 0, nil, err
	}
	if len(hits) == 0 {
		return 0, nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := u.store.ChunksByVectorIDs(ctx, ids)
	if err != nil {
		return len(hits), nil, fmt.Errorf("resolving hits: %w", err)
	}

	// The lookup is unordered; pair rows back with their scores by id.
	byVector := make(map[int64]domain.Chunk, len(rows))
	for _, c := range rows {
		byVector[c.VectorID] = c
	}

	results := make([]domain.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := byVector[h.ID]
		if !ok {
			continue
		}
		results = append(results, domain.ScoredChunk{Chunk: c, Score: h.Score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if u.minScoreThreshold > 0 {
		results = u.filterByThreshold(results)
	}

	return len(hits), results, nil
}

// filterByThreshold removes results below the minimum score threshold.
func (u *RetrieveUseCase) filterByThreshold(results []domain.ScoredChunk) []domain.ScoredChunk {
	filtered := make([]domain.ScoredChunk, 0, len(results))
	for _, r := range results {
		if r.Score >= u.minScoreThreshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
