// Package retriever holds post-retrieval ranking steps.
package retriever

import (
	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// TermSplitter splits passage text into comparable terms.
type TermSplitter interface {
	Terms(text string) []string
}

// MMRReranker reorders passages by Maximal Marginal Relevance so the prompt
// is not filled with overlapping windows of the same page:
//
//	MMR(c) = λ * relevance(c) - (1-λ) * max_similarity(c, selected)
//
// Similarity is the Jaccard overlap of passage terms. Passages more similar
// than dedupJaccard to one already selected are dropped.
type MMRReranker struct {
	lambda       float64
	dedupJaccard float64
	splitter     TermSplitter
}

var _ port.Reranker = (*MMRReranker)(nil)

// NewMMRReranker creates a new MMR reranker.
func NewMMRReranker(lambda, dedupJaccard float64, splitter TermSplitter) *MMRReranker {
	if dedupJaccard <= 0 || dedupJaccard > 1 {
		dedupJaccard = 1
	}
	return &MMRReranker{
		lambda:       lambda,
		dedupJaccard: dedupJaccard,
		splitter:     splitter,
	}
}

// Rerank returns candidates in MMR order. The input, which must be sorted by
// descending score, is not modified.
func (r *MMRReranker) Rerank(candidates []domain.ScoredChunk) []domain.ScoredChunk {
	if len(candidates) < 2 {
		return candidates
	}

	maxScore := candidates[0].Score
	minScore := candidates[0].Score
	for _, c := range candidates {
		maxScore = max(maxScore, c.Score)
		minScore = min(minScore, c.Score)
	}
	spread := maxScore - minScore

	sets := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		sets[i] = termSet(r.splitter.Terms(c.Chunk.Text))
	}

	// remaining holds indexes into candidates
	remaining := make([]int, len(candidates))
	for i := range remaining {
		remaining[i] = i
	}
	var selected []int

	for len(remaining) > 0 {
		bestPos := -1
		bestMMR := -1e9

		for pos, ci := range remaining {
			relevance := 1.0
			if spread > 0 {
				relevance = (candidates[ci].Score - minScore) / spread
			}

			maxSim := 0.0
			for _, si := range selected {
				maxSim = max(maxSim, jaccard(sets[ci], sets[si]))
			}
			if len(selected) > 0 && maxSim > r.dedupJaccard {
				continue
			}

			mmr := r.lambda*relevance - (1-r.lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestPos = pos
			}
		}

		if bestPos == -1 {
			break
		}
		selected = append(selected, remaining[bestPos])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	out := make([]domain.ScoredChunk, len(selected))
	for i, ci := range selected {
		out[i] = candidates[ci]
	}
	return out
}

func termSet(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(a)+len(b)-intersection)
}
