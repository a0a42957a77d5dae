package embedding

import (
	"context"
	"hash/fnv"

	"ragweb/internal/adapter/analyzer"
)

// HashEmbedder maps text to vectors by signed feature hashing of its
// tokens. It needs no model or network and is deterministic, which makes it
// the default for development and tests. Texts sharing vocabulary score
// higher; there is no semantic generalisation.
type HashEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

// NewHashEmbedder creates a new hash embedder.
func NewHashEmbedder(dimension int, tokenizer *analyzer.Tokenizer) *HashEmbedder {
	if tokenizer == nil {
		tokenizer = analyzer.NewTokenizer()
	}
	return &HashEmbedder{dimension: dimension, tokenizer: tokenizer}
}

func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.embed(text)
	}
	return embeddings, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	v := make([]float32, e.dimension)
	for _, term := range e.tokenizer.Terms(text) {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()

		idx := sum % uint64(e.dimension)
		if sum>>63 == 1 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	l2normalize(v)
	return v
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return "hash-" + e.tokenizer.Version()
}
