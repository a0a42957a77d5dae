package chunker

import (
	"fmt"

	"ragweb/internal/adapter/analyzer"
	"ragweb/internal/domain"
)

// TokenChunker slides a fixed-width token window over the text. Consecutive
// windows share exactly overlap tokens, except that the last window ends at
// the end of the text.
type TokenChunker struct {
	maxTokens int
	overlap   int
	tokenizer *analyzer.Tokenizer
}

// NewTokenChunker creates a chunker of maxTokens-token windows sharing
// overlap tokens with their neighbour.
func NewTokenChunker(maxTokens, overlap int, tokenizer *analyzer.Tokenizer) (*TokenChunker, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", domain.ErrInvalidInput, maxTokens)
	}
	if overlap < 0 || overlap >= maxTokens {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", domain.ErrInvalidInput, overlap, maxTokens)
	}
	return &TokenChunker{
		maxTokens: maxTokens,
		overlap:   overlap,
		tokenizer: tokenizer,
	}, nil
}

// Chunk returns the passages covering text. Empty text yields no passages.
func (c *TokenChunker) Chunk(text string) ([]domain.Passage, error) {
	tokens := c.tokenizer.Encode(text)
	n := len(tokens)
	if n == 0 {
		return nil, nil
	}

	stride := c.maxTokens - c.overlap
	passages := make([]domain.Passage, 0, (n+stride-1)/stride)

	for start := 0; ; start += stride {
		end := start + c.maxTokens
		if end > n {
			end = n
		}
		window := tokens[start:end]
		passages = append(passages, domain.Passage{
			Text:       c.tokenizer.Decode(text, window),
			TokenCount: len(window),
		})
		if end == n {
			break
		}
	}

	return passages, nil
}
