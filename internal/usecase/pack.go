package usecase

import (
	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// PackedContext is the slice of retrieved passages that fits the prompt.
type PackedContext struct {
	Passages     []domain.ScoredChunk
	BudgetTokens int
	UsedTokens   int
	Dropped      int
}

// ContextPacker selects passages for the answer prompt.
type ContextPacker struct {
	tokenizer port.Tokenizer
	budget    int
	maxChunks int
}

// NewContextPacker creates a packer with a token budget and a cap on the
// number of passages. Non-positive values disable the respective limit.
func NewContextPacker(tokenizer port.Tokenizer, budget, maxChunks int) *ContextPacker {
	return &ContextPacker{
		tokenizer: tokenizer,
		budget:    budget,
		maxChunks: maxChunks,
	}
}

// Pack admits passages in the given (descending score) order until the
// budget is spent. The best passage is always admitted so a small budget
// cannot leave the generator with nothing.
func (p *ContextPacker) Pack(passages []domain.ScoredChunk) PackedContext {
	packed := PackedContext{
		Passages:     make([]domain.ScoredChunk, 0, len(passages)),
		BudgetTokens: p.budget,
	}

	for i, sc := range passages {
		if p.maxChunks > 0 && len(packed.Passages) >= p.maxChunks {
			packed.Dropped = len(passages) - i
			break
		}
		tokens := p.tokens(sc.Chunk)
		if i > 0 && p.budget > 0 && packed.UsedTokens+tokens > p.budget {
			packed.Dropped = len(passages) - i
			break
		}
		packed.Passages = append(packed.Passages, sc)
		packed.UsedTokens += tokens
	}

	return packed
}

// tokens prefers the count stored at ingestion time.
func (p *ContextPacker) tokens(c domain.Chunk) int {
	if c.TokenCount > 0 {
		return c.TokenCount
	}
	if p.tokenizer == nil {
		return 0
	}
	return p.tokenizer.Count(c.Text)
}
