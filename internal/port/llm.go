package port

import (
	"context"

	"ragweb/internal/domain"
)

// LLM represents a language model for text generation.
type LLM interface {
	// GenerateWithSystem generates text with a system prompt.
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// AnswerGenerator turns ranked passages into prose. It never fails: when no
// language model can be used it returns an extractive answer and false.
type AnswerGenerator interface {
	Answer(ctx context.Context, query string, passages []domain.ScoredChunk) (text string, usedLLM bool)
}
