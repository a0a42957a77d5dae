package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ragweb/internal/domain"
	"ragweb/internal/port"
)

const (
	// NoInformationAnswer is returned when there is nothing to answer from.
	NoInformationAnswer = "I don't have enough information to answer that yet."

	fallbackPrefix   = "(No LLM) Relevant excerpts: "
	fallbackPassages = 3
	excerptRunes     = 300
)

const systemPrompt = `You are a concise assistant. Use ONLY the provided context to answer the question.
If the answer is not in the context, say you don't have enough information.
Cite sources by their URL and chunk index when helpful.`

// Generator answers from ranked passages with an optional language model.
// Without one, or when it fails, it stitches excerpts of the top passages.
type Generator struct {
	llm    port.LLM
	logger *slog.Logger
}

var _ port.AnswerGenerator = (*Generator)(nil)

// NewGenerator wraps model, which may be nil to always use excerpts.
func NewGenerator(model port.LLM, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: model, logger: logger}
}

// Answer never fails. usedLLM reports whether the text came from the model.
func (g *Generator) Answer(ctx context.Context, query string, passages []domain.ScoredChunk) (string, bool) {
	if len(passages) == 0 {
		return NoInformationAnswer, false
	}
	if g.llm == nil {
		return Extractive(passages), false
	}

	system, user := Prompt(query, passages)
	text, err := g.llm.GenerateWithSystem(ctx, system, user)
	if err != nil {
		g.logger.Warn("answer generation failed, using excerpts", "model", g.llm.ModelName(), "error", err)
		return Extractive(passages), false
	}
	return text, true
}

// Prompt returns the system and user messages sent to the model.
func Prompt(query string, passages []domain.ScoredChunk) (system, user string) {
	return systemPrompt, fmt.Sprintf("Context:\n%s\n\nQuestion: %s", FormatContext(passages), query)
}

// FormatContext renders passages as numbered document blocks for a prompt.
func FormatContext(passages []domain.ScoredChunk) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "--- Document Chunk %d ---\nSource: %s\nText: %s\n", p.Chunk.ChunkIndex, p.Chunk.URL, p.Chunk.Text)
	}
	return b.String()
}

// Extractive builds the deterministic fallback answer from the first
// passages, which callers pass in descending score order.
func Extractive(passages []domain.ScoredChunk) string {
	if len(passages) == 0 {
		return NoInformationAnswer
	}
	n := len(passages)
	if n > fallbackPassages {
		n = fallbackPassages
	}

	snippets := make([]string, n)
	for i, p := range passages[:n] {
		snippets[i] = fmt.Sprintf("From %s (chunk %d): %s", p.Chunk.URL, p.Chunk.ChunkIndex, excerpt(p.Chunk.Text))
	}
	return fallbackPrefix + strings.Join(snippets, " | ")
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	return string(runes[:excerptRunes]) + "…"
}
