package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragweb/internal/adapter/llm"
	"ragweb/internal/domain"
	"ragweb/internal/logging"
)

func TestQuery_EmptyIndex(t *testing.T) {
	env := newTestEnv(t, 3, 1)

	ans, err := env.query.Query(env.ctx, "what is go?", 5)
	require.NoError(t, err)
	assert.Equal(t, NoContentAnswer, ans.Text)
	assert.NotNil(t, ans.Citations)
	assert.Empty(t, ans.Citations)
	assert.False(t, ans.UsedLLM)
}

func TestQuery_RejectsBlankQuery(t *testing.T) {
	env := newTestEnv(t, 3, 1)
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := env.query.Query(env.ctx, q, 5)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%q", q)
	}
	_, err := env.query.Query(env.ctx, "ok", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestQuery_ExtractiveAnswerWithCitations(t *testing.T) {
	env := newTestEnv(t, 40, 5)
	goURL := env.serve("/go", "text/plain", "Goroutines are lightweight threads managed by the Go runtime scheduler.")
	dbURL := env.serve("/db", "text/plain", "Postgres stores rows in heap pages and uses MVCC for concurrency control.")
	for _, u := range []string{goURL, dbURL} {
		ing, outcome := env.ingestNow(u)
		require.Equal(t, OutcomeCompleted, outcome, ing.ErrorMessage)
	}

	ans, err := env.query.Query(env.ctx, "goroutines threads runtime scheduler", 5)
	require.NoError(t, err)

	assert.False(t, ans.UsedLLM)
	assert.True(t, strings.HasPrefix(ans.Text, "(No LLM) Relevant excerpts: "))
	assert.Contains(t, ans.Text, goURL)
	assert.Contains(t, ans.Text, "Goroutines are lightweight threads")

	require.Len(t, ans.Citations, 2)
	assert.Equal(t, goURL, ans.Citations[0].URL)
	assert.Equal(t, 0, ans.Citations[0].ChunkIndex)
	for i := 1; i < len(ans.Citations); i++ {
		assert.GreaterOrEqual(t, ans.Citations[i-1].Score, ans.Citations[i].Score)
	}
}

func TestQuery_UsesLLMWhenAvailable(t *testing.T) {
	env := newTestEnv(t, 40, 5)
	url := env.serve("/go", "text/plain", "Goroutines are lightweight threads managed by the Go runtime scheduler.")
	env.ingestNow(url)

	model := &recordingLLM{reply: "Goroutines are cheap threads."}
	retriever := NewRetrieveUseCase(env.embedder, env.index, env.store, 0)
	svc := NewQueryService(retriever, NewContextPacker(env.tokenizer, 6000, 10), llm.NewGenerator(model, logging.Discard()), logging.Discard(), nil)

	ans, err := svc.Query(env.ctx, "what are goroutines", 3)
	require.NoError(t, err)
	assert.True(t, ans.UsedLLM)
	assert.Equal(t, "Goroutines are cheap threads.", ans.Text)
	assert.Contains(t, model.user, "Source: "+url)
	assert.Contains(t, model.user, "Question: what are goroutines")
}

func TestQuery_OrphanHitsAreDropped(t *testing.T) {
	env := newTestEnv(t, 40, 5)

	// an incomplete ingestion left vectors with no chunk rows
	orphans, err := env.embedder.Embed(env.ctx, []string{"orphan text about goroutines"})
	require.NoError(t, err)
	_, _, err = env.index.Add(env.ctx, orphans)
	require.NoError(t, err)

	ans, err := env.query.Query(env.ctx, "goroutines", 5)
	require.NoError(t, err)
	assert.Equal(t, llm.NoInformationAnswer, ans.Text)
	assert.Empty(t, ans.Citations)
	assert.False(t, ans.UsedLLM)

	url := env.serve("/go", "text/plain", "Goroutines are lightweight threads managed by the Go runtime scheduler.")
	env.ingestNow(url)

	ans, err = env.query.Query(env.ctx, "goroutines", 5)
	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, url, ans.Citations[0].URL)
}

func TestQuery_SurfacesLockTimeout(t *testing.T) {
	svc := NewQueryService(stubRetriever{err: fmt.Errorf("searching: %w", domain.ErrLockTimeout)}, nil, llm.NewGenerator(nil, nil), logging.Discard(), nil)
	_, err := svc.Query(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestRetrieve_MinScoreThreshold(t *testing.T) {
	env := newTestEnv(t, 40, 5)
	env.ingestNow(env.serve("/go", "text/plain", "Goroutines are lightweight threads managed by the Go runtime scheduler."))
	env.ingestNow(env.serve("/db", "text/plain", "Postgres stores rows in heap pages and uses MVCC for concurrency control."))

	r := NewRetrieveUseCase(env.embedder, env.index, env.store, 0.99)
	hits, chunks, err := r.Retrieve(env.ctx, "Goroutines are lightweight threads managed by the Go runtime scheduler.", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
	require.Len(t, chunks, 1)
	assert.InDelta(t, 1.0, chunks[0].Score, 1e-5)
}

type recordingLLM struct {
	reply string
	user  string
}

func (r *recordingLLM) GenerateWithSystem(_ context.Context, _, user string) (string, error) {
	r.user = user
	return r.reply, nil
}

func (r *recordingLLM) ModelName() string { return "recording" }

type stubRetriever struct {
	hits   int
	chunks []domain.ScoredChunk
	err    error
}

func (s stubRetriever) Retrieve(context.Context, string, int) (int, []domain.ScoredChunk, error) {
	return s.hits, s.chunks, s.err
}

type capturingGenerator struct {
	passages []domain.ScoredChunk
}

func (g *capturingGenerator) Answer(_ context.Context, _ string, passages []domain.ScoredChunk) (string, bool) {
	g.passages = passages
	return "ok", false
}

type dropLast struct{}

func (dropLast) Rerank(p []domain.ScoredChunk) []domain.ScoredChunk { return p[:len(p)-1] }

func TestQuery_RerankerShapesPromptOnly(t *testing.T) {
	chunks := []domain.ScoredChunk{
		{Chunk: domain.Chunk{URL: "https://a.example", ChunkIndex: 0, Text: "first"}, Score: 0.9},
		{Chunk: domain.Chunk{URL: "https://b.example", ChunkIndex: 0, Text: "second"}, Score: 0.8},
	}
	gen := &capturingGenerator{}
	svc := NewQueryService(stubRetriever{hits: 2, chunks: chunks}, nil, gen, logging.Discard(), nil).
		WithReranker(dropLast{})

	ans, err := svc.Query(context.Background(), "anything", 2)
	require.NoError(t, err)
	require.Len(t, gen.passages, 1)
	assert.Equal(t, "first", gen.passages[0].Chunk.Text)
	assert.Len(t, ans.Citations, 2)
}
