package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragweb/internal/domain"
)

type stubLLM struct {
	reply  string
	err    error
	system string
	user   string
}

func (s *stubLLM) GenerateWithSystem(_ context.Context, system, user string) (string, error) {
	s.system, s.user = system, user
	return s.reply, s.err
}

func (s *stubLLM) ModelName() string { return "stub" }

func passage(url string, idx int, text string, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{URL: url, ChunkIndex: idx, Text: text},
		Score: score,
	}
}

func TestExtractive(t *testing.T) {
	long := strings.Repeat("é", 350)
	passages := []domain.ScoredChunk{
		passage("https://a.test", 0, "first passage", 0.9),
		passage("https://b.test", 2, long, 0.8),
		passage("https://c.test", 1, "third", 0.7),
		passage("https://d.test", 0, "fourth is dropped", 0.6),
	}

	got := Extractive(passages)
	want := "(No LLM) Relevant excerpts: From https://a.test (chunk 0): first passage | " +
		"From https://b.test (chunk 2): " + strings.Repeat("é", 300) + "… | " +
		"From https://c.test (chunk 1): third"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "fourth")
}

func TestGenerator_NoPassages(t *testing.T) {
	g := NewGenerator(&stubLLM{reply: "should not be used"}, nil)
	text, used := g.Answer(context.Background(), "q", nil)
	assert.Equal(t, NoInformationAnswer, text)
	assert.False(t, used)
}

func TestGenerator_WithoutLLM(t *testing.T) {
	g := NewGenerator(nil, nil)
	text, used := g.Answer(context.Background(), "q", []domain.ScoredChunk{passage("https://a.test", 3, "body", 1)})
	assert.False(t, used)
	assert.Equal(t, "(No LLM) Relevant excerpts: From https://a.test (chunk 3): body", text)
}

func TestGenerator_UsesLLM(t *testing.T) {
	stub := &stubLLM{reply: "Goroutines are cheap [https://a.test#3]."}
	g := NewGenerator(stub, nil)

	text, used := g.Answer(context.Background(), "are goroutines cheap?", []domain.ScoredChunk{passage("https://a.test", 3, "Goroutines are cheap.", 1)})
	assert.True(t, used)
	assert.Equal(t, stub.reply, text)
	assert.Contains(t, stub.system, "Use ONLY the provided context")
	assert.Contains(t, stub.user, "--- Document Chunk 3 ---\nSource: https://a.test\nText: Goroutines are cheap.")
	assert.True(t, strings.HasSuffix(stub.user, "Question: are goroutines cheap?"))
}

func TestGenerator_FallsBackOnError(t *testing.T) {
	g := NewGenerator(&stubLLM{err: errors.New("quota exceeded")}, nil)
	text, used := g.Answer(context.Background(), "q", []domain.ScoredChunk{passage("https://a.test", 0, "body", 1)})
	assert.False(t, used)
	assert.True(t, strings.HasPrefix(text, "(No LLM) Relevant excerpts: "))
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "user", req.Messages[1].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "  an answer \n"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	t.Setenv("TEST_LLM_KEY", "secret")
	g, err := NewOpenAIGenerator("TEST_LLM_KEY", "test-model", srv.URL, 0.2, time.Second)
	require.NoError(t, err)

	out, err := g.GenerateWithSystem(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "an answer", out)

	stats := g.GetStats()
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 12, stats.TotalInputTokens)
	assert.Equal(t, 3, stats.TotalOutputTokens)
	assert.Equal(t, "test-model", g.ModelName())
}

func TestOpenAIGenerator_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_LLM_KEY", "secret")
	g, err := NewOpenAIGenerator("TEST_LLM_KEY", "m", srv.URL, 0.2, time.Second)
	require.NoError(t, err)

	_, err = g.GenerateWithSystem(context.Background(), "sys", "user")
	assert.Error(t, err)
	assert.Equal(t, 1, g.GetStats().TotalErrors)
}

func TestNewOpenAIGeneratorRequiresKey(t *testing.T) {
	t.Setenv("MISSING_LLM_KEY", "")
	_, err := NewOpenAIGenerator("MISSING_LLM_KEY", "m", "", 0.2, 0)
	assert.Error(t, err)
}
