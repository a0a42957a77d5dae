package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"ragweb/internal/port"
)

// OpenAIGenerator talks to any OpenAI-compatible chat completions API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration

	mu    sync.Mutex
	stats Stats
}

// Stats tracks usage of the generator.
type Stats struct {
	TotalCalls        int
	TotalErrors       int
	TotalInputTokens  int
	TotalOutputTokens int
}

var _ port.LLM = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator reads the API key from apiKeyEnv. Keyless local
// endpoints (e.g. ollama) work when baseURL is set and the env var is empty.
func NewOpenAIGenerator(apiKeyEnv, model, baseURL string, temperature float32, timeout time.Duration) (*OpenAIGenerator, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("API key not found. Set %s environment variable", apiKeyEnv)
	}
	if apiKey == "" {
		apiKey = "local"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

// GenerateWithSystem sends one system and one user message.
func (g *OpenAIGenerator) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: g.temperature,
	})

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.TotalCalls++
	if err != nil {
		g.stats.TotalErrors++
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	g.stats.TotalInputTokens += resp.Usage.PromptTokens
	g.stats.TotalOutputTokens += resp.Usage.CompletionTokens

	if len(resp.Choices) == 0 {
		g.stats.TotalErrors++
		return "", errors.New("no response from LLM")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		g.stats.TotalErrors++
		return "", errors.New("empty response from LLM")
	}
	return out, nil
}

// GetStats returns the current usage statistics.
func (g *OpenAIGenerator) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *OpenAIGenerator) ModelName() string {
	return g.model
}
