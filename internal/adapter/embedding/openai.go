package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"ragweb/internal/domain"
)

const defaultBatchSize = 100

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimension  int
	dimensions int // sent as the request's dimensions field when non-zero
	batchSize  int
}

// nativeDimension returns the output size of known models, 0 if unknown.
func nativeDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	}
	return 0
}

// NewOpenAIEmbedder creates an embedder for the OpenAI API, reading the key
// from the apiKeyEnv environment variable.
func NewOpenAIEmbedder(apiKeyEnv, model string, dimension, batchSize int) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "", dimension, batchSize)
}

// NewOllamaEmbedder creates an embedder for Ollama's OpenAI-compatible API.
func NewOllamaEmbedder(model, baseURL string, dimension, batchSize int) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = baseURL
	return newEmbedder(openai.NewClientWithConfig(cfg), model, dimension, batchSize)
}

// NewOpenAICompatibleEmbedder reads the API key from apiKeyEnv. An empty
// baseURL means the public OpenAI API.
func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string, dimension, batchSize int) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newEmbedder(openai.NewClientWithConfig(cfg), model, dimension, batchSize)
}

func newEmbedder(client *openai.Client, model string, dimension, batchSize int) (*OpenAIEmbedder, error) {
	native := nativeDimension(model)
	e := &OpenAIEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultBatchSize
	}

	switch {
	case dimension <= 0 && native == 0:
		return nil, fmt.Errorf("unknown output dimension for model %s; set embedding.dimension", model)
	case dimension <= 0:
		e.dimension = native
	case dimension != native && strings.HasPrefix(model, "text-embedding-3"):
		// text-embedding-3 models can shorten their output on request.
		e.dimensions = dimension
	}
	return e, nil
}

// Embed returns one L2-normalized vector per text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding response has out of range index %d", data.Index)
		}
		v := make([]float32, len(data.Embedding))
		for j, x := range data.Embedding {
			v[j] = float32(x)
		}
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: model %s returned %d, expected %d",
				domain.ErrDimensionMismatch, e.model, len(v), e.dimension)
		}
		l2normalize(v)
		embeddings[data.Index] = v
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("embedding response is missing input %d", i)
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// l2normalize scales v to unit length in place. Zero vectors are left as is.
func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
