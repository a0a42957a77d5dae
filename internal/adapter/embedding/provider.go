package embedding

import (
	"fmt"

	"ragweb/config"
	"ragweb/internal/adapter/analyzer"
	"ragweb/internal/port"
)

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig, tokenizer *analyzer.Tokenizer) (port.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAICompatibleEmbedder(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL, cfg.Dimension, cfg.BatchSize)
	case "ollama":
		return NewOllamaEmbedder(cfg.Model, cfg.BaseURL, cfg.Dimension, cfg.BatchSize)
	case "hash", "":
		return NewHashEmbedder(cfg.Dimension, tokenizer), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
