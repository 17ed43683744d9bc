package embedding

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-quiz/internal/config"
)

// NewOpenAIEmbedder creates an embedder against an OpenAI compatible API.
func NewOpenAIEmbedder(llmConfig *config.LLMConfig, batchSize int) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("embedding_model", llmConfig.Model).Msg("Creating openai embedder")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithEmbeddingModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize))
}

// new ollama embedder
func NewOllamaEmbedder(llmConfig *config.LLMConfig, batchSize int) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("embedding_model", llmConfig.Model).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize))
}

// NewEmbedder builds the client described by cfg.
func NewEmbedder(cfg config.EmbeddingModelConfig) (embeddings.Embedder, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return NewOllamaEmbedder(&cfg.LLM, cfg.BatchSize)
	case "openai", "openrouter":
		return NewOpenAIEmbedder(&cfg.LLM, cfg.BatchSize)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.LLM.Provider)
	}
}
