package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/cobalt/internal/config"
)

func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig) (EmbedderClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.EmbeddingModel, cfg.BaseURL), nil

	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.EmbeddingModel)

	case "ollama":
		// Ollama speaks the OpenAI-compatible API; the key is ignored but
		// the client config requires one.
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}

		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}

		return NewOpenAIClient(apiKey, cfg.EmbeddingModel, baseURL), nil

	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", provider)
	}
}
