package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
)

type ProviderConfig struct {
	Provider       string // "gemini" or "ollama"
	APIKey         string
	BaseURL        string // Ollama server URL
	Model          string
	EmbeddingModel string
}

// Clients bundles the chat model and the raw embedding client of one provider.
type Clients struct {
	Chat      llms.Model
	Embedding embeddings.EmbedderClient
}

// NewClients builds the langchaingo clients for the configured provider.
// No network calls are made here.
func NewClients(ctx context.Context, config ProviderConfig) (*Clients, error) {
	switch config.Provider {
	case "", "gemini":
		if config.Model == "" {
			config.Model = "gemini-1.5-flash"
		}
		if config.EmbeddingModel == "" {
			config.EmbeddingModel = "text-embedding-004"
		}

		client, err := googleai.New(ctx,
			googleai.WithAPIKey(config.APIKey),
			googleai.WithDefaultModel(config.Model),
			googleai.WithDefaultEmbeddingModel(config.EmbeddingModel))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
		}
		return &Clients{Chat: client, Embedding: client}, nil

	case "ollama":
		if config.Model == "" {
			config.Model = "mistral"
		}
		if config.EmbeddingModel == "" {
			config.EmbeddingModel = "nomic-embed-text"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}

		chat, err := ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		emb, err := ollama.New(ollama.WithModel(config.EmbeddingModel),
			ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
		}
		return &Clients{Chat: chat, Embedding: emb}, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
}
