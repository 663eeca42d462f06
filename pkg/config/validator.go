package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	// Server and auth
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535")
	}
	if c.Auth.Enabled && c.Auth.BearerToken == "" {
		add("auth.bearer_token", "bearer token is required when auth is enabled")
	}

	// LLM
	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.APIKey == "" {
			add("llm.api_key", "GOOGLE_API_KEY is required for the gemini provider")
		}
	case ProviderOllama:
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("llm.base_url", "invalid Ollama base URL")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider: %s", c.LLM.Provider))
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", "max_tokens must be between 1 and 8192")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Embedding
	if c.Embedding.Dimension < 1 {
		add("embedding.dimension", "dimension must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size", "batch_size must be positive")
	}

	// Fetcher
	if c.Fetcher.Timeout <= 0 {
		add("fetcher.timeout", "timeout must be positive")
	}
	if c.Fetcher.MaxBytes < 1 {
		add("fetcher.max_bytes", "max_bytes must be positive")
	}

	// Processor
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}
	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Vector store
	switch c.VectorStore.Backend {
	case BackendPgvector, BackendMilvus:
		if c.VectorStore.URL == "" {
			add("vector_store.url", fmt.Sprintf("url is required for the %s backend", c.VectorStore.Backend))
		}
	case BackendMemory:
	default:
		add("vector_store.backend", fmt.Sprintf("unknown backend: %s", c.VectorStore.Backend))
	}
	if c.VectorStore.IndexName == "" {
		add("vector_store.index_name", "index_name is required")
	}
	if c.VectorStore.TopK < 1 {
		add("vector_store.top_k", "top_k must be positive")
	}
	if c.VectorStore.BatchSize < 1 {
		add("vector_store.batch_size", "batch_size must be positive")
	}

	// Answering
	if c.Answer.Concurrency < 1 {
		add("answer.concurrency", "concurrency must be positive")
	}
	if c.Answer.RateLimit < 0 {
		add("answer.rate_limit", "rate_limit must not be negative")
	}

	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		add("cache.redis_addr", "redis_addr is required when the cache is enabled")
	}

	return errors
}
