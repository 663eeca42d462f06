package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"DOCQA_DEBUG", "PORT", "API_BEARER_TOKEN", "LLM_PROVIDER", "GOOGLE_API_KEY",
		"OLLAMA_BASE_URL", "VECTOR_DB_BACKEND", "VECTOR_DB_API_KEY", "VECTOR_DB_REGION",
		"MILVUS_ADDRESS", "DATABASE_URL", "REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
debug: true

server:
  port: 9000
  shutdown_timeout: 5s

llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

embedding:
  dimension: 384

fetcher:
  timeout: 10s

processor:
  chunk_size: 500
  chunk_overlap: 100

vector_store:
  backend: "milvus"
  url: "localhost:19530"
  index_name: "test_docs"
  top_k: 4

answer:
  concurrency: 3
  rate_limit: 2.5
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.True(t, config.Debug)
	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, 5*time.Second, config.Server.ShutdownTimeout)
	assert.Equal(t, ProviderOllama, config.LLM.Provider)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, "nomic-embed-text", config.LLM.EmbeddingModel)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, 384, config.Embedding.Dimension)
	assert.Equal(t, 10*time.Second, config.Fetcher.Timeout)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 100, config.Processor.ChunkOverlap)
	assert.Equal(t, BackendMilvus, config.VectorStore.Backend)
	assert.Equal(t, "test_docs", config.VectorStore.IndexName)
	assert.Equal(t, 4, config.VectorStore.TopK)
	assert.Equal(t, 3, config.Answer.Concurrency)
	assert.Equal(t, 2.5, config.Answer.RateLimit)
	assert.Empty(t, config.Validate())
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	config := Default()

	assert.Equal(t, 8000, config.Server.Port)
	assert.Equal(t, ProviderGemini, config.LLM.Provider)
	assert.Equal(t, "gemini-1.5-flash", config.LLM.Model)
	assert.Equal(t, "text-embedding-004", config.LLM.EmbeddingModel)
	assert.Equal(t, 0.1, config.LLM.Temperature)
	assert.Equal(t, 768, config.Embedding.Dimension)
	assert.Equal(t, 30*time.Second, config.Fetcher.Timeout)
	assert.Equal(t, 1500, config.Processor.ChunkSize)
	assert.Equal(t, 200, config.Processor.ChunkOverlap)
	assert.Equal(t, "hackrx-retrieval-system-gemini", config.VectorStore.IndexName)
	assert.Equal(t, 10, config.VectorStore.TopK)
	assert.Equal(t, 1, config.Answer.Concurrency)
	assert.False(t, config.Auth.Enabled)
}

func TestConfigValidation(t *testing.T) {
	clearEnv(t)

	valid := func() Config {
		c := Default()
		c.LLM.APIKey = "key"
		c.VectorStore.URL = "postgres://localhost:5432/test"
		return *c
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "memory backend needs no url",
			mutate: func(c *Config) {
				c.VectorStore.Backend = BackendMemory
				c.VectorStore.URL = ""
			},
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.LLM.APIKey = ""
				c.LLM.MaxTokens = 10000
				c.LLM.Temperature = 3.0
				c.Embedding.Dimension = -1
				c.Processor.ChunkOverlap = c.Processor.ChunkSize
			},
			errorMessages: []string{
				"llm.api_key: GOOGLE_API_KEY is required",
				"llm.max_tokens: max_tokens must be between 1 and 8192",
				"llm.temperature: temperature must be between 0 and 2",
				"embedding.dimension: dimension must be positive",
				"processor.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
			},
		},
		{
			name: "unknown provider and backend",
			mutate: func(c *Config) {
				c.LLM.Provider = "openai"
				c.VectorStore.Backend = "pinecone"
			},
			errorMessages: []string{
				"llm.provider: unknown provider: openai",
				"vector_store.backend: unknown backend: pinecone",
			},
		},
		{
			name: "auth and cache need their settings",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Cache.Enabled = true
			},
			errorMessages: []string{
				"auth.bearer_token",
				"cache.redis_addr",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)

			errors := c.Validate()
			require.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("GOOGLE_API_KEY", "env-key")
	t.Setenv("PORT", "8081")
	t.Setenv("VECTOR_DB_REGION", "eu-west-1")
	t.Setenv("API_BEARER_TOKEN", "secret")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.VectorStore.URL)
	assert.Equal(t, "env-key", config.LLM.APIKey)
	assert.Equal(t, 8081, config.Server.Port)
	assert.Equal(t, "eu-west-1", config.VectorStore.Region)
	assert.Equal(t, "secret", config.Auth.BearerToken)
}

func TestMilvusAddressFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VECTOR_DB_BACKEND", "milvus")
	t.Setenv("DATABASE_URL", "postgres://ignored")
	t.Setenv("MILVUS_ADDRESS", "milvus:19530")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, BackendMilvus, config.VectorStore.Backend)
	assert.Equal(t, "milvus:19530", config.VectorStore.URL)
}

func TestDotEnvDoesNotOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "from-shell")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GOOGLE_API_KEY=from-file\nDOCQA_DOTENV_MARKER=ap-south-1\n"), 0644))
	require.NoError(t, loadDotEnv(envFile))
	t.Cleanup(func() { os.Unsetenv("DOCQA_DOTENV_MARKER") })

	assert.Equal(t, "from-shell", os.Getenv("GOOGLE_API_KEY"))
	assert.Equal(t, "ap-south-1", os.Getenv("DOCQA_DOTENV_MARKER"))
}
