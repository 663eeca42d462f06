package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Fetcher     FetcherConfig     `yaml:"fetcher"`
	Processor   ProcessorConfig   `yaml:"processor"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Answer      AnswerConfig      `yaml:"answer"`
	Cache       CacheConfig       `yaml:"cache"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig guards the query endpoint with a static bearer token. It is
// off unless explicitly enabled.
type AuthConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BearerToken string `yaml:"bearer_token"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

type EmbeddingConfig struct {
	Dimension int `yaml:"dimension"`
	BatchSize int `yaml:"batch_size"`
}

type FetcherConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type VectorStoreConfig struct {
	Backend       string `yaml:"backend"`
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Database      string `yaml:"database"`
	Region        string `yaml:"region"`
	IndexName     string `yaml:"index_name"`
	TopK          int    `yaml:"top_k"`
	BatchSize     int    `yaml:"batch_size"`
	ForceRecreate bool   `yaml:"force_recreate"`
}

type AnswerConfig struct {
	Concurrency int     `yaml:"concurrency"`
	RateLimit   float64 `yaml:"rate_limit"` // requests per second, 0 disables
}

type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"

	BackendPgvector = "pgvector"
	BackendMilvus   = "milvus"
	BackendMemory   = "memory"
)

// LoadConfig reads the YAML file at path (or the first default location
// found), overlays environment variables and fills unset values.
// A .env file in the working directory is loaded into the environment first
// without overriding variables that are already set.
func LoadConfig(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docqa/config.yaml"),
			"/etc/docqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// Default returns a config built from defaults and the environment only.
func Default() *Config {
	config, _ := getDefaultConfig()
	return config
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 8000
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 10 * time.Second
	}

	if config.LLM.Provider == "" {
		config.LLM.Provider = ProviderGemini
	}
	switch config.LLM.Provider {
	case ProviderOllama:
		if config.LLM.Model == "" {
			config.LLM.Model = "mistral"
		}
		if config.LLM.EmbeddingModel == "" {
			config.LLM.EmbeddingModel = "nomic-embed-text"
		}
		if config.LLM.BaseURL == "" {
			config.LLM.BaseURL = "http://localhost:11434"
		}
	default:
		if config.LLM.Model == "" {
			config.LLM.Model = "gemini-1.5-flash"
		}
		if config.LLM.EmbeddingModel == "" {
			config.LLM.EmbeddingModel = "text-embedding-004"
		}
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.1
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2048
	}

	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 100
	}

	if config.Fetcher.Timeout == 0 {
		config.Fetcher.Timeout = 30 * time.Second
	}
	if config.Fetcher.MaxBytes == 0 {
		config.Fetcher.MaxBytes = 50 << 20
	}
	if config.Fetcher.UserAgent == "" {
		config.Fetcher.UserAgent = "docqa/1.0"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1500
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.VectorStore.Backend == "" {
		config.VectorStore.Backend = BackendPgvector
	}
	if config.VectorStore.IndexName == "" {
		config.VectorStore.IndexName = "hackrx-retrieval-system-gemini"
	}
	if config.VectorStore.Region == "" {
		config.VectorStore.Region = "us-east-1"
	}
	if config.VectorStore.TopK == 0 {
		config.VectorStore.TopK = 10
	}
	if config.VectorStore.BatchSize == 0 {
		config.VectorStore.BatchSize = 100
	}

	if config.Answer.Concurrency == 0 {
		config.Answer.Concurrency = 1
	}

	if config.Cache.TTL == 0 {
		config.Cache.TTL = 24 * time.Hour
	}
	if config.Cache.KeyPrefix == "" {
		config.Cache.KeyPrefix = "docqa:emb:"
	}
}

func mergeWithEnv(config *Config) {
	if v := os.Getenv("DOCQA_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			config.Debug = debug
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("API_BEARER_TOKEN"); v != "" {
		config.Auth.BearerToken = v
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		config.LLM.Provider = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		config.LLM.BaseURL = v
	}

	if v := os.Getenv("VECTOR_DB_BACKEND"); v != "" {
		config.VectorStore.Backend = v
	}
	if v := os.Getenv("VECTOR_DB_API_KEY"); v != "" {
		config.VectorStore.APIKey = v
	}
	if v := os.Getenv("VECTOR_DB_REGION"); v != "" {
		config.VectorStore.Region = v
	}
	switch config.VectorStore.Backend {
	case BackendMilvus:
		if v := os.Getenv("MILVUS_ADDRESS"); v != "" {
			config.VectorStore.URL = v
		}
	case "", BackendPgvector:
		if v := os.Getenv("DATABASE_URL"); v != "" {
			config.VectorStore.URL = v
		}
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Cache.RedisAddr = v
	}
}
