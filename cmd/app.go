package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/fetcher"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/store"
	"go.uber.org/zap"
)

// app holds the long-lived clients built from one config.
type app struct {
	config   *config.Config
	logger   *zap.Logger
	clients  *llm.Clients
	embedder types.Embedder
	store    types.VectorStore
	redis    *goredis.Client
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.debug {
		cfg.Debug = true
	}
	return cfg, nil
}

func validate(cfg *config.Config) error {
	var errs []error
	for _, e := range cfg.Validate() {
		errs = append(errs, e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)

	clients, err := llm.NewClients(ctx, llm.ProviderConfig{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedder(clients.Embedding, llm.EmbedderConfig{
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		config:   cfg,
		logger:   log,
		clients:  clients,
		embedder: embedder,
	}

	if cfg.Cache.Enabled {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Warn("embedding cache unavailable, continuing without it",
				zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
			_ = a.redis.Close()
			a.redis = nil
		} else {
			a.embedder = llm.NewCachedEmbedder(embedder, a.redis, llm.CacheConfig{
				TTL:       cfg.Cache.TTL,
				KeyPrefix: cfg.Cache.KeyPrefix,
				Namespace: cfg.LLM.EmbeddingModel,
				Logger:    log,
			})
		}
	}

	a.store, err = store.New(ctx, store.Config{
		Backend:   cfg.VectorStore.Backend,
		URL:       cfg.VectorStore.URL,
		Username:  cfg.VectorStore.Username,
		Password:  cfg.VectorStore.Password,
		Database:  cfg.VectorStore.Database,
		APIKey:    cfg.VectorStore.APIKey,
		BatchSize: cfg.VectorStore.BatchSize,
		Logger:    log,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	log.Info("components initialized",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.String("backend", cfg.VectorStore.Backend),
		zap.String("index", cfg.VectorStore.IndexName),
		zap.Bool("cache", a.redis != nil))
	return a, nil
}

// pipeline builds a pipeline over the shared clients. src overrides the
// document fetcher when set.
func (a *app) pipeline(src types.Fetcher, onProgress pipeline.Progress) (*pipeline.Pipeline, error) {
	cfg := a.config

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize processor: %w", err)
	}

	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, a.clients.Chat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	if src == nil {
		src = fetcher.NewWithConfig(fetcher.FetcherConfig{
			Timeout:   cfg.Fetcher.Timeout,
			MaxBytes:  cfg.Fetcher.MaxBytes,
			UserAgent: cfg.Fetcher.UserAgent,
			Logger:    a.logger,
		})
	}

	return pipeline.New(pipeline.Config{
		IndexName:      cfg.VectorStore.IndexName,
		Dimension:      cfg.Embedding.Dimension,
		Region:         cfg.VectorStore.Region,
		TopK:           cfg.VectorStore.TopK,
		ForceRecreate:  cfg.VectorStore.ForceRecreate,
		EmbedBatchSize: cfg.Embedding.BatchSize,
		Concurrency:    cfg.Answer.Concurrency,
		RateLimit:      cfg.Answer.RateLimit,
		Logger:         a.logger,
		OnProgress:     onProgress,
	}, src, chunker, a.embedder, a.store, chat)
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}
