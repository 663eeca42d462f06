package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/xhad/docqa/internal/types"
	"go.uber.org/zap"
)

type EmbedderConfig struct {
	BatchSize int
}

// NewEmbedder wraps a raw embedding client with langchaingo's batching.
func NewEmbedder(client embeddings.EmbedderClient, config EmbedderConfig) (types.Embedder, error) {
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return emb, nil
}

type CacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
	Namespace string // usually the embedding model name
	Logger    *zap.Logger
}

// CachedEmbedder stores embeddings in Redis keyed by a hash of the text.
// Redis failures are logged and fall through to the wrapped embedder.
type CachedEmbedder struct {
	next   types.Embedder
	redis  goredis.Cmdable
	config CacheConfig
	logger *zap.Logger
}

func NewCachedEmbedder(next types.Embedder, redis goredis.Cmdable, config CacheConfig) *CachedEmbedder {
	if config.TTL == 0 {
		config.TTL = 24 * time.Hour
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "docqa:emb:"
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CachedEmbedder{
		next:   next,
		redis:  redis,
		config: config,
		logger: logger,
	}
}

func (c *CachedEmbedder) key(text string) string {
	hash := sha256.Sum256([]byte(text))
	return c.config.KeyPrefix + c.config.Namespace + ":" + hex.EncodeToString(hash[:])
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if c.redis == nil || len(texts) == 0 {
		return c.next.EmbedDocuments(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	cached, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("redis mget failed, falling back to embedder", zap.Error(err))
		cached = make([]interface{}, len(texts))
	}

	for i, v := range cached {
		if s, ok := v.(string); ok {
			var vec []float32
			if err := json.Unmarshal([]byte(s), &vec); err == nil {
				vectors[i] = vec
				continue
			}
			c.logger.Warn("dropping corrupt cached embedding", zap.String("key", keys[i]))
			_ = c.redis.Del(ctx, keys[i]).Err()
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	c.logger.Debug("embedding cache lookup",
		zap.Int("total", len(texts)),
		zap.Int("misses", len(missTexts)))

	if len(missTexts) == 0 {
		return vectors, nil
	}

	fresh, err := c.next.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	pipe := c.redis.Pipeline()
	for j, idx := range missIdx {
		vectors[idx] = fresh[j]
		data, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[idx], data, c.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("failed to cache embeddings", zap.Error(err))
	}

	return vectors, nil
}
