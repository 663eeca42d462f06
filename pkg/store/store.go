package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"go.uber.org/zap"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrNoIndex           = errors.New("index not initialised")
)

type Config struct {
	Backend   string // pgvector, milvus or memory
	URL       string
	Username  string
	Password  string
	Database  string
	APIKey    string
	BatchSize int
	Logger    *zap.Logger
}

// New opens the configured backend.
func New(ctx context.Context, config Config) (types.VectorStore, error) {
	switch config.Backend {
	case "", "pgvector":
		return NewPgvector(ctx, PgvectorConfig{
			ConnString: config.URL,
			BatchSize:  config.BatchSize,
			Logger:     config.Logger,
		})
	case "milvus":
		return NewMilvus(ctx, MilvusConfig{
			Address:   config.URL,
			Username:  config.Username,
			Password:  config.Password,
			DBName:    config.Database,
			APIKey:    config.APIKey,
			BatchSize: config.BatchSize,
			Logger:    config.Logger,
		})
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", config.Backend)
	}
}

func checkUpsert(chunks []models.Chunk, vectors [][]float32, dim int) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, index expects %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

func checkQuery(vector []float32, dim int) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: query has %d dimensions, index expects %d", ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}

func checkSpec(spec types.IndexSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("index name is required")
	}
	if spec.Dimension < 1 {
		return fmt.Errorf("index dimension must be positive")
	}
	if spec.Metric != "" && spec.Metric != types.MetricCosine {
		return fmt.Errorf("unsupported metric %q", spec.Metric)
	}
	return nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func batches(n, size int) [][2]int {
	if size < 1 {
		size = n
	}
	var out [][2]int
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{i, end})
	}
	return out
}
