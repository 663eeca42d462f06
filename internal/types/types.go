package types

import (
	"context"

	"github.com/xhad/docqa/internal/models"
)

// Core interfaces
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]models.Document, error)
}

type Chunker interface {
	Process(docs []models.Document) []models.Chunk
}

// Embedder matches langchaingo's embeddings.Embedder so the library
// implementation can be used directly.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	EnsureIndex(ctx context.Context, spec IndexSpec, recreate bool) error
	Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error)
	Close()
}

type Answerer interface {
	Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (*models.Answer, error)
}

const MetricCosine = "cosine"

// IndexSpec describes the remote index chunks are written to. Region is
// carried for hosted backends and ignored by self-hosted ones.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    string
	Region    string
}
