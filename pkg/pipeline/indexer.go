package pipeline

import (
	"context"
	"fmt"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"go.uber.org/zap"
)

// Indexer embeds chunks and writes them to the vector store.
type Indexer struct {
	embedder  types.Embedder
	store     types.VectorStore
	batchSize int
	logger    *zap.Logger
}

func NewIndexer(embedder types.Embedder, store types.VectorStore, batchSize int, logger *zap.Logger) *Indexer {
	if batchSize < 1 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Index embeds and upserts chunks one batch at a time. Batches written
// before a failure stay in the index. progress, if set, is called with the
// number of chunks written so far.
func (ix *Indexer) Index(ctx context.Context, chunks []models.Chunk, progress func(done int)) error {
	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		if err := ix.store.Upsert(ctx, batch, vectors); err != nil {
			return fmt.Errorf("failed to store chunks %d-%d: %w", start, end, err)
		}

		ix.logger.Debug("indexed batch", zap.Int("from", start), zap.Int("to", end))
		if progress != nil {
			progress(end)
		}
	}
	return nil
}

// Retriever finds the chunks closest to a question.
type Retriever struct {
	embedder types.Embedder
	store    types.VectorStore
	topK     int
}

func NewRetriever(embedder types.Embedder, store types.VectorStore, topK int) *Retriever {
	if topK < 1 {
		topK = 10
	}
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

func (r *Retriever) Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error) {
	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	chunks, err := r.store.Query(ctx, vector, r.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	return chunks, nil
}
