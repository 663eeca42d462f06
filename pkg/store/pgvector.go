package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"go.uber.org/zap"
)

type PgvectorConfig struct {
	ConnString string
	BatchSize  int
	Logger     *zap.Logger
}

// PgvectorStore keeps each index in its own table with an HNSW cosine index.
type PgvectorStore struct {
	config PgvectorConfig
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu    sync.RWMutex
	table string
	dim   int
}

func NewPgvector(ctx context.Context, config PgvectorConfig) (*PgvectorStore, error) {
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PgvectorStore{
		config: config,
		pool:   pool,
		logger: logger,
	}, nil
}

// EnsureIndex creates the table and vector index when missing, or drops and
// recreates them when recreate is set.
func (vs *PgvectorStore) EnsureIndex(ctx context.Context, spec types.IndexSpec, recreate bool) error {
	if err := checkSpec(spec); err != nil {
		return err
	}
	table := pgx.Identifier{spec.Name}.Sanitize()
	indexName := pgx.Identifier{spec.Name + "_embedding_idx"}.Sanitize()

	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	if recreate {
		vs.logger.Info("dropping index", zap.String("index", spec.Name))
		if _, err := vs.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT,
			chunk_index INTEGER,
			start_index INTEGER,
			embedding vector(%d),
			metadata JSONB
		)`, table, spec.Dimension)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// The table may predate this process with another dimension.
	var existing int
	err := vs.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::text::regclass AND attname = 'embedding'`, table).Scan(&existing)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to inspect table: %w", err)
	}
	if err == nil && existing > 0 && existing != spec.Dimension {
		return fmt.Errorf("%w: index %s has %d dimensions, want %d", ErrDimensionMismatch, spec.Name, existing, spec.Dimension)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		indexName, table)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	vs.mu.Lock()
	vs.table, vs.dim = table, spec.Dimension
	vs.mu.Unlock()
	return nil
}

func (vs *PgvectorStore) target() (string, int, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if vs.table == "" {
		return "", 0, ErrNoIndex
	}
	return vs.table, vs.dim, nil
}

// Upsert writes chunks in batches, one transaction per batch. A failing
// batch does not roll back the batches before it.
func (vs *PgvectorStore) Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	table, dim, err := vs.target()
	if err != nil {
		return err
	}
	if err := checkUpsert(chunks, vectors, dim); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source, content, chunk_index, start_index, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		table)

	for _, b := range batches(len(chunks), vs.config.BatchSize) {
		batch := &pgx.Batch{}
		for i := b[0]; i < b[1]; i++ {
			c := chunks[i]
			batch.Queue(stmt,
				c.ID,
				c.Source,
				sanitizeUTF8(c.Content),
				c.Index,
				c.StartIndex,
				pgvector.NewVector(vectors[i]),
				c.Metadata,
			)
		}

		err := pgx.BeginFunc(ctx, vs.pool, func(tx pgx.Tx) error {
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return fmt.Errorf("failed to upsert chunks %d-%d: %w", b[0], b[1], err)
		}
	}

	vs.logger.Debug("chunks upserted", zap.String("table", table), zap.Int("count", len(chunks)))
	return nil
}

func (vs *PgvectorStore) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	table, dim, err := vs.target()
	if err != nil {
		return nil, err
	}
	if err := checkQuery(vector, dim); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, source, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		table)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var (
			c     models.ScoredChunk
			score float64
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.Content, &c.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c.Score = float32(score)
		results = append(results, c)
	}

	return results, rows.Err()
}

func (vs *PgvectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid byte sequences and NULs, which Postgres
// rejects in TEXT.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
