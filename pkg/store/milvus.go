package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"go.uber.org/zap"
)

const (
	fieldID         = "id"
	fieldEmbedding  = "embedding"
	fieldSource     = "source"
	fieldContent    = "content"
	fieldChunkIndex = "chunk_index"
	fieldStartIndex = "start_index"
	fieldMetadata   = "metadata"
)

type MilvusConfig struct {
	Address   string
	Username  string
	Password  string
	DBName    string
	APIKey    string
	BatchSize int
	Logger    *zap.Logger
}

// MilvusStore maps an index onto a Milvus collection with a VarChar primary
// key, so re-upserting a chunk ID replaces the previous row.
type MilvusStore struct {
	config MilvusConfig
	client *milvusclient.Client
	logger *zap.Logger

	mu         sync.RWMutex
	collection string
	dim        int
}

func NewMilvus(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  config.Address,
		Username: config.Username,
		Password: config.Password,
		DBName:   config.DBName,
		APIKey:   config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &MilvusStore{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

// collectionName maps an index name onto the characters Milvus accepts.
func collectionName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return r
		}
		return '_'
	}, name)
	if mapped == "" || unicode.IsDigit(rune(mapped[0])) {
		mapped = "_" + mapped
	}
	return mapped
}

func (s *MilvusStore) EnsureIndex(ctx context.Context, spec types.IndexSpec, recreate bool) error {
	if err := checkSpec(spec); err != nil {
		return err
	}
	name := collectionName(spec.Name)

	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists && recreate {
		s.logger.Info("dropping collection", zap.String("collection", name))
		if err := s.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(name)); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
		exists = false
	}

	if !exists {
		if err := s.createCollection(ctx, name, spec.Dimension); err != nil {
			return err
		}
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	s.mu.Lock()
	s.collection, s.dim = name, spec.Dimension
	s.mu.Unlock()
	return nil
}

func (s *MilvusStore) createCollection(ctx context.Context, name string, dim int) error {
	schema := entity.NewSchema().
		WithName(name).
		WithDescription("document chunks").
		WithAutoID(false).
		WithField(entity.NewField().
			WithName(fieldID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(fieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim))).
		WithField(entity.NewField().
			WithName(fieldSource).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(4096)).
		WithField(entity.NewField().
			WithName(fieldContent).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(65535)).
		WithField(entity.NewField().
			WithName(fieldChunkIndex).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName(fieldStartIndex).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName(fieldMetadata).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(16384))

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx := index.NewIvfFlatIndex(entity.COSINE, 128)
	createIdxTask, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, fieldEmbedding, idx))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := createIdxTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for index creation: %w", err)
	}

	s.logger.Info("collection created", zap.String("collection", name), zap.Int("dimension", dim))
	return nil
}

func (s *MilvusStore) target() (string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.collection == "" {
		return "", 0, ErrNoIndex
	}
	return s.collection, s.dim, nil
}

func (s *MilvusStore) Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	coll, dim, err := s.target()
	if err != nil {
		return err
	}
	if err := checkUpsert(chunks, vectors, dim); err != nil {
		return err
	}

	for _, b := range batches(len(chunks), s.config.BatchSize) {
		part := chunks[b[0]:b[1]]
		ids := make([]string, len(part))
		sources := make([]string, len(part))
		contents := make([]string, len(part))
		chunkIdx := make([]int64, len(part))
		startIdx := make([]int64, len(part))
		metadata := make([]string, len(part))

		for i, c := range part {
			ids[i] = c.ID
			sources[i] = c.Source
			contents[i] = c.Content
			chunkIdx[i] = int64(c.Index)
			startIdx[i] = int64(c.StartIndex)
			raw, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}
			metadata[i] = string(raw)
		}

		columns := []column.Column{
			column.NewColumnVarChar(fieldID, ids),
			column.NewColumnFloatVector(fieldEmbedding, dim, vectors[b[0]:b[1]]),
			column.NewColumnVarChar(fieldSource, sources),
			column.NewColumnVarChar(fieldContent, contents),
			column.NewColumnInt64(fieldChunkIndex, chunkIdx),
			column.NewColumnInt64(fieldStartIndex, startIdx),
			column.NewColumnVarChar(fieldMetadata, metadata),
		}

		if _, err := s.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(coll, columns...)); err != nil {
			return fmt.Errorf("failed to upsert chunks %d-%d: %w", b[0], b[1], err)
		}
	}

	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(coll))
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}

	s.logger.Debug("chunks upserted", zap.String("collection", coll), zap.Int("count", len(chunks)))
	return nil
}

func (s *MilvusStore) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	coll, dim, err := s.target()
	if err != nil {
		return nil, err
	}
	if err := checkQuery(vector, dim); err != nil {
		return nil, err
	}

	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(
		coll,
		k,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(fieldEmbedding).
		WithSearchParam("nprobe", "16").
		WithOutputFields(fieldSource, fieldContent, fieldMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	rs := results[0]
	out := make([]models.ScoredChunk, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		c := models.ScoredChunk{Score: rs.Scores[i]}
		if ids, ok := rs.IDs.(*column.ColumnVarChar); ok {
			c.ID = ids.Data()[i]
		}

		for _, field := range rs.Fields {
			col, ok := field.(*column.ColumnVarChar)
			if !ok {
				continue
			}
			switch col.Name() {
			case fieldSource:
				c.Source = col.Data()[i]
			case fieldContent:
				c.Content = col.Data()[i]
			case fieldMetadata:
				c.Metadata = s.decodeMetadata(c.ID, col.Data()[i])
			}
		}
		out = append(out, c)
	}

	return out, nil
}

// decodeMetadata parses a stored metadata column. A corrupt value is logged
// and dropped so one bad row cannot fail the whole query.
func (s *MilvusStore) decodeMetadata(id, raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var md map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		s.logger.Warn("dropping corrupt chunk metadata", zap.String("id", id), zap.Error(err))
		return nil
	}
	return md
}

func (s *MilvusStore) Close() {
	if err := s.client.Close(context.Background()); err != nil {
		s.logger.Warn("failed to close milvus client", zap.Error(err))
	}
}
