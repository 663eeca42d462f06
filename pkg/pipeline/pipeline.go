package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrDocumentUnavailable marks failures caused by the submitted document
	// rather than by an upstream service.
	ErrDocumentUnavailable = errors.New("document unavailable")
	ErrEmptyDocument       = errors.New("document contains no text")
)

type Stage string

const (
	StageFetch  Stage = "fetch"
	StageChunk  Stage = "chunk"
	StageIndex  Stage = "index"
	StageAnswer Stage = "answer"
)

// Progress reports how far a stage has got. total is -1 when unknown.
type Progress func(stage Stage, done, total int)

type Config struct {
	IndexName      string
	Dimension      int
	Region         string
	TopK           int
	ForceRecreate  bool
	EmbedBatchSize int
	Concurrency    int     // concurrent answer calls, 1 answers sequentially
	RateLimit      float64 // answer calls per second, 0 is unlimited
	Logger         *zap.Logger
	OnProgress     Progress
}

type Pipeline struct {
	config    Config
	fetcher   types.Fetcher
	chunker   types.Chunker
	store     types.VectorStore
	indexer   *Indexer
	retriever *Retriever
	answerer  types.Answerer
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func New(config Config, fetcher types.Fetcher, chunker types.Chunker, embedder types.Embedder, store types.VectorStore, answerer types.Answerer) (*Pipeline, error) {
	if fetcher == nil || chunker == nil || embedder == nil || store == nil || answerer == nil {
		return nil, fmt.Errorf("pipeline requires fetcher, chunker, embedder, store and answerer")
	}
	if config.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if config.Dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit cannot be negative")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		config:    config,
		fetcher:   fetcher,
		chunker:   chunker,
		store:     store,
		indexer:   NewIndexer(embedder, store, config.EmbedBatchSize, logger),
		retriever: NewRetriever(embedder, store, config.TopK),
		answerer:  answerer,
		logger:    logger,
	}
	if config.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return p, nil
}

func (p *Pipeline) progress(stage Stage, done, total int) {
	if p.config.OnProgress != nil {
		p.config.OnProgress(stage, done, total)
	}
}

// Run indexes the document at url and answers every question from it.
// Answers are returned in question order. Any failure fails the whole run.
func (p *Pipeline) Run(ctx context.Context, url string, questions []string) ([]models.Answer, error) {
	started := time.Now()

	p.progress(StageFetch, 0, -1)
	docs, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocumentUnavailable, err)
	}
	if !hasText(docs) {
		return nil, fmt.Errorf("%w: %w", ErrDocumentUnavailable, ErrEmptyDocument)
	}
	p.progress(StageFetch, len(docs), len(docs))

	chunks := p.chunker.Process(docs)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrDocumentUnavailable, ErrEmptyDocument)
	}
	p.progress(StageChunk, len(chunks), len(chunks))

	spec := types.IndexSpec{
		Name:      p.config.IndexName,
		Dimension: p.config.Dimension,
		Metric:    types.MetricCosine,
		Region:    p.config.Region,
	}
	if err := p.store.EnsureIndex(ctx, spec, p.config.ForceRecreate); err != nil {
		return nil, fmt.Errorf("failed to prepare index: %w", err)
	}

	p.progress(StageIndex, 0, len(chunks))
	err = p.indexer.Index(ctx, chunks, func(done int) {
		p.progress(StageIndex, done, len(chunks))
	})
	if err != nil {
		return nil, err
	}

	answers, err := p.answerAll(ctx, questions)
	if err != nil {
		return nil, err
	}

	p.logger.Info("document processed",
		zap.String("url", url),
		zap.Int("pages", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Int("questions", len(questions)),
		zap.Duration("elapsed", time.Since(started)))
	return answers, nil
}

// Ask answers a single question against whatever is already indexed.
func (p *Pipeline) Ask(ctx context.Context, question string) (*models.Answer, error) {
	chunks, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	answer, err := p.answerer.Answer(ctx, question, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to answer %q: %w", question, err)
	}
	return answer, nil
}

func (p *Pipeline) answerAll(ctx context.Context, questions []string) ([]models.Answer, error) {
	answers := make([]models.Answer, len(questions))
	var done atomic.Int32

	p.progress(StageAnswer, 0, len(questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for i, q := range questions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if p.limiter != nil {
				if err := p.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			answer, err := p.Ask(gctx, q)
			if err != nil {
				return err
			}
			answers[i] = *answer
			p.progress(StageAnswer, int(done.Add(1)), len(questions))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return answers, nil
}

func hasText(docs []models.Document) bool {
	for _, d := range docs {
		if strings.TrimSpace(d.Content) != "" {
			return true
		}
	}
	return false
}
