package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/fetcher"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/store"
)

const testDim = 64

// keywordModel answers with the first context line sharing a word of five
// or more letters with the question, and with the refusal otherwise.
type keywordModel struct{}

func (keywordModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	prompt := messages[0].Parts[0].(llms.TextContent).Text
	_, rest, _ := strings.Cut(prompt, "CONTEXT:\n")
	excerpts, rest, _ := strings.Cut(rest, "\n\nQUESTION:\n")
	question, _, _ := strings.Cut(rest, "\n")

	reply := llm.Refusal
	for _, word := range strings.Fields(strings.ToLower(question)) {
		word = strings.Trim(word, "?.,!")
		if len(word) < 5 {
			continue
		}
		for _, line := range strings.Split(excerpts, "\n") {
			if strings.Contains(strings.ToLower(line), word) {
				reply = line
				break
			}
		}
		if reply != llm.Refusal {
			break
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m keywordModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// echoAnswerer answers each question with itself after a short delay, and
// fails on the question equal to failOn.
type echoAnswerer struct {
	failOn string

	mu    sync.Mutex
	calls int
}

func (a *echoAnswerer) Answer(ctx context.Context, question string, _ []models.ScoredChunk) (*models.Answer, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if question == a.failOn {
		return nil, errors.New("generation quota exceeded")
	}
	select {
	case <-time.After(time.Duration(len(question)%5) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.Answer{Question: question, Answer: "re: " + question}, nil
}

// countingEmbedder records the batch sizes it was asked to embed.
type countingEmbedder struct {
	types.Embedder

	mu      sync.Mutex
	batches []int
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, len(texts))
	c.mu.Unlock()
	return c.Embedder.EmbedDocuments(ctx, texts)
}

func documentServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/france.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "The capital of France is Paris.\nFrance is a country in Western Europe.")
	})
	mux.HandleFunc("/blank.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "  \n\t \n")
	})
	mux.HandleFunc("/long.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 60; i++ {
			fmt.Fprintf(w, "Paragraph %d talks about topic number %d in some detail.\n\n", i, i)
		}
	})
	mux.HandleFunc("/file.xyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "binary")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	pipeline *pipeline.Pipeline
	store    *store.MemoryStore
	embedder *countingEmbedder
}

func newFixture(t *testing.T, config pipeline.Config, answerer types.Answerer) fixture {
	t.Helper()

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 200, ChunkOverlap: 40})
	require.NoError(t, err)

	if answerer == nil {
		answerer, err = llm.NewWithConfig(llm.ChatConfig{Temperature: 0.1}, keywordModel{})
		require.NoError(t, err)
	}

	if config.IndexName == "" {
		config.IndexName = "test-index"
	}
	config.Dimension = testDim

	mem := store.NewMemory()
	emb := &countingEmbedder{Embedder: llm.NewHashEmbedder(testDim)}
	p, err := pipeline.New(config, fetcher.New(), chunker, emb, mem, answerer)
	require.NoError(t, err)

	return fixture{pipeline: p, store: mem, embedder: emb}
}

func TestRunRoundTrip(t *testing.T) {
	srv := documentServer(t)
	f := newFixture(t, pipeline.Config{TopK: 3}, nil)

	answers, err := f.pipeline.Run(context.Background(), srv.URL+"/france.txt", []string{
		"What is the capital of France?",
		"What is the boiling point of mercury?",
	})
	require.NoError(t, err)
	require.Len(t, answers, 2)

	assert.Contains(t, answers[0].Answer, "Paris")
	assert.Equal(t, "What is the capital of France?", answers[0].Question)
	assert.NotEmpty(t, answers[0].Sources)
	assert.Equal(t, llm.Refusal, answers[1].Answer)
	assert.Greater(t, f.store.Len(), 0)
}

func TestRunKeepsQuestionOrder(t *testing.T) {
	srv := documentServer(t)
	answerer := &echoAnswerer{}
	f := newFixture(t, pipeline.Config{Concurrency: 4}, answerer)

	questions := make([]string, 12)
	for i := range questions {
		questions[i] = fmt.Sprintf("question %d%s", i, strings.Repeat("?", i))
	}

	answers, err := f.pipeline.Run(context.Background(), srv.URL+"/france.txt", questions)
	require.NoError(t, err)
	require.Len(t, answers, len(questions))
	for i, a := range answers {
		assert.Equal(t, questions[i], a.Question)
		assert.Equal(t, "re: "+questions[i], a.Answer)
	}
	assert.Equal(t, len(questions), answerer.calls)
}

func TestRunFailsOnSingleAnswerError(t *testing.T) {
	srv := documentServer(t)

	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			answerer := &echoAnswerer{failOn: "q2"}
			f := newFixture(t, pipeline.Config{Concurrency: concurrency}, answerer)

			answers, err := f.pipeline.Run(context.Background(), srv.URL+"/france.txt",
				[]string{"q0", "q1", "q2", "q3", "q4"})
			require.Error(t, err)
			assert.Nil(t, answers)
			assert.NotErrorIs(t, err, pipeline.ErrDocumentUnavailable)
			assert.Contains(t, err.Error(), "generation quota exceeded")
		})
	}
}

func TestRunDocumentUnavailable(t *testing.T) {
	srv := documentServer(t)

	tests := []struct {
		name string
		path string
		want error
	}{
		{"unsupported format", "/file.xyz", fetcher.ErrUnsupportedFormat},
		{"not found", "/missing.pdf", fetcher.ErrDownload},
		{"blank document", "/blank.txt", pipeline.ErrEmptyDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answerer := &echoAnswerer{}
			f := newFixture(t, pipeline.Config{}, answerer)

			_, err := f.pipeline.Run(context.Background(), srv.URL+tt.path, []string{"anything?"})
			require.Error(t, err)
			assert.ErrorIs(t, err, pipeline.ErrDocumentUnavailable)
			assert.ErrorIs(t, err, tt.want)

			assert.Equal(t, 0, f.store.Len())
			assert.Empty(t, f.embedder.batches)
			assert.Zero(t, answerer.calls)
		})
	}
}

func TestRunInvalidURL(t *testing.T) {
	f := newFixture(t, pipeline.Config{}, &echoAnswerer{})

	_, err := f.pipeline.Run(context.Background(), "not a url", []string{"q"})
	assert.ErrorIs(t, err, pipeline.ErrDocumentUnavailable)
	assert.ErrorIs(t, err, fetcher.ErrInvalidURL)
}

func TestRunEmbedsInBatches(t *testing.T) {
	srv := documentServer(t)

	var (
		mu     sync.Mutex
		stages []pipeline.Stage
	)
	progress := func(stage pipeline.Stage, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if len(stages) == 0 || stages[len(stages)-1] != stage {
			stages = append(stages, stage)
		}
	}
	f := newFixture(t, pipeline.Config{EmbedBatchSize: 4, OnProgress: progress}, &echoAnswerer{})

	_, err := f.pipeline.Run(context.Background(), srv.URL+"/long.txt", []string{"topic 7?"})
	require.NoError(t, err)

	require.NotEmpty(t, f.embedder.batches)
	total := 0
	for i, n := range f.embedder.batches {
		total += n
		if i < len(f.embedder.batches)-1 {
			assert.Equal(t, 4, n)
		} else {
			assert.LessOrEqual(t, n, 4)
		}
	}
	assert.Equal(t, f.store.Len(), total)
	assert.Equal(t, []pipeline.Stage{
		pipeline.StageFetch, pipeline.StageChunk, pipeline.StageIndex, pipeline.StageAnswer,
	}, stages)
}

func TestRunReindexIsIdempotent(t *testing.T) {
	srv := documentServer(t)
	f := newFixture(t, pipeline.Config{}, &echoAnswerer{})

	_, err := f.pipeline.Run(context.Background(), srv.URL+"/long.txt", []string{"q"})
	require.NoError(t, err)
	first := f.store.Len()

	_, err = f.pipeline.Run(context.Background(), srv.URL+"/long.txt", []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, first, f.store.Len())
}

func TestRunRateLimited(t *testing.T) {
	srv := documentServer(t)
	f := newFixture(t, pipeline.Config{Concurrency: 3, RateLimit: 20}, &echoAnswerer{})

	start := time.Now()
	answers, err := f.pipeline.Run(context.Background(), srv.URL+"/france.txt", []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, answers, 5)
	// Burst of one at 20/s: the fifth call waits for four refills.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRunCancelled(t *testing.T) {
	srv := documentServer(t)
	f := newFixture(t, pipeline.Config{}, &echoAnswerer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Run(ctx, srv.URL+"/france.txt", []string{"q"})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)
	emb := llm.NewHashEmbedder(testDim)

	_, err = pipeline.New(pipeline.Config{IndexName: "x", Dimension: testDim}, nil, chunker, emb, store.NewMemory(), &echoAnswerer{})
	assert.Error(t, err)

	_, err = pipeline.New(pipeline.Config{Dimension: testDim}, fetcher.New(), chunker, emb, store.NewMemory(), &echoAnswerer{})
	assert.Error(t, err)

	_, err = pipeline.New(pipeline.Config{IndexName: "x"}, fetcher.New(), chunker, emb, store.NewMemory(), &echoAnswerer{})
	assert.Error(t, err)

	_, err = pipeline.New(pipeline.Config{IndexName: "x", Dimension: testDim, RateLimit: -1}, fetcher.New(), chunker, emb, store.NewMemory(), &echoAnswerer{})
	assert.Error(t, err)

	p, err := pipeline.New(pipeline.Config{IndexName: "x", Dimension: testDim}, fetcher.New(), chunker, emb, store.NewMemory(), &echoAnswerer{})
	require.NoError(t, err)
	assert.NotNil(t, p)
}
