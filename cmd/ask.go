package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/fetcher"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/pipeline"
	"go.uber.org/zap"
)

type askOptions struct {
	document      string
	questions     []string
	forceRecreate bool
}

func newAskCommand(root *rootOptions) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Index a document and answer questions about it",
		Example: `  docqa ask -d https://example.com/policy.pdf -q "What is the waiting period?"
  docqa ask -d ./handbook.docx -q "Who approves leave?" -q "How many sick days are there?"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.document == "" {
				return errors.New("--document is required")
			}
			if len(opts.questions) == 0 {
				return errors.New("at least one --question is required")
			}
			return runAsk(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.document, "document", "d", "", "Document URL or local file")
	cmd.Flags().StringArrayVarP(&opts.questions, "question", "q", nil, "Question to answer (repeatable)")
	cmd.Flags().BoolVar(&opts.forceRecreate, "force-recreate", false, "Drop and recreate the index before indexing")

	return cmd
}

func runAsk(ctx context.Context, root *rootOptions, opts *askOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	if opts.forceRecreate {
		cfg.VectorStore.ForceRecreate = true
	}

	// Log lines would break the progress bars, so stay quiet unless asked.
	log := zap.NewNop()
	if cfg.Debug {
		if log, err = logger.New(true); err != nil {
			return err
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	progress := &progressReporter{}
	src := localOrRemote{fetcher.NewWithConfig(fetcher.FetcherConfig{
		Timeout:   cfg.Fetcher.Timeout,
		MaxBytes:  cfg.Fetcher.MaxBytes,
		UserAgent: cfg.Fetcher.UserAgent,
		Logger:    log,
	})}

	p, err := a.pipeline(src, progress.report)
	if err != nil {
		return err
	}

	color.Blue("Document: %s", opts.document)
	answers, err := p.Run(ctx, opts.document, opts.questions)
	progress.finish()
	if err != nil {
		return err
	}

	printAnswers(answers)
	return nil
}

// localOrRemote reads existing local paths from disk and fetches
// everything else over HTTP.
type localOrRemote struct {
	*fetcher.Fetcher
}

func (f localOrRemote) Fetch(ctx context.Context, src string) ([]models.Document, error) {
	if info, err := os.Stat(src); err == nil && !info.IsDir() {
		return f.FetchFile(ctx, src)
	}
	return f.Fetcher.Fetch(ctx, src)
}

func printAnswers(answers []models.Answer) {
	question := color.New(color.FgGreen, color.Bold).PrintfFunc()
	answer := color.New(color.FgCyan).PrintfFunc()

	for i, a := range answers {
		question("\nQ%d: %s\n", i+1, a.Question)
		answer("A%d: %s\n", i+1, a.Answer)
	}
}

var stageLabels = map[pipeline.Stage]string{
	pipeline.StageFetch:  " Fetching document",
	pipeline.StageChunk:  " Splitting into chunks",
	pipeline.StageIndex:  " Storing in vector database",
	pipeline.StageAnswer: " Answering questions",
}

// progressReporter shows one bar per pipeline stage.
type progressReporter struct {
	mu    sync.Mutex
	stage pipeline.Stage
	bar   *progressbar.ProgressBar
	total int
}

func (p *progressReporter) report(stage pipeline.Stage, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stage != p.stage || p.bar == nil {
		p.finishLocked()
		p.stage, p.total = stage, total
		if total < 0 {
			p.bar = getSpinner(stageLabels[stage])
		} else {
			p.bar = getProgressBar(total, stageLabels[stage])
		}
	}
	if p.total >= 0 {
		_ = p.bar.Set(done)
	}
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressReporter) finishLocked() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Println()
	p.bar = nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
