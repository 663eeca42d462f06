package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/fetcher"
)

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "ask"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("debug"))
}

func TestAskRequiresDocumentAndQuestion(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"ask", "-q", "why?"}, "--document is required"},
		{[]string{"ask", "-d", "https://example.com/a.pdf"}, "at least one --question is required"},
	}

	for _, tt := range tests {
		cmd := newRootCommand()
		cmd.SetArgs(tt.args)
		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestLocalOrRemoteReadsFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Local notes about the quarterly plan."), 0o644))

	src := localOrRemote{fetcher.New()}
	docs, err := src.Fetch(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "quarterly plan")

	_, err = src.Fetch(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, fetcher.ErrInvalidURL)
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = config.ProviderGemini
	cfg.LLM.APIKey = ""
	cfg.Processor.ChunkOverlap = cfg.Processor.ChunkSize

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestProgressReporter(t *testing.T) {
	p := &progressReporter{}
	p.report("fetch", 0, -1)
	p.report("fetch", 1, 1)
	p.report("index", 2, 10)
	p.report("index", 10, 10)
	assert.EqualValues(t, "index", p.stage)
	p.finish()
	assert.Nil(t, p.bar)
}
