package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docqa/pkg/llm"
)

func TestNewClients(t *testing.T) {
	ctx := context.Background()

	clients, err := llm.NewClients(ctx, llm.ProviderConfig{
		Provider: "ollama",
		BaseURL:  "http://localhost:11434",
	})
	require.NoError(t, err)
	assert.NotNil(t, clients.Chat)
	assert.NotNil(t, clients.Embedding)

	clients, err = llm.NewClients(ctx, llm.ProviderConfig{Provider: "gemini", APIKey: "test-key"})
	require.NoError(t, err)
	assert.NotNil(t, clients.Chat)

	_, err = llm.NewClients(ctx, llm.ProviderConfig{Provider: "openai"})
	assert.Error(t, err)
}
