package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/xhad/docqa/internal/models"
)

// Refusal is the reply the model is told to give when the context lacks
// the answer.
const Refusal = "The document does not provide information on this topic."

const defaultPromptTemplate = `You answer questions about a single document using only the excerpts below.
Never rely on outside knowledge.

CONTEXT:
{{.context}}

QUESTION:
{{.question}}

Rules:
- Give a direct, concise answer drawn only from the context.
- If the context does not contain the answer, reply exactly: "{{.refusal}}"

ANSWER:`

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Temperature    float64
	MaxTokens      int
	PromptTemplate string // Go template with .context, .question and .refusal
}

// ChatEngine answers questions from retrieved chunks with a single
// completion call per question.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	prompt prompts.PromptTemplate
}

// NewWithConfig creates a new ChatEngine around an already built model.
func NewWithConfig(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	if model == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.PromptTemplate == "" {
		config.PromptTemplate = defaultPromptTemplate
	}

	return &ChatEngine{
		config: config,
		llm:    model,
		prompt: prompts.NewPromptTemplate(config.PromptTemplate, []string{"context", "question", "refusal"}),
	}, nil
}

// Prompt renders the prompt for question over chunks.
func (ce *ChatEngine) Prompt(question string, chunks []models.ScoredChunk) (string, error) {
	var contextBuilder strings.Builder
	for i, c := range chunks {
		if i > 0 {
			contextBuilder.WriteString("\n\n")
		}
		contextBuilder.WriteString(c.Content)
	}

	prompt, err := ce.prompt.Format(map[string]any{
		"context":  contextBuilder.String(),
		"question": question,
		"refusal":  Refusal,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return prompt, nil
}

// Answer asks the model once. Model errors are returned as is, with no retry.
func (ce *ChatEngine) Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (*models.Answer, error) {
	prompt, err := ce.Prompt(question, chunks)
	if err != nil {
		return nil, err
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))
	if err != nil {
		return nil, fmt.Errorf("chat error: %w", err)
	}

	sources := make([]string, len(chunks))
	for i, c := range chunks {
		sources[i] = c.Content
	}

	return &models.Answer{
		Question: question,
		Answer:   strings.TrimSpace(completion),
		Sources:  sources,
	}, nil
}
