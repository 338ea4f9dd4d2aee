package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/internal/types"
	"github.com/xhad/mindease/pkg/errs"
)

var _ types.Generator = (*Generator)(nil)

// EmptyQuestionReply is returned instead of calling the model when the
// question is blank.
const EmptyQuestionReply = "Please type a question and I'll do my best to help."

// DefaultTemplate fills the "context" and "question" slots.
const DefaultTemplate = `You are MindEase, a supportive companion for motivation, study and self-care.
Answer the question using only the context below. If the context does not contain the answer, say so
kindly and suggest talking to someone you trust.

Context:
{{.context}}

Question: {{.question}}

Answer:`

// GeneratorConfig represents the configuration for the answer generator.
type GeneratorConfig struct {
	Provider    string
	Model       string
	BaseURL     string // Ollama server URL or OpenAI-compatible API URL
	APIKey      string
	Temperature float64
	MaxTokens   int
	Template    string
}

// Generator answers questions from retrieved context with a language model.
type Generator struct {
	config   GeneratorConfig
	llm      llms.Model
	template prompts.PromptTemplate
}

// NewGeneratorWithConfig connects to the configured provider.
func NewGeneratorWithConfig(config GeneratorConfig) (*Generator, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}

	var model llms.Model
	switch config.Provider {
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		model = llm
	case "openai":
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		model = llm
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", errs.ErrInvalidInput, config.Provider)
	}

	return NewGeneratorWithModel(model, config)
}

// NewGeneratorWithModel uses an existing model.
func NewGeneratorWithModel(model llms.Model, config GeneratorConfig) (*Generator, error) {
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature must be between 0 and 2", errs.ErrInvalidInput)
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens cannot be negative", errs.ErrInvalidInput)
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.Template == "" {
		config.Template = DefaultTemplate
	}

	return &Generator{
		config:   config,
		llm:      model,
		template: prompts.NewPromptTemplate(config.Template, []string{"context", "question"}),
	}, nil
}

// Render fills the prompt template with the chunk texts and the question.
func (g *Generator) Render(question string, chunks []models.Chunk) (string, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	prompt, err := g.template.Format(map[string]any{
		"context":  strings.Join(texts, "\n\n"),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return prompt, nil
}

// Answer sends the rendered prompt to the model. A blank question returns
// EmptyQuestionReply and errs.ErrInvalidInput without calling the model.
func (g *Generator) Answer(ctx context.Context, question string, chunks []models.Chunk) (string, error) {
	if strings.TrimSpace(question) == "" {
		return EmptyQuestionReply, fmt.Errorf("%w: question is empty", errs.ErrInvalidInput)
	}

	prompt, err := g.Render(question, chunks)
	if err != nil {
		return "", err
	}

	answer, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens),
	)
	if err != nil {
		return "", &errs.ModelUnavailableError{Model: g.config.Model, Err: err}
	}

	return strings.TrimSpace(answer), nil
}
