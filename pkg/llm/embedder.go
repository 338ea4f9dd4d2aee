package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/xhad/mindease/internal/types"
	"github.com/xhad/mindease/pkg/errs"
)

var _ types.Embedder = (*Embedder)(nil)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL or OpenAI-compatible API URL
	APIKey    string
	Dimension int     // 0 means discover on first use
	BatchSize int     // texts per provider request
	RateLimit float64 // provider requests per second
}

// Embedder turns text into vectors through a hosted embedding model.
type Embedder struct {
	config   EmbedderConfig
	embedder embeddings.Embedder

	mu  sync.Mutex
	dim int
}

// NewEmbedderWithConfig connects to the configured provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	config = embedderDefaults(config)

	var client embeddings.EmbedderClient
	switch config.Provider {
	case "ollama":
		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = llm
	case "openai":
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", errs.ErrInvalidInput, config.Provider)
	}

	return NewEmbedderWithClient(client, config)
}

// NewEmbedderWithClient wraps an existing provider client.
func NewEmbedderWithClient(client embeddings.EmbedderClient, config EmbedderConfig) (*Embedder, error) {
	config = embedderDefaults(config)

	limited := &limitedClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}

	emb, err := embeddings.NewEmbedder(limited,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{config: config, embedder: emb, dim: config.Dimension}, nil
}

func embedderDefaults(config EmbedderConfig) EmbedderConfig {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" && config.Provider == "ollama" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 10
	}
	return config
}

func (e *Embedder) Model() string { return e.config.Model }

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, &errs.EmbeddingError{Model: e.config.Model, Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &errs.EmbeddingError{
			Model: e.config.Model,
			Err:   fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts)),
		}
	}

	e.remember(len(vectors[0]))
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &errs.EmbeddingError{Model: e.config.Model, Err: err}
	}
	if len(vector) == 0 {
		return nil, &errs.EmbeddingError{Model: e.config.Model, Err: fmt.Errorf("empty embedding")}
	}

	e.remember(len(vector))
	return vector, nil
}

// Dimension returns the configured dimension, or embeds a sample text once to
// discover it.
func (e *Embedder) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	dim := e.dim
	e.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}

	vector, err := e.EmbedQuery(ctx, "dimension check")
	if err != nil {
		return 0, err
	}
	return len(vector), nil
}

func (e *Embedder) remember(dim int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 {
		e.dim = dim
	}
}

// limitedClient paces provider requests and checks that every text got a vector.
type limitedClient struct {
	client  embeddings.EmbedderClient
	limiter *rate.Limiter
}

func (c *limitedClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := c.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}
