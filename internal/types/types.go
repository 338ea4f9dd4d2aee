package types

import (
	"context"

	"github.com/xhad/mindease/internal/models"
)

// Core interfaces
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension(ctx context.Context) (int, error)
	Model() string
}

type VectorStore interface {
	Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error)
	Meta() models.StoreMeta
	Close() error
}

// StoreBackend builds or opens the single persisted vector store.
type StoreBackend interface {
	Build(ctx context.Context, chunks []models.Chunk, emb Embedder, opts BuildOptions) (VectorStore, error)
	Open(ctx context.Context, emb Embedder) (VectorStore, error)
	Location() string
}

type BuildOptions struct {
	BatchSize  int
	OnProgress func(done, total int)
}

type Chunker interface {
	Process(docs []models.Document) ([]models.Chunk, error)
}

type Generator interface {
	Answer(ctx context.Context, question string, chunks []models.Chunk) (string, error)
}
