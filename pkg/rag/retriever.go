// Package rag ties the loader, chunker, embedder, vector store and answer
// generator into a question answering pipeline.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/internal/types"
	"github.com/xhad/mindease/pkg/errs"
)

// Retriever embeds a question and returns the nearest stored chunks.
type Retriever struct {
	embedder types.Embedder
	store    types.VectorStore
}

func NewRetriever(embedder types.Embedder, store types.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]models.ScoredChunk, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", errs.ErrInvalidInput)
	}

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	return r.store.Query(ctx, vector, k)
}
