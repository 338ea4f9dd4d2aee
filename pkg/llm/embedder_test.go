package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/mindease/internal/testutil"
	"github.com/xhad/mindease/pkg/errs"
	"github.com/xhad/mindease/pkg/llm"
)

// fakeClient is an embeddings.EmbedderClient that records its batches.
type fakeClient struct {
	dim   int
	err   error
	short bool

	mu      sync.Mutex
	batches [][]string
}

func (c *fakeClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]string(nil), texts...))
	c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	n := len(texts)
	if c.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = testutil.HashVector(texts[i], c.dim)
	}
	return out, nil
}

var config = llm.EmbedderConfig{
	Model:     "nomic-embed-text:latest",
	BatchSize: 2,
	RateLimit: 1000,
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(config)
	assert.NoError(t, err)
	assert.NotNil(t, emb)
	assert.Equal(t, "nomic-embed-text:latest", emb.Model())

	_, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "carrier-pigeon"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestEmbedDocumentsBatchesAndIsDeterministic(t *testing.T) {
	client := &fakeClient{dim: 8}
	emb, err := llm.NewEmbedderWithClient(client, config)
	require.NoError(t, err)

	texts := []string{"one", "two", "three", "four\nfive"}
	first, err := emb.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	second, err := emb.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, first, 4)
	assert.Equal(t, first, second)
	for _, v := range first {
		assert.Len(t, v, 8)
	}

	assert.Len(t, client.batches, 4)
	assert.Equal(t, []string{"one", "two"}, client.batches[0])
	assert.Equal(t, []string{"three", "four five"}, client.batches[1])
}

func TestDimensionDiscovery(t *testing.T) {
	client := &fakeClient{dim: 12}
	emb, err := llm.NewEmbedderWithClient(client, config)
	require.NoError(t, err)

	dim, err := emb.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, dim)

	dim, err = emb.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, dim)
	assert.Len(t, client.batches, 1, "dimension is measured once")

	configured := config
	configured.Dimension = 12
	emb, err = llm.NewEmbedderWithClient(&fakeClient{dim: 12}, configured)
	require.NoError(t, err)
	dim, err = emb.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, dim)
}

func TestEmbedderErrors(t *testing.T) {
	down := errors.New("connection refused")
	emb, err := llm.NewEmbedderWithClient(&fakeClient{dim: 4, err: down}, config)
	require.NoError(t, err)

	_, err = emb.EmbedQuery(context.Background(), "hello")
	var embErr *errs.EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, "nomic-embed-text:latest", embErr.Model)
	assert.ErrorIs(t, err, down)

	_, err = emb.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.True(t, errors.As(err, &embErr))

	_, err = emb.Dimension(context.Background())
	assert.True(t, errors.As(err, &embErr))

	emb, err = llm.NewEmbedderWithClient(&fakeClient{dim: 4, short: true}, config)
	require.NoError(t, err)
	_, err = emb.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.True(t, errors.As(err, &embErr))
}

func TestEmbedderHonoursCancellation(t *testing.T) {
	slow := config
	slow.RateLimit = 0.001
	emb, err := llm.NewEmbedderWithClient(&fakeClient{dim: 4}, slow)
	require.NoError(t, err)

	_, err = emb.EmbedQuery(context.Background(), "first request uses the burst")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = emb.EmbedQuery(ctx, "second request waits")
	assert.Error(t, err)
}
