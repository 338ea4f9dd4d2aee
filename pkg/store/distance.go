package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/internal/types"
	"github.com/xhad/mindease/pkg/errs"
)

type entry struct {
	chunk  models.Chunk
	vector []float32
	norm   float64
}

func newEntry(chunk models.Chunk, vector []float32) entry {
	return entry{chunk: chunk, vector: vector, norm: norm(vector)}
}

// rank returns the k entries closest to query by cosine distance. The sort is
// stable so equal distances keep insertion order.
func rank(entries []entry, query []float32, k int) []models.ScoredChunk {
	qn := norm(query)

	scored := make([]models.ScoredChunk, len(entries))
	for i, e := range entries {
		scored[i] = models.ScoredChunk{Chunk: e.chunk, Distance: cosineDistance(e.vector, e.norm, query, qn)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Distance < scored[j].Distance
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// cosineDistance is 1 - cosine similarity, clamped to [0, 2]. A zero vector is
// at distance 1 from everything.
func cosineDistance(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 1
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	d := 1 - dot/(an*bn)
	return math.Min(2, math.Max(0, d))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func checkQuery(vector []float32, dim, k int) error {
	if len(vector) != dim {
		return &errs.DimensionMismatchError{Stored: dim, Got: len(vector)}
	}
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", errs.ErrInvalidInput, k)
	}
	return nil
}

// embedChunks embeds chunk texts in batches and checks that every vector has
// the same length.
func embedChunks(ctx context.Context, chunks []models.Chunk, emb types.Embedder, opts types.BuildOptions) ([][]float32, int, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 32
	}

	vectors := make([][]float32, 0, len(chunks))
	for i := 0; i < len(chunks); i += batch {
		end := min(i+batch, len(chunks))

		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, c.Text)
		}

		vs, err := emb.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, 0, err
		}
		if len(vs) != len(texts) {
			return nil, 0, &errs.EmbeddingError{
				Model: emb.Model(),
				Err:   fmt.Errorf("got %d vectors for %d texts", len(vs), len(texts)),
			}
		}
		vectors = append(vectors, vs...)

		if opts.OnProgress != nil {
			opts.OnProgress(end, len(chunks))
		}
	}

	var dim int
	if len(vectors) > 0 {
		dim = len(vectors[0])
	} else {
		d, err := emb.Dimension(ctx)
		if err != nil {
			return nil, 0, err
		}
		dim = d
	}
	if dim <= 0 {
		return nil, 0, &errs.EmbeddingError{Model: emb.Model(), Err: fmt.Errorf("embedding dimension is %d", dim)}
	}

	for _, v := range vectors {
		if len(v) != dim {
			return nil, 0, &errs.DimensionMismatchError{Stored: dim, Got: len(v)}
		}
	}

	return vectors, dim, nil
}

// vectorToBlob encodes a vector as little-endian float32s.
func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func blobToVector(blob []byte) []float32 {
	count := len(blob) / 4
	vector := make([]float32, count)
	for i := 0; i < count; i++ {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}
