package store

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/internal/types"
	"github.com/xhad/mindease/pkg/errs"
)

var (
	_ types.VectorStore  = (*PGVectorStore)(nil)
	_ types.StoreBackend = (*PGVectorBackend)(nil)
)

type PGVectorConfig struct {
	ConnString string
	TableName  string
}

// PGVectorBackend keeps the vector store in a PostgreSQL table with the
// pgvector extension. Metadata lives in a companion <table>_meta table.
type PGVectorBackend struct {
	config PGVectorConfig
}

func NewPGVectorBackend(config PGVectorConfig) *PGVectorBackend {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	return &PGVectorBackend{config: config}
}

func (b *PGVectorBackend) Location() string {
	return "postgres table " + b.config.TableName
}

func (b *PGVectorBackend) tables() (string, string) {
	return pgx.Identifier{b.config.TableName}.Sanitize(), pgx.Identifier{b.config.TableName + "_meta"}.Sanitize()
}

func (b *PGVectorBackend) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, b.config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", errs.ErrIO, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to connect to database: %v", errs.ErrIO, err)
	}
	return pool, nil
}

// Build drops and recreates both tables inside one transaction.
func (b *PGVectorBackend) Build(ctx context.Context, chunks []models.Chunk, emb types.Embedder, opts types.BuildOptions) (types.VectorStore, error) {
	vectors, dim, err := embedChunks(ctx, chunks, emb, opts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	pool, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	table, metaTable := b.tables()
	meta := models.StoreMeta{
		Model:      emb.Model(),
		Dimension:  dim,
		ChunkCount: len(chunks),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ddl := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf("DROP TABLE IF EXISTS %s, %s", table, metaTable),
		fmt.Sprintf(`
		CREATE TABLE %s (
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			source TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d) NOT NULL
		)`, table, dim),
		fmt.Sprintf(`
		CREATE TABLE %s (
			model TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			chunk_count INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, metaTable),
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (model, dimension, chunk_count, created_at) VALUES ($1, $2, $3, $4)", metaTable),
		meta.Model, meta.Dimension, meta.ChunkCount, meta.CreatedAt,
	); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (seq, id, document_id, source, chunk_index, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, table)

	batch := &pgx.Batch{}
	for i, c := range chunks {
		batch.Queue(insert, chunkRow(i, c, vectors[i])...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &PGVectorStore{pool: pool, table: table, meta: meta}, nil
}

// Open fails with errs.ErrStoreNotFound when the metadata table is missing.
func (b *PGVectorBackend) Open(ctx context.Context, emb types.Embedder) (types.VectorStore, error) {
	pool, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	table, metaTable := b.tables()

	var exists bool
	if err := pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", metaTable).Scan(&exists); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to check store: %w", err)
	}
	if !exists {
		pool.Close()
		return nil, fmt.Errorf("%w: %s", errs.ErrStoreNotFound, b.Location())
	}

	var meta models.StoreMeta
	err = pool.QueryRow(ctx,
		fmt.Sprintf("SELECT model, dimension, chunk_count, created_at FROM %s LIMIT 1", metaTable),
	).Scan(&meta.Model, &meta.Dimension, &meta.ChunkCount, &meta.CreatedAt)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrStoreCorrupt, b.Location(), err)
	}

	if emb != nil {
		dim, err := emb.Dimension(ctx)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("check embedding dimension: %w", err)
		}
		if dim != meta.Dimension {
			pool.Close()
			return nil, &errs.DimensionMismatchError{Stored: meta.Dimension, Got: dim}
		}
	}

	return &PGVectorStore{pool: pool, table: table, meta: meta}, nil
}

// PGVectorStore queries an opened pgvector table.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	table string
	meta  models.StoreMeta
}

// Query scans the table exactly; there is no approximate index, so ordering
// matches the SQLite store.
func (vs *PGVectorStore) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if err := checkQuery(vector, vs.meta.Dimension, k); err != nil {
		return nil, err
	}

	// <=> yields NaN when either vector is zero. Such rows score 1 and the rest
	// are clamped to [0, 2], matching cosineDistance.
	query := fmt.Sprintf(`
		SELECT id, document_id, source, chunk_index, content, metadata,
			CASE WHEN d = 'NaN'::float8 THEN 1 ELSE LEAST(2, GREATEST(0, d)) END AS distance
		FROM (
			SELECT seq, id, document_id, source, chunk_index, content, metadata, embedding <=> $1 AS d
			FROM %s
		) AS scored
		ORDER BY distance, seq
		LIMIT $2`,
		vs.table)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var r models.ScoredChunk
		if err := rows.Scan(
			&r.ID,
			&r.DocumentID,
			&r.Source,
			&r.Index,
			&r.Text,
			&r.Metadata,
			&r.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

func (vs *PGVectorStore) Meta() models.StoreMeta { return vs.meta }

func (vs *PGVectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

// chunkRow returns the insert arguments for chunk c at position seq. Text
// columns derived from file paths or content are made valid UTF-8 first.
func chunkRow(seq int, c models.Chunk, vector []float32) []any {
	return []any{
		seq,
		sanitizeUTF8(c.ID),
		sanitizeUTF8(c.DocumentID),
		sanitizeUTF8(c.Source),
		c.Index,
		sanitizeUTF8(c.Text),
		c.Metadata,
		pgvector.NewVector(vector),
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
