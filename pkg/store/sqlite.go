package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/internal/types"
	"github.com/xhad/mindease/pkg/errs"
)

const sqliteSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE chunks (
	seq         INTEGER PRIMARY KEY,
	id          TEXT NOT NULL,
	document_id TEXT NOT NULL,
	source      TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	metadata    TEXT,
	embedding   BLOB NOT NULL
);`

var (
	_ types.VectorStore  = (*SQLiteStore)(nil)
	_ types.StoreBackend = SQLiteBackend{}
)

// SQLiteBackend keeps the vector store in a single SQLite file.
type SQLiteBackend struct {
	Path string
}

func (b SQLiteBackend) Location() string { return b.Path }

func (b SQLiteBackend) Build(ctx context.Context, chunks []models.Chunk, emb types.Embedder, opts types.BuildOptions) (types.VectorStore, error) {
	return BuildSQLite(ctx, b.Path, chunks, emb, opts)
}

func (b SQLiteBackend) Open(ctx context.Context, emb types.Embedder) (types.VectorStore, error) {
	return OpenSQLite(ctx, b.Path, emb)
}

// SQLiteStore is a loaded SQLite vector store. Queries run against an
// in-memory copy of the vectors.
type SQLiteStore struct {
	path string
	meta models.StoreMeta

	mu      sync.RWMutex
	entries []entry
	closed  bool
}

// BuildSQLite embeds every chunk and writes a new store at path, replacing any
// existing one. The file is written under a temporary name and renamed into
// place, so readers never see a half-written store.
func BuildSQLite(ctx context.Context, path string, chunks []models.Chunk, emb types.Embedder, opts types.BuildOptions) (*SQLiteStore, error) {
	vectors, dim, err := embedChunks(ctx, chunks, emb, opts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %v", errs.ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp store: %v", errs.ErrIO, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	meta := models.StoreMeta{
		Model:      emb.Model(),
		Dimension:  dim,
		ChunkCount: len(chunks),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}

	if err := writeSQLite(ctx, tmpPath, meta, chunks, vectors); err != nil {
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("%w: install store: %v", errs.ErrIO, err)
	}

	log.Printf("store: built %s with %d chunks (%s, %d dims)", path, meta.ChunkCount, meta.Model, meta.Dimension)

	entries := make([]entry, len(chunks))
	for i := range chunks {
		entries[i] = newEntry(chunks[i], vectors[i])
	}

	return &SQLiteStore{path: path, meta: meta, entries: entries}, nil
}

func writeSQLite(ctx context.Context, path string, meta models.StoreMeta, chunks []models.Chunk, vectors [][]float32) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("%w: open store: %v", errs.ErrIO, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	metaRows := map[string]string{
		"model":       meta.Model,
		"dimension":   strconv.Itoa(meta.Dimension),
		"chunk_count": strconv.Itoa(meta.ChunkCount),
		"created_at":  meta.CreatedAt.Format(time.RFC3339),
	}
	for k, v := range metaRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (seq, id, document_id, source, chunk_index, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, c.ID, c.DocumentID, c.Source, c.Index, c.Text, string(metadata), vectorToBlob(vectors[i])); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// OpenSQLite loads the store at path. When emb is not nil its dimension must
// match the stored one.
func OpenSQLite(ctx context.Context, path string, emb types.Embedder) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errs.ErrStoreNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	s, err := readSQLite(ctx, path)
	if err != nil {
		return nil, err
	}

	if emb != nil {
		dim, err := emb.Dimension(ctx)
		if err != nil {
			return nil, fmt.Errorf("check embedding dimension: %w", err)
		}
		if dim != s.meta.Dimension {
			return nil, &errs.DimensionMismatchError{Stored: s.meta.Dimension, Got: dim}
		}
		if emb.Model() != s.meta.Model {
			log.Printf("store: %s was built with %q, querying with %q", path, s.meta.Model, emb.Model())
		}
	}

	return s, nil
}

func readSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open store: %v", errs.ErrIO, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read metadata: %v", errs.ErrStoreCorrupt, path, err)
	}
	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrStoreCorrupt, path, err)
		}
		values[k] = v
	}
	rows.Close()

	meta, err := parseMeta(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrStoreCorrupt, path, err)
	}

	rows, err = db.QueryContext(ctx, `
		SELECT id, document_id, source, chunk_index, content, metadata, embedding
		FROM chunks
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read chunks: %v", errs.ErrStoreCorrupt, path, err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var (
			c        models.Chunk
			metadata sql.NullString
			blob     []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Source, &c.Index, &c.Text, &metadata, &blob); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrStoreCorrupt, path, err)
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("%w: %s: chunk %s metadata: %v", errs.ErrStoreCorrupt, path, c.ID, err)
			}
		}

		vector := blobToVector(blob)
		if len(vector) != meta.Dimension {
			return nil, fmt.Errorf("%w: %s: chunk %s has %d dims, store has %d", errs.ErrStoreCorrupt, path, c.ID, len(vector), meta.Dimension)
		}
		entries = append(entries, newEntry(c, vector))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrStoreCorrupt, path, err)
	}

	if len(entries) != meta.ChunkCount {
		return nil, fmt.Errorf("%w: %s: expected %d chunks, found %d", errs.ErrStoreCorrupt, path, meta.ChunkCount, len(entries))
	}

	return &SQLiteStore{path: path, meta: meta, entries: entries}, nil
}

func parseMeta(values map[string]string) (models.StoreMeta, error) {
	var meta models.StoreMeta
	var err error

	meta.Model = values["model"]
	if meta.Dimension, err = strconv.Atoi(values["dimension"]); err != nil || meta.Dimension <= 0 {
		return meta, fmt.Errorf("invalid dimension %q", values["dimension"])
	}
	if meta.ChunkCount, err = strconv.Atoi(values["chunk_count"]); err != nil {
		return meta, fmt.Errorf("invalid chunk_count %q", values["chunk_count"])
	}
	if meta.CreatedAt, err = time.Parse(time.RFC3339, values["created_at"]); err != nil {
		return meta, fmt.Errorf("invalid created_at %q", values["created_at"])
	}
	return meta, nil
}

// Query returns up to k chunks ordered by increasing cosine distance.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if err := checkQuery(vector, s.meta.Dimension, k); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: vector store %s", errs.ErrClosed, s.path)
	}
	return rank(s.entries, vector, k), nil
}

func (s *SQLiteStore) Meta() models.StoreMeta { return s.meta }

// Path returns the file the store was loaded from.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	s.entries = nil
	s.closed = true
	s.mu.Unlock()
	return nil
}
