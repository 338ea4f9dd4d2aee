package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/internal/types"
	"github.com/xhad/mindease/pkg/errs"
	"github.com/xhad/mindease/pkg/loader"
)

const DefaultTopK = 4

// DocumentLoader reads the source documents for a store build.
type DocumentLoader interface {
	Load(ctx context.Context, dir string) (*loader.Result, error)
}

type Config struct {
	DocsDir    string
	TopK       int
	BatchSize  int
	OnProgress func(done, total int)
}

// Deps are the components a Pipeline composes. All of them are required.
type Deps struct {
	Loader    DocumentLoader
	Chunker   types.Chunker
	Embedder  types.Embedder
	Backend   types.StoreBackend
	Generator types.Generator
}

// Answer is a generated reply together with the chunks it was grounded on.
type Answer struct {
	Text    string               `json:"answer"`
	Sources []models.ScoredChunk `json:"sources"`
}

// Pipeline answers questions against a vector store that is opened, or built
// from DocsDir, on first use. Construct one per process and share it.
//
// Queries hold mu for reading while they use the store. Builds are serialized
// by buildMu and only take mu for writing to swap the finished store in, so a
// store is never closed under a running query.
type Pipeline struct {
	config Config
	deps   Deps

	buildMu sync.Mutex

	mu        sync.RWMutex
	store     types.VectorStore
	retriever *Retriever
	skipped   []*errs.ParseError
	closed    bool
}

func New(config Config, deps Deps) (*Pipeline, error) {
	if deps.Loader == nil || deps.Chunker == nil || deps.Embedder == nil || deps.Backend == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: pipeline is missing a component", errs.ErrInvalidInput)
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	return &Pipeline{config: config, deps: deps}, nil
}

// EnsureReady opens the vector store, building it first when none exists.
// Concurrent callers wait for a single initialization. On failure the
// pipeline stays uninitialized and the next call tries again.
func (p *Pipeline) EnsureReady(ctx context.Context) error {
	if ready, err := p.state(); ready || err != nil {
		return err
	}

	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	if ready, err := p.state(); ready || err != nil {
		return err
	}

	var skipped []*errs.ParseError
	s, err := p.deps.Backend.Open(ctx, p.deps.Embedder)
	switch {
	case err == nil:
		log.Printf("rag: loaded vector store %s (%d chunks)", p.deps.Backend.Location(), s.Meta().ChunkCount)
	case errors.Is(err, errs.ErrStoreNotFound):
		log.Printf("rag: no vector store at %s, building from %s", p.deps.Backend.Location(), p.config.DocsDir)
		if s, skipped, err = p.build(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("open vector store: %w", err)
	}

	return p.install(s, skipped)
}

// Rebuild replaces the vector store with a fresh build from DocsDir. Queries
// keep using the current store until the new one is installed.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	if _, err := p.state(); err != nil {
		return err
	}

	s, skipped, err := p.build(ctx)
	if err != nil {
		return err
	}
	return p.install(s, skipped)
}

func (p *Pipeline) state() (ready bool, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false, fmt.Errorf("%w: pipeline", errs.ErrClosed)
	}
	return p.store != nil, nil
}

func (p *Pipeline) build(ctx context.Context) (types.VectorStore, []*errs.ParseError, error) {
	result, err := p.deps.Loader.Load(ctx, p.config.DocsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	if len(result.Skipped) > 0 {
		log.Printf("rag: %v", result.Err())
	}

	chunks, err := p.deps.Chunker.Process(result.Documents)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk documents: %w", err)
	}
	log.Printf("rag: %d documents split into %d chunks", len(result.Documents), len(chunks))

	s, err := p.deps.Backend.Build(ctx, chunks, p.deps.Embedder, types.BuildOptions{
		BatchSize:  p.config.BatchSize,
		OnProgress: p.config.OnProgress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build vector store: %w", err)
	}
	return s, append([]*errs.ParseError{}, result.Skipped...), nil
}

// install swaps s in and closes the store it replaces. skipped is nil when s
// was opened rather than built, which keeps the previous build's report.
func (p *Pipeline) install(s types.VectorStore, skipped []*errs.ParseError) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		s.Close()
		return fmt.Errorf("%w: pipeline", errs.ErrClosed)
	}

	old := p.store
	p.store = s
	p.retriever = NewRetriever(p.deps.Embedder, s)
	if skipped != nil {
		p.skipped = skipped
	}

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("rag: close replaced vector store: %v", err)
		}
	}
	return nil
}

// acquire returns the current retriever with mu held for reading. The caller
// must call release once it is done with the store.
func (p *Pipeline) acquire(ctx context.Context) (retriever *Retriever, release func(), err error) {
	for {
		p.mu.RLock()
		if p.retriever != nil {
			return p.retriever, p.mu.RUnlock, nil
		}
		p.mu.RUnlock()

		if err := p.EnsureReady(ctx); err != nil {
			return nil, nil, err
		}
	}
}

// Ask answers question from the top-k retrieved chunks. A blank question
// skips retrieval and the model, returning the generator's fixed reply along
// with errs.ErrInvalidInput.
func (p *Pipeline) Ask(ctx context.Context, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		text, err := p.deps.Generator.Answer(ctx, question, nil)
		return &Answer{Text: text}, err
	}

	retriever, release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	scored, err := retriever.Retrieve(ctx, question, p.config.TopK)
	release()
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	chunks := make([]models.Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = s.Chunk
	}

	text, err := p.deps.Generator.Answer(ctx, question, chunks)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Sources: scored}, nil
}

// AnswerQuestion is Ask without the sources.
func (p *Pipeline) AnswerQuestion(ctx context.Context, question string) (string, error) {
	answer, err := p.Ask(ctx, question)
	if answer == nil {
		return "", err
	}
	return answer.Text, err
}

// Ready reports whether a vector store is loaded.
func (p *Pipeline) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store != nil
}

// Meta describes the loaded store. ok is false before initialization.
func (p *Pipeline) Meta() (meta models.StoreMeta, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.store == nil {
		return models.StoreMeta{}, false
	}
	return p.store.Meta(), true
}

// Skipped lists the files left out of the most recent build.
func (p *Pipeline) Skipped() []*errs.ParseError {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.skipped
}

// Close waits for running queries, then closes the store. Later calls fail
// with errs.ErrClosed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.store == nil {
		return nil
	}
	err := p.store.Close()
	p.store = nil
	p.retriever = nil
	return err
}
