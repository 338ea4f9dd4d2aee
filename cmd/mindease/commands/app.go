package commands

import (
	"fmt"

	"github.com/xhad/mindease/pkg/chat"
	"github.com/xhad/mindease/pkg/config"
	"github.com/xhad/mindease/pkg/llm"
	"github.com/xhad/mindease/pkg/loader"
	"github.com/xhad/mindease/pkg/processor"
	"github.com/xhad/mindease/pkg/rag"
	"github.com/xhad/mindease/pkg/store"
)

// app is everything a command needs, built from one Config.
type app struct {
	cfg       *config.Config
	pipeline  *rag.Pipeline
	generator *llm.Generator
	catalog   *chat.Catalog
}

type hooks struct {
	onFile     func(path string)
	onProgress func(done, total int)
}

func newApp(cfg *config.Config, h hooks) (*app, error) {
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.Embedder.Provider,
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
		RateLimit: cfg.Embedder.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	generator, err := llm.NewGeneratorWithConfig(llm.GeneratorConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Template:    cfg.LLM.Template,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	chunker, err := processor.NewWithConfig(processorConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize processor: %w", err)
	}

	backend, err := store.NewBackend(store.BackendConfig{
		Backend:     cfg.Store.Backend,
		Path:        cfg.Store.Path,
		DatabaseURL: cfg.Store.DatabaseURL,
		TableName:   cfg.Store.TableName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	pipeline, err := rag.New(rag.Config{
		DocsDir:    cfg.Loader.DocsDir,
		TopK:       cfg.RAG.TopK,
		BatchSize:  cfg.Embedder.BatchSize,
		OnProgress: h.onProgress,
	}, rag.Deps{
		Loader: loader.NewWithConfig(loader.LoaderConfig{
			Extensions: cfg.Loader.Extensions,
			Recursive:  cfg.Loader.Recursive,
			OnFile:     h.onFile,
		}),
		Chunker:   chunker,
		Embedder:  embedder,
		Backend:   backend,
		Generator: generator,
	})
	if err != nil {
		return nil, err
	}

	catalog, err := chat.DefaultCatalog()
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, pipeline: pipeline, generator: generator, catalog: catalog}, nil
}

func (a *app) Close() error {
	return a.pipeline.Close()
}

func processorConfig(cfg *config.Config) processor.ProcessorConfig {
	return processor.ProcessorConfig{
		Strategy:        cfg.Processor.Strategy,
		ChunkSize:       cfg.Processor.ChunkSize,
		ChunkOverlap:    cfg.Processor.ChunkOverlap,
		RemoveStopwords: cfg.Processor.RemoveStopwords,
		CustomStopwords: cfg.Processor.CustomStopwords,
	}
}
