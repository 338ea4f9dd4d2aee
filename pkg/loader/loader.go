package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/pkg/errs"
)

type LoaderConfig struct {
	Extensions []string
	Recursive  bool
	OnFile     func(path string)
}

type Loader struct {
	config LoaderConfig
	exts   map[string]bool
}

// Result holds the documents of one ingestion run and the files that were skipped.
type Result struct {
	Documents []models.Document
	Skipped   []*errs.ParseError
}

// Err returns an *errs.IngestError when any file was skipped.
func (r *Result) Err() error {
	if len(r.Skipped) == 0 {
		return nil
	}
	return &errs.IngestError{Failures: r.Skipped}
}

func NewWithConfig(config LoaderConfig) *Loader {
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".pdf"}
	}

	exts := make(map[string]bool, len(config.Extensions))
	for _, ext := range config.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Loader{config: config, exts: exts}
}

// Load reads every matching file in dir. A file that cannot be decoded is
// recorded in Result.Skipped and the remaining files are still loaded; only a
// missing or unreadable dir fails the whole call.
func (l *Loader) Load(ctx context.Context, dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", errs.ErrIO, dir)
	}

	result := &Result{}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return fmt.Errorf("%w: %v", errs.ErrIO, walkErr)
			}
			result.Skipped = append(result.Skipped, &errs.ParseError{Path: path, Err: fmt.Errorf("%w: %v", errs.ErrIO, walkErr)})
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != dir && !l.config.Recursive {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !l.exts[ext] {
			return nil
		}

		if l.config.OnFile != nil {
			l.config.OnFile(path)
		}

		docs, err := l.loadFile(ctx, path, ext)
		if err != nil {
			log.Printf("loader: skipping %s: %v", path, err)
			result.Skipped = append(result.Skipped, &errs.ParseError{Path: path, Err: err})
			return nil
		}
		result.Documents = append(result.Documents, docs...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (l *Loader) loadFile(ctx context.Context, path, ext string) ([]models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		pages, err := loadPDF(ctx, f, info.Size())
		if err != nil {
			return nil, err
		}
		return toDocuments(path, pages, true)

	case ".html", ".htm":
		doc, err := loadHTML(f)
		if err != nil {
			return nil, err
		}
		return toDocuments(path, []schema.Document{doc}, false)

	default:
		docs, err := documentloaders.NewText(f).Load(ctx)
		if err != nil {
			return nil, err
		}
		return toDocuments(path, docs, false)
	}
}

// loadPDF returns one schema.Document per page. The PDF decoder panics on
// some malformed inputs, so panics are reported as errors.
func loadPDF(ctx context.Context, f *os.File, size int64) (pages []schema.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	return documentloaders.NewPDF(f, size).Load(ctx)
}

func toDocuments(path string, raw []schema.Document, paginated bool) ([]models.Document, error) {
	var docs []models.Document

	for i, r := range raw {
		if !utf8.ValidString(r.PageContent) {
			return nil, fmt.Errorf("content is not valid UTF-8")
		}
		content := strings.TrimSpace(r.PageContent)
		if content == "" {
			continue
		}

		metadata := map[string]any{"source": path}
		for k, v := range r.Metadata {
			metadata[k] = v
		}

		id := path
		if paginated {
			page := i + 1
			if p, ok := r.Metadata["page"].(int); ok {
				page = p
			}
			metadata["page"] = page
			id = fmt.Sprintf("%s#%d", path, page)
		}

		docs = append(docs, models.Document{
			ID:       id,
			Source:   path,
			Content:  content,
			Metadata: metadata,
		})
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("no extractable text")
	}

	return docs, nil
}
