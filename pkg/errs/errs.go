// Package errs defines the failures the pipeline reports to its callers.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIO reports that a directory or file could not be accessed.
	ErrIO = errors.New("io error")
	// ErrInvalidInput reports an empty question or invalid parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreNotFound reports that no vector store exists at the configured location.
	ErrStoreNotFound = errors.New("vector store not found")
	// ErrStoreCorrupt reports a store whose contents cannot be read back.
	ErrStoreCorrupt = errors.New("vector store corrupt")
	// ErrClosed reports use of a store or pipeline after Close.
	ErrClosed = errors.New("closed")
)

// ParseError reports a document that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmbeddingError reports a failure of the embedding model.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding model %q unavailable: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ModelUnavailableError reports a failure of the hosted language model.
type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("language model %q unavailable: %v", e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// DimensionMismatchError reports vectors whose length differs from the store's.
type DimensionMismatchError struct {
	Stored int
	Got    int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: store has %d, embedder produces %d", e.Stored, e.Got)
}

// IngestError collects the per-file failures of one ingestion run.
type IngestError struct {
	Failures []*ParseError
}

func (e *IngestError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d document(s) skipped: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *IngestError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}
