// Package store persists chunks with their embedding vectors and answers
// nearest-neighbour queries over them.
package store

import (
	"fmt"

	"github.com/xhad/mindease/internal/types"
	"github.com/xhad/mindease/pkg/errs"
)

type BackendConfig struct {
	Backend     string // "sqlite" or "pgvector"
	Path        string
	DatabaseURL string
	TableName   string
}

// NewBackend selects the store implementation named by config.Backend.
func NewBackend(config BackendConfig) (types.StoreBackend, error) {
	switch config.Backend {
	case "", "sqlite":
		if config.Path == "" {
			return nil, fmt.Errorf("%w: sqlite store path is empty", errs.ErrInvalidInput)
		}
		return SQLiteBackend{Path: config.Path}, nil
	case "pgvector":
		return NewPGVectorBackend(PGVectorConfig{
			ConnString: config.DatabaseURL,
			TableName:  config.TableName,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", errs.ErrInvalidInput, config.Backend)
	}
}
