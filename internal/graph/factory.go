package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// BackendConfig selects and configures a Store implementation.
type BackendConfig struct {
	Backend    string
	Path       string // sqlite file, or a directory that will hold graph.db
	Dimensions int
	Neo4j      Neo4jConfig
}

// Open creates the configured Store. The schema is not initialized.
func Open(ctx context.Context, cfg BackendConfig, opts ...Option) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory:
		return nonNil(NewMemoryStore(cfg.Dimensions, opts...))
	case "", BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		} else if !isSQLiteURI(path) {
			path = filepath.Join(path, "graph.db")
		}
		return nonNil(NewSQLiteStore(path, cfg.Dimensions, opts...))
	case BackendNeo4j:
		return nonNil(NewNeo4jStore(ctx, cfg.Neo4j, cfg.Dimensions, opts...))
	default:
		return nil, fmt.Errorf("%w: unknown graph backend %q", ErrInvalidArgument, cfg.Backend)
	}
}

// nonNil keeps a failed constructor from returning a non-nil Store holding a nil pointer.
func nonNil[S Store](s S, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
