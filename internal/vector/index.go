// Package vector provides the chunk embedding index and similarity helpers.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a query vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// VectorIndex stores one embedding per chunk id and answers nearest-neighbor queries.
type VectorIndex interface {
	// Upsert adds or replaces the vectors for ids.
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Dimensions() int
	Size() int
	Close() error
}

// VectorResult is a single hit. Score is the cosine similarity rescaled to [0,1].
type VectorResult struct {
	ID    string
	Score float64
}
