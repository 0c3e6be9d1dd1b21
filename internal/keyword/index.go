// Package keyword provides full-text (BM25) indexing and search over chunk text.
package keyword

import (
	"context"

	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// PhraseBoost multiplies the score when query terms appear close together (phrase match).
	// Values > 1 boost chunks with adjacent query terms (e.g. 1.5). Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
	// DocumentID restricts results to chunks of one document when set.
	DocumentID string
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, chunk *models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	Close() error
	// DocCount returns the total number of chunks in the index.
	DocCount() (uint64, error)
}

// TermDictionary exposes the indexed vocabulary with per-term document counts.
type TermDictionary interface {
	Terms() (map[string]int, error)
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID         string  `json:"chunkId"`
	DocumentID string  `json:"docId"`
	Score      float64 `json:"score"`
}
