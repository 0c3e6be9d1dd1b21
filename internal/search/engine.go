// Package search ranks chunks for a query: vector similarity with a keyword
// containment annotation, plus a bleve-backed keyword search.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/embedding"
	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/keyword"
	"github.com/tejnc/threat-intel-pipeline/internal/metrics"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// Engine runs hybrid search over the chunk vector index.
type Engine struct {
	store        graph.Reader
	embedder     embedding.Embedder
	keywordIndex keyword.KeywordIndex
	suggester    *keyword.Suggester
	defaultK     int
	maxK         int
	kwOpts       *keyword.SearchOptions
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLimits sets the default k for text queries and the k ceiling.
func WithLimits(defaultK, maxK int) Option {
	return func(e *Engine) {
		if defaultK > 0 {
			e.defaultK = defaultK
		}
		if maxK > 0 {
			e.maxK = maxK
		}
	}
}

// WithKeywordOptions sets the options passed to the keyword index.
func WithKeywordOptions(opts *keyword.SearchOptions) Option {
	return func(e *Engine) { e.kwOpts = opts }
}

// NewEngine creates a search engine. keywordIndex may be nil, in which case
// KeywordSearch returns an empty result.
func NewEngine(store graph.Reader, embedder embedding.Embedder, keywordIndex keyword.KeywordIndex, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		embedder:     embedder,
		keywordIndex: keywordIndex,
		defaultK:     10,
		maxK:         100,
		logger:       zap.NewNop(),
	}
	if dict, ok := keywordIndex.(keyword.TermDictionary); ok {
		e.suggester = keyword.NewSuggester(dict)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Suggest returns a corrected query built from indexed terms, or "" when every
// word is known or the keyword index has no term dictionary.
func (e *Engine) Suggest(query string) (string, error) {
	if e.suggester == nil {
		return "", nil
	}
	return e.suggester.Suggest(query)
}

// HybridSearch returns up to k chunks ordered by descending vector similarity.
// Each hit is annotated with whether its text contains queryText, ignoring case.
// The annotation never drops or reorders hits: scores are in [0,1], so the
// "contains OR score >= 0" filter admits every candidate.
func (e *Engine) HybridSearch(ctx context.Context, queryText string, queryVector []float32, k int) ([]*models.SearchHit, error) {
	defer metrics.ObserveQuery("hybrid_search", time.Now())
	if k > e.maxK {
		k = e.maxK
	}
	scored, err := e.store.VectorSearch(ctx, queryVector, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	needle := strings.ToLower(queryText)
	hits := make([]*models.SearchHit, 0, len(scored))
	for _, sc := range scored {
		contains := needle != "" && strings.Contains(strings.ToLower(sc.Chunk.Text), needle)
		if !contains && sc.Score < 0 {
			continue
		}
		hits = append(hits, &models.SearchHit{
			ChunkID:      sc.Chunk.ID,
			DocumentID:   sc.Chunk.DocumentID,
			Text:         sc.Chunk.Text,
			Score:        sc.Score,
			KeywordMatch: contains,
			Rank:         len(hits) + 1,
		})
	}
	return hits, nil
}

// Search embeds the query text and runs HybridSearch. K == 0 uses the default k.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(e.maxK); err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrInvalidArgument, err)
	}
	if query.K == 0 {
		query.K = e.defaultK
	}
	vec, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	hits, err := e.HybridSearch(ctx, query.Query, vec, query.K)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("hybrid search",
		zap.String("query", query.Query),
		zap.Int("k", query.K),
		zap.Int("hits", len(hits)))
	suggestion, err := e.Suggest(query.Query)
	if err != nil {
		e.logger.Warn("query suggestion failed", zap.Error(err))
	}
	return &models.SearchResponse{
		Query:      query.Query,
		K:          query.K,
		Results:    hits,
		Suggestion: suggestion,
		QueryTime:  time.Since(start).Milliseconds(),
	}, nil
}

// KeywordSearch runs a full-text query over chunk text and resolves hits to chunks.
// Hits whose chunk is no longer in the store are skipped.
func (e *Engine) KeywordSearch(ctx context.Context, text string, limit int) ([]*models.SearchHit, error) {
	defer metrics.ObserveQuery("keyword_search", time.Now())
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative, got %d", graph.ErrInvalidArgument, limit)
	}
	if limit > e.maxK {
		limit = e.maxK
	}
	hits := make([]*models.SearchHit, 0)
	if e.keywordIndex == nil || limit == 0 {
		return hits, nil
	}
	results, err := e.keywordIndex.Search(ctx, text, limit, e.kwOpts)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	for _, r := range results {
		chunk, err := e.store.GetChunk(ctx, r.ID)
		if err != nil {
			e.logger.Debug("keyword hit without chunk", zap.String("chunk_id", r.ID), zap.Error(err))
			continue
		}
		hits = append(hits, &models.SearchHit{
			ChunkID:      chunk.ID,
			DocumentID:   chunk.DocumentID,
			Text:         chunk.Text,
			Score:        r.Score,
			KeywordMatch: true,
			Rank:         len(hits) + 1,
		})
	}
	return hits, nil
}
