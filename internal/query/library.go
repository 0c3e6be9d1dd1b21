// Package query implements read-only traversals and aggregations over the graph
// store: relationship expansion, network materialization, timelines, handle
// co-mention clusters and cross-campaign indicators.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/metrics"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// Defaults for traversal bounds.
const (
	DefaultMaxHops          = 6
	DefaultNetworkPathLimit = 500
	DefaultClusterLimit     = 100

	// frontierFactor bounds partial paths kept per level relative to the path limit.
	frontierFactor = 20
)

// Library runs queries against a graph.Reader. It holds no per-call state.
type Library struct {
	store        graph.Reader
	maxHops      int
	pathLimit    int
	clusterLimit int
	logger       *zap.Logger
}

// Option configures a Library.
type Option func(*Library)

// WithMaxHops sets the largest accepted hops value.
func WithMaxHops(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.maxHops = n
		}
	}
}

// WithNetworkPathLimit sets how many paths Network materializes at most.
func WithNetworkPathLimit(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.pathLimit = n
		}
	}
}

// WithClusterLimit sets how many pairs ClustersByHandle returns at most.
func WithClusterLimit(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.clusterLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(l *Library) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New creates a query library over store.
func New(store graph.Reader, opts ...Option) *Library {
	l := &Library{
		store:        store,
		maxHops:      DefaultMaxHops,
		pathLimit:    DefaultNetworkPathLimit,
		clusterLimit: DefaultClusterLimit,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxHops returns the largest accepted hops value.
func (l *Library) MaxHops() int {
	return l.maxHops
}

func (l *Library) checkHops(hops int) error {
	if hops < 1 || hops > l.maxHops {
		return fmt.Errorf("%w: hops must be in 1..%d, got %d", graph.ErrInvalidArgument, l.maxHops, hops)
	}
	return nil
}

// seedExists reports whether the indicator exists; a missing seed is not an error.
func (l *Library) seedExists(ctx context.Context, value string) (bool, error) {
	_, err := l.store.GetIndicator(ctx, value)
	if errors.Is(err, graph.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IndicatorRef is a row of IndicatorLookup.
type IndicatorRef struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

// IndicatorLookup returns every indicator of the given type.
func (l *Library) IndicatorLookup(ctx context.Context, typ string) ([]IndicatorRef, error) {
	defer metrics.ObserveQuery("indicator_lookup", time.Now())
	inds, err := l.store.IndicatorsByType(ctx, typ)
	if err != nil {
		return nil, err
	}
	out := make([]IndicatorRef, 0, len(inds))
	for _, ind := range inds {
		out = append(out, IndicatorRef{Value: ind.Value, Type: ind.Type})
	}
	return out, nil
}

// ContextRow is one mention of an indicator. ChunkText is nil when the mention
// carries no context chunk or the chunk cannot be found.
type ContextRow struct {
	DocumentID string    `json:"documentId"`
	ChunkText  *string   `json:"chunkText"`
	Confidence float64   `json:"confidence"`
	TS         time.Time `json:"ts"`
}

// ContextForIndicator returns one row per mention edge of the indicator.
func (l *Library) ContextForIndicator(ctx context.Context, value string) ([]ContextRow, error) {
	defer metrics.ObserveQuery("context", time.Now())
	mentions, err := l.store.Mentions(ctx, value)
	if err != nil {
		return nil, err
	}
	out := make([]ContextRow, 0, len(mentions))
	for _, m := range mentions {
		row := ContextRow{DocumentID: m.DocumentID, Confidence: m.Confidence, TS: m.TS}
		if m.ContextChunkID != "" {
			chunk, err := l.store.GetChunk(ctx, m.ContextChunkID)
			switch {
			case err == nil:
				text := chunk.Text
				row.ChunkText = &text
			case !errors.Is(err, graph.ErrNotFound):
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// TimelineEntry is one mention on an indicator's timeline.
type TimelineEntry struct {
	DocumentID string    `json:"documentId"`
	TS         time.Time `json:"ts"`
}

// Timeline returns the indicator's mentions ordered by ascending ts, ties by document id.
func (l *Library) Timeline(ctx context.Context, value string) ([]TimelineEntry, error) {
	defer metrics.ObserveQuery("timeline", time.Now())
	mentions, err := l.store.Mentions(ctx, value)
	if err != nil {
		return nil, err
	}
	out := make([]TimelineEntry, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, TimelineEntry{DocumentID: m.DocumentID, TS: m.TS})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TS.Equal(out[j].TS) {
			return out[i].TS.Before(out[j].TS)
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out, nil
}

// Stats returns store entity counts.
func (l *Library) Stats(ctx context.Context) (*models.Stats, error) {
	return l.store.Stats(ctx)
}
