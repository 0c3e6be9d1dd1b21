// Package graph persists documents, chunks, indicators and campaigns with
// merge-on-key semantics and serves the reads the query library is built on.
package graph

import (
	"context"
	"time"

	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// Writer holds the mutation primitives. Every call is atomic on its own.
type Writer interface {
	// InitSchema establishes key uniqueness and the chunk vector index. Idempotent.
	InitSchema(ctx context.Context) error
	// UpsertDocument merges a document by id and overlays props onto existing ones.
	UpsertDocument(ctx context.Context, id string, props map[string]any) error
	// AddChunk merges a chunk by id and links it to docID. ErrNotFound if the document
	// is missing; ErrInvalidArgument if the chunk already belongs to another document.
	AddChunk(ctx context.Context, docID string, chunk *models.Chunk) error
	// AddIndicator merges an indicator by value, coalesces firstSeen, overwrites lastSeen
	// and merges a MENTIONED_IN edge keyed by confidence. ErrNotFound if the document is missing.
	AddIndicator(ctx context.Context, cand models.IndicatorCandidate, docID, contextChunkID string) error
	// AssignCampaign merges the campaign and makes it the document's only campaign.
	AssignCampaign(ctx context.Context, docID, campaign string) error
	// Relate merges a RELATED_TO edge between two existing indicators.
	Relate(ctx context.Context, from, to string) error
}

// Reader holds the read primitives. None of them mutate state.
type Reader interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetIndicator(ctx context.Context, value string) (*models.Indicator, error)
	IndicatorsByType(ctx context.Context, typ string) ([]*models.Indicator, error)
	// Mentions returns every MENTIONED_IN edge of the indicator; empty if it does not exist.
	Mentions(ctx context.Context, value string) ([]*models.Mention, error)
	// Neighbors returns every edge incident to ref regardless of direction.
	Neighbors(ctx context.Context, ref models.NodeRef) ([]models.Neighbor, error)
	// TypedMentions returns one row per mention edge whose indicator type starts with prefix.
	TypedMentions(ctx context.Context, typePrefix string) ([]models.TypedMention, error)
	// CampaignMentions returns distinct (indicator, campaign) pairs joined through documents.
	CampaignMentions(ctx context.Context) ([]models.CampaignMention, error)
	// VectorSearch returns up to k chunks by descending similarity.
	VectorSearch(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Store is a graph backend.
type Store interface {
	Writer
	Reader
	// Dimensions is the embedding length the vector index was created with.
	Dimensions() int
	Close() error
}

// Clock returns the current time. Stores use it for firstSeen, lastSeen and mention ts.
type Clock func() time.Time

// Options configures a backend.
type Options struct {
	Dimensions int
	Clock      Clock
}

// Option mutates Options.
type Option func(*Options)

// WithClock overrides the store clock.
func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

func buildOptions(dimensions int, opts []Option) Options {
	o := Options{Dimensions: dimensions, Clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func candidateTimes(cand models.IndicatorCandidate, now time.Time) (first, last time.Time) {
	first, last = now, now
	if cand.FirstSeen != nil {
		first = *cand.FirstSeen
	}
	if cand.LastSeen != nil {
		last = *cand.LastSeen
	}
	return first, last
}

func confidenceOf(cand models.IndicatorCandidate) float64 {
	if cand.Confidence == 0 {
		return models.DefaultConfidence
	}
	return cand.Confidence
}
