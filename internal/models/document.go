// Package models defines the graph entities, their references, and retrieval results.
package models

import "time"

// Document is a source document. Props is an arbitrary metadata map (path, title, ...)
// that is overlaid, never replaced, on every upsert.
type Document struct {
	ID       string         `json:"id"`
	Props    map[string]any `json:"props,omitempty"`
	Campaign string         `json:"campaign,omitempty"`
}

// Chunk is a window of document text. DocumentID is the target of its PART_OF edge.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId"`
	Text       string         `json:"text"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Campaign is a labeled grouping of documents.
type Campaign struct {
	Name string `json:"name"`
}

// Indicator is a normalized, typed artifact. Value is the unique key.
type Indicator struct {
	Value     string    `json:"value"`
	Type      string    `json:"type"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// DefaultConfidence is the confidence assigned to every extracted indicator.
const DefaultConfidence = 0.9

// IndicatorCandidate is an extraction result before it is written to the graph.
// FirstSeen and LastSeen are optional; the store clock is used when they are nil.
type IndicatorCandidate struct {
	Type       string     `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	FirstSeen  *time.Time `json:"firstSeen,omitempty"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"`
}

// Mention is a MENTIONED_IN edge from an indicator to a document.
// Edges are keyed by (IndicatorValue, DocumentID, Confidence).
type Mention struct {
	IndicatorValue string    `json:"indicator"`
	DocumentID     string    `json:"documentId"`
	Confidence     float64   `json:"confidence"`
	ContextChunkID string    `json:"contextChunkId,omitempty"`
	TS             time.Time `json:"ts"`
}

// TypedMention is a mention reduced to what co-mention analysis needs.
type TypedMention struct {
	IndicatorValue string
	IndicatorType  string
	DocumentID     string
}

// CampaignMention links an indicator to a campaign through a mentioning document.
type CampaignMention struct {
	IndicatorValue string
	Campaign       string
}
