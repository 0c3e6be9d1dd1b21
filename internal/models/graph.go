package models

import "fmt"

// NodeKind is the label of a graph node.
type NodeKind string

const (
	KindDocument  NodeKind = "Document"
	KindChunk     NodeKind = "Chunk"
	KindIndicator NodeKind = "Indicator"
	KindCampaign  NodeKind = "Campaign"
)

// Relationship types.
const (
	RelPartOf         = "PART_OF"
	RelMentionedIn    = "MENTIONED_IN"
	RelRelatedTo      = "RELATED_TO"
	RelPartOfCampaign = "PART_OF_CAMPAIGN"
)

// NodeRef identifies a node by label and unique key (Document.id, Chunk.id,
// Indicator.value or Campaign.name).
type NodeRef struct {
	Kind NodeKind `json:"kind"`
	Key  string   `json:"key"`
}

// ID returns a stable identity string for the node.
func (r NodeRef) ID() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.Key)
}

// Value is the display value of a node: the indicator value, the id of documents
// and chunks, and the node identity for nodes without either property.
func (r NodeRef) Value() string {
	switch r.Kind {
	case KindIndicator, KindDocument, KindChunk:
		return r.Key
	default:
		return r.ID()
	}
}

// Edge is a directed relationship between two nodes. ID is unique per edge within a store.
type Edge struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Source NodeRef `json:"source"`
	Target NodeRef `json:"target"`
}

// Neighbor is an edge incident to a node together with the node on its other end.
type Neighbor struct {
	Edge Edge
	Node NodeRef
}

// Stats holds entity counts for status reporting.
type Stats struct {
	Documents    int64 `json:"documents"`
	Chunks       int64 `json:"chunks"`
	Indicators   int64 `json:"indicators"`
	Campaigns    int64 `json:"campaigns"`
	Mentions     int64 `json:"mentions"`
	VectorChunks int64 `json:"vectorChunks"`
}
