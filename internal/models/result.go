package models

// ScoredChunk is a vector index hit. Score is in [0,1], higher is more similar.
type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// SearchHit is a single hybrid search result.
type SearchHit struct {
	ChunkID      string  `json:"chunkId"`
	DocumentID   string  `json:"documentId,omitempty"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
	KeywordMatch bool    `json:"keywordMatch"`
	Rank         int     `json:"rank"`
}

// SearchResponse is the response for a hybrid or keyword search.
type SearchResponse struct {
	Query   string       `json:"query"`
	K       int          `json:"k"`
	Results []*SearchHit `json:"results"`
	// Suggestion is a corrected query when some words are not in the index.
	Suggestion string `json:"suggestion,omitempty"`
	QueryTime  int64  `json:"query_time_ms"`
}
