package models

import "fmt"

// SearchQuery is a hybrid search request as received from a collaborator.
type SearchQuery struct {
	Query string `json:"q"`
	K     int    `json:"k,omitempty"`
}

// Validate checks the query text and clamps K to maxK. A negative K is rejected;
// zero is left for the caller to replace with its default.
func (q *SearchQuery) Validate(maxK int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K < 0 {
		return fmt.Errorf("k must not be negative, got %d", q.K)
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
