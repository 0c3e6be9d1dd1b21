package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		maxK    int
		wantK   int
		wantErr bool
	}{
		{"empty query", &SearchQuery{Query: ""}, 100, 0, true},
		{"negative k", &SearchQuery{Query: "x", K: -1}, 100, 0, true},
		{"zero k kept", &SearchQuery{Query: "x", K: 0}, 100, 0, false},
		{"caps k", &SearchQuery{Query: "x", K: 500}, 100, 100, false},
		{"no cap when maxK unset", &SearchQuery{Query: "x", K: 500}, 0, 500, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(tt.maxK)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantK, tt.query.K)
		})
	}
}

func TestNodeRef_Value(t *testing.T) {
	assert.Equal(t, "evil.com", NodeRef{Kind: KindIndicator, Key: "evil.com"}.Value())
	assert.Equal(t, "doc1", NodeRef{Kind: KindDocument, Key: "doc1"}.Value())
	assert.Equal(t, "Campaign:Storm-1516", NodeRef{Kind: KindCampaign, Key: "Storm-1516"}.Value())
}
