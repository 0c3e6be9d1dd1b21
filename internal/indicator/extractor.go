package indicator

import (
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// Extractor applies a registry of patterns to text.
type Extractor struct {
	patterns []Pattern
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithPattern appends a pattern to the registry. It is applied after the built-in ones.
func WithPattern(p Pattern) ExtractorOption {
	return func(e *Extractor) {
		if p.Normalize == nil {
			p.Normalize = identity
		}
		e.patterns = append(e.patterns, p)
	}
}

// NewExtractor returns an extractor over DefaultPatterns plus any added patterns.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{patterns: DefaultPatterns()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Types returns the registered type tags in registry order.
func (e *Extractor) Types() []string {
	types := make([]string, len(e.patterns))
	for i, p := range e.patterns {
		types[i] = p.Type
	}
	return types
}

type dedupKey struct {
	typ   string
	value string
}

// Extract returns every indicator found in text. Every pattern runs over the whole
// text, so one span may be reported under several types. Results are deduplicated by
// (type, normalized value) and ordered by first occurrence in registry order.
// Text without matches yields an empty, non-nil slice.
func (e *Extractor) Extract(text string) []models.IndicatorCandidate {
	out := make([]models.IndicatorCandidate, 0)
	seen := make(map[dedupKey]int)
	for _, p := range e.patterns {
		for _, raw := range p.Regexp.FindAllString(text, -1) {
			value := p.Normalize(raw)
			if value == "" {
				continue
			}
			c := models.IndicatorCandidate{Type: p.Type, Value: value, Confidence: models.DefaultConfidence}
			key := dedupKey{typ: p.Type, value: value}
			if i, ok := seen[key]; ok {
				out[i] = c
				continue
			}
			seen[key] = len(out)
			out = append(out, c)
		}
	}
	return out
}

var defaultExtractor = NewExtractor()

// Extract runs the default registry over text.
func Extract(text string) []models.IndicatorCandidate {
	return defaultExtractor.Extract(text)
}
