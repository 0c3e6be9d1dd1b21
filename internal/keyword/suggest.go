package keyword

import (
	"strings"
	"unicode"
)

// Suggester proposes a corrected query from the indexed vocabulary.
type Suggester struct {
	dictionary  TermDictionary
	maxDistance int
	minFreq     int
}

// SuggesterOption configures a Suggester.
type SuggesterOption func(*Suggester)

// WithMaxDistance sets the maximum edit distance for a correction.
func WithMaxDistance(d int) SuggesterOption {
	return func(s *Suggester) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMinFrequency sets the minimum number of chunks a term must appear in
// before it is offered as a correction.
func WithMinFrequency(f int) SuggesterOption {
	return func(s *Suggester) {
		if f > 0 {
			s.minFreq = f
		}
	}
}

// NewSuggester creates a Suggester over dict.
func NewSuggester(dict TermDictionary, opts ...SuggesterOption) *Suggester {
	s := &Suggester{
		dictionary:  dict,
		maxDistance: 2,
		minFreq:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Suggest returns query with each unknown word replaced by its best indexed
// neighbour, or "" when nothing would change. Words shorter than three runes
// and words containing digits are kept as typed, since indicator fragments
// and campaign numbers are not misspellings.
func (s *Suggester) Suggest(query string) (string, error) {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return "", nil
	}
	terms, err := s.dictionary.Terms()
	if err != nil {
		return "", err
	}

	changed := false
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w
		if _, ok := terms[w]; ok || !correctable(w) {
			continue
		}
		if best := s.closest(w, terms); best != "" {
			out[i] = best
			changed = true
		}
	}
	if !changed {
		return "", nil
	}
	return strings.Join(out, " "), nil
}

// closest picks the term with the highest frequency/(distance+1), ties by term.
func (s *Suggester) closest(word string, terms map[string]int) string {
	limit := s.maxDistance
	n := len([]rune(word))
	if n <= 4 {
		limit = 1
	}
	var (
		best      string
		bestScore float64
	)
	for term, freq := range terms {
		if freq < s.minFreq {
			continue
		}
		if d := len([]rune(term)) - n; d > limit || -d > limit {
			continue
		}
		dist := editDistance(word, term)
		if dist == 0 || dist > limit {
			continue
		}
		score := float64(freq) / float64(dist+1)
		if score > bestScore || (score == bestScore && term < best) {
			best, bestScore = term, score
		}
	}
	return best
}

func correctable(word string) bool {
	if len([]rune(word)) < 3 {
		return false
	}
	for _, r := range word {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
