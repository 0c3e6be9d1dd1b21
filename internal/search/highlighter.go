package search

import (
	"strings"

	"github.com/tejnc/threat-intel-pipeline/pkg/utils"
)

// Highlight returns a snippet of at most maxLen runes around the first
// case-insensitive occurrence of query in content. Without a match the snippet
// is the start of content. Cut ends are marked with "...".
func Highlight(content, query string, maxLen int) string {
	runes := []rune(content)
	if maxLen <= 0 || len(runes) <= maxLen {
		return content
	}
	start := 0
	if q := strings.TrimSpace(query); q != "" {
		if at := indexFold(runes, []rune(strings.ToLower(q))); at >= 0 {
			start = at - (maxLen-len([]rune(q)))/2
			if start < 0 {
				start = 0
			}
			if start > len(runes)-maxLen {
				start = len(runes) - maxLen
			}
		}
	}
	snippet := utils.Truncate(string(runes[start:]), maxLen)
	if start > 0 {
		snippet = "..." + snippet
	}
	return snippet
}

// indexFold is a rune index of needle (already lower case) in haystack, ignoring case.
func indexFold(haystack, needle []rune) int {
	lower := []rune(strings.ToLower(string(haystack)))
	if len(lower) != len(haystack) {
		// lower casing changed the rune count; fall back to no match
		return -1
	}
	for i := 0; i+len(needle) <= len(lower); i++ {
		if string(lower[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}
