package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as a single page. Invalid UTF-8 sequences are
// replaced with the replacement character.
func extractPlain(content []byte) []Page {
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\ufffd")
	}
	if strings.TrimSpace(text) == "" {
		return []Page{}
	}
	return []Page{{Number: 1, Text: text}}
}
