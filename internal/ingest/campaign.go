package ingest

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var knownCampaign = regexp.MustCompile(`(?i)(storm[-\s]?\d+|doppelganger|secondaryops)`)

// DocumentID is the file base name without its extension.
func DocumentID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CampaignFromFilename infers a campaign name from a report file name.
// Known tracking names (storm-NNNN, doppelganger, secondaryops) win; otherwise
// the last word of the name is used. "_" and "-" count as word separators.
// The result is capitalized: first letter upper, the rest lower.
func CampaignFromFilename(path string) string {
	base := strings.NewReplacer("_", " ", "-", " ").Replace(DocumentID(path))
	if m := knownCampaign.FindString(base); m != "" {
		return capitalize(strings.ReplaceAll(m, " ", "-"))
	}
	words := strings.Fields(base)
	if len(words) == 0 {
		return ""
	}
	return capitalize(words[len(words)-1])
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
