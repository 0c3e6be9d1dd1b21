package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/tejnc/threat-intel-pipeline/internal/extract"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// separators are tried in order when looking for a window break.
var separators = []string{"\n\n", "\n", " "}

// Chunker splits text into overlapping rune windows, preferring to break on
// paragraph, line and word boundaries.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in runes).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into chunks with ids <docID>_0, <docID>_1, ...
func (c *Chunker) Chunk(docID, text string) []*models.Chunk {
	return c.ChunkPages(docID, []extract.Page{{Number: 1, Text: text}})
}

// ChunkPages splits each page separately. Chunk ids are numbered across the
// whole document and each chunk records its page in Metadata["page"].
func (c *Chunker) ChunkPages(docID string, pages []extract.Page) []*models.Chunk {
	chunks := make([]*models.Chunk, 0)
	for _, p := range pages {
		for _, text := range c.split(Preprocess(p.Text)) {
			chunks = append(chunks, &models.Chunk{
				ID:         fmt.Sprintf("%s_%d", docID, len(chunks)),
				DocumentID: docID,
				Text:       text,
				Metadata:   map[string]any{"page": p.Number},
			})
		}
	}
	return chunks
}

func (c *Chunker) split(text string) []string {
	runes := []rune(text)
	out := make([]string, 0)
	for start := 0; start < len(runes); {
		end := start + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
		// overlap starts on a word boundary
		next := end - c.chunkOverlap
		for next < end && next > 0 && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// breakPoint returns the end of the window [start, end), moved back to just
// after the last separator in its second half when there is one.
func breakPoint(runes []rune, start, end int) int {
	window := string(runes[start:end])
	half := len(string(runes[start : start+(end-start)/2]))
	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i >= half {
			return start + len([]rune(window[:i+len(sep)]))
		}
	}
	return end
}

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	hSpace     = regexp.MustCompile(`[^\S\n]+`)
)

// Preprocess normalizes text for chunking: line endings become \n, runs of
// horizontal whitespace collapse to one space and at most one blank line is kept.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r != '\n' && unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, text)
	text = hSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))
}
