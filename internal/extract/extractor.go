// Package extract provides text extraction from source report files.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions the extractor cannot read.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Page is the text of one page. Plain text files are a single page.
type Page struct {
	Number int
	Text   string
}

// Extractor extracts plain text from report files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether ext (with leading dot) can be extracted.
func (e *Extractor) Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".txt", ".md", ".text":
		return true
	}
	return false
}

// Extract reads the file at path and returns its text, pages joined by newlines.
func (e *Extractor) Extract(path string) (string, error) {
	pages, err := e.ExtractPages(path)
	if err != nil {
		return "", err
	}
	return joinPages(pages), nil
}

// ExtractPages reads the file at path and returns its text page by page.
// Pages without text are omitted.
func (e *Extractor) ExtractPages(path string) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !e.Supported(ext) {
		return nil, fmt.Errorf("%s: %w %q", path, ErrUnsupportedFormat, ext)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts pages from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) ([]Page, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".txt", ".md", ".text":
		return extractPlain(content), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFormat, ext)
	}
}

func joinPages(pages []Page) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
