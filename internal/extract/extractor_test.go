package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	pages, err := e.ExtractBytes([]byte("Hello world\nLine 2"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if len(pages) != 1 || pages[0].Number != 1 || pages[0].Text != "Hello world\nLine 2" {
		t.Errorf("got %+v", pages)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	pages, err := e.ExtractBytes([]byte("hello\x80world"), ".md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if len(pages) != 1 || pages[0].Text != "hello\ufffdworld" {
		t.Errorf("got %+v", pages)
	}
}

func TestExtractBytes_plainBlank(t *testing.T) {
	pages, err := NewExtractor().ExtractBytes([]byte(" \n\t "), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("blank text should yield no pages, got %+v", pages)
	}
}

func TestExtractBytes_unsupported(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("PK"), ".docx")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtractBytes_invalidPDF(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a pdf"), ".pdf"); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

func TestExtract_plainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Storm-1516_report.TXT")
	if err := os.WriteFile(path, []byte("contact evil@example.com"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "contact evil@example.com" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSupported(t *testing.T) {
	e := NewExtractor()
	for ext, want := range map[string]bool{".pdf": true, ".PDF": true, ".txt": true, ".md": true, ".xlsx": false, "": false} {
		if got := e.Supported(ext); got != want {
			t.Errorf("Supported(%q) = %v, want %v", ext, got, want)
		}
	}
}

func TestJoinPages(t *testing.T) {
	got := joinPages([]Page{{1, "a"}, {3, "b"}})
	if got != "a\nb" {
		t.Errorf("got %q", got)
	}
}
