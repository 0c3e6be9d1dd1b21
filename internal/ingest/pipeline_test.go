package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejnc/threat-intel-pipeline/internal/embedding"
	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/keyword"
)

const testDims = 32

const report = `Storm-1516 operators pushed stories through t.me/stormchannel.

The site evil-news.com was registered by ops@evil-news.com and shared
on twitter.com/fakeanchor.`

func newPipeline(t *testing.T, opts ...Option) (*Pipeline, *graph.MemoryStore, *keyword.BleveIndex) {
	t.Helper()
	store, err := graph.NewMemoryStore(testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })
	opts = append([]Option{WithKeywordIndex(kw), WithChunking(80, 10)}, opts...)
	return NewPipeline(store, embedding.NewHashEmbedder(testDims), opts...), store, kw
}

func TestIngestDocument(t *testing.T) {
	p, store, kw := newPipeline(t)
	ctx := context.Background()

	res, err := p.IngestDocument(ctx, Source{
		ID:       "storm_report",
		Text:     report,
		Props:    map[string]any{"title": "Storm report"},
		Campaign: "Storm-1516",
	})
	require.NoError(t, err)
	assert.Equal(t, "storm_report", res.DocumentID)
	assert.Greater(t, res.Chunks, 1)
	assert.Greater(t, res.Indicators, 0)

	doc, err := store.GetDocument(ctx, "storm_report")
	require.NoError(t, err)
	assert.Equal(t, "Storm-1516", doc.Campaign)
	assert.Equal(t, "Storm report", doc.Props["title"])
	assert.Equal(t, p.RunID(), doc.Props[PropIngestRun])

	for _, value := range []string{"evil-news.com", "ops@evil-news.com", "t.me/stormchannel"} {
		mentions, err := store.Mentions(ctx, value)
		require.NoError(t, err)
		require.NotEmpty(t, mentions, value)
		m := mentions[0]
		assert.Equal(t, "storm_report", m.DocumentID)
		require.True(t, strings.HasPrefix(m.ContextChunkID, "storm_report_"), m.ContextChunkID)
		chunk, err := store.GetChunk(ctx, m.ContextChunkID)
		require.NoError(t, err)
		assert.Contains(t, strings.ToLower(chunk.Text), strings.Split(value, "/")[0])
	}

	ind, err := store.GetIndicator(ctx, "t.me/stormchannel")
	require.NoError(t, err)
	assert.Equal(t, "social:telegram", ind.Type)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(res.Chunks), stats.Chunks)
	assert.Equal(t, int64(res.Chunks), stats.VectorChunks)

	n, err := kw.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(res.Chunks), n)
}

func TestIngestDocument_Idempotent(t *testing.T) {
	p, store, _ := newPipeline(t)
	ctx := context.Background()
	src := Source{ID: "d", Text: report, Campaign: "Doppelganger"}

	_, err := p.IngestDocument(ctx, src)
	require.NoError(t, err)
	first, err := store.Stats(ctx)
	require.NoError(t, err)

	_, err = p.IngestDocument(ctx, src)
	require.NoError(t, err)
	second, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIngestDocument_EmptyText(t *testing.T) {
	p, store, _ := newPipeline(t)
	res, err := p.IngestDocument(context.Background(), Source{ID: "blank", Text: "  \n "})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Chunks)
	_, err = store.GetDocument(context.Background(), "blank")
	assert.NoError(t, err)
}

func TestIngestDocument_MissingID(t *testing.T) {
	p, _, _ := newPipeline(t)
	_, err := p.IngestDocument(context.Background(), Source{Text: report})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func TestIngestDocument_EmbedderError(t *testing.T) {
	store, err := graph.NewMemoryStore(testDims)
	require.NoError(t, err)
	p := NewPipeline(store, failingEmbedder{embedding.NewHashEmbedder(testDims)})
	_, err = p.IngestDocument(context.Background(), Source{ID: "d", Text: report})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIngestDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Storm-1516_report.txt", report)
	writeFile(t, dir, "nested/EU_Doppelganger.txt", "Mirror site evil-news.com again.")
	writeFile(t, dir, "notes.csv", "evil-news.com,1")

	p, store, _ := newPipeline(t, WithExtensions([]string{".txt", ".pdf"}), WithWorkers(2))
	ctx := context.Background()
	results, err := p.IngestDir(ctx, dir)
	require.NoError(t, err)
	require.Len(t, results, 2)

	doc, err := store.GetDocument(ctx, "Storm-1516_report")
	require.NoError(t, err)
	assert.Equal(t, "Storm-1516", doc.Campaign)
	assert.Equal(t, filepath.Join(dir, "Storm-1516_report.txt"), doc.Props[PropPath])

	doc, err = store.GetDocument(ctx, "EU_Doppelganger")
	require.NoError(t, err)
	assert.Equal(t, "Doppelganger", doc.Campaign)

	_, err = store.GetDocument(ctx, "notes")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	rows, err := store.CampaignMentions(ctx)
	require.NoError(t, err)
	campaigns := map[string]bool{}
	for _, r := range rows {
		if r.IndicatorValue == "evil-news.com" {
			campaigns[r.Campaign] = true
		}
	}
	assert.Equal(t, map[string]bool{"Storm-1516": true, "Doppelganger": true}, campaigns)
}

func TestIngestDir_NotADirectory(t *testing.T) {
	p, _, _ := newPipeline(t)
	path := writeFile(t, t.TempDir(), "a.txt", "x")
	_, err := p.IngestDir(context.Background(), path)
	assert.Error(t, err)
}

func TestIngestFiles_Errors(t *testing.T) {
	p, _, _ := newPipeline(t)
	dir := t.TempDir()
	ok := writeFile(t, dir, "ok.txt", report)
	_, err := p.IngestFiles(context.Background(), []string{ok, filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.IngestFiles(ctx, []string{ok})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".pdf", []string{".pdf"}, true},
		{".PDF", []string{"pdf"}, true},
		{".txt", []string{".pdf"}, false},
		{".txt", nil, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extensionAllowed(tt.ext, tt.allowed), "%s %v", tt.ext, tt.allowed)
	}
}
