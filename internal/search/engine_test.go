package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejnc/threat-intel-pipeline/internal/embedding"
	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/keyword"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

const dims = 256

type fixture struct {
	store  *graph.MemoryStore
	emb    *embedding.HashEmbedder
	kw     *keyword.BleveIndex
	engine *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := graph.NewMemoryStore(dims)
	require.NoError(t, err)
	kw, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = kw.Close()
		_ = store.Close()
	})
	emb := embedding.NewHashEmbedder(dims)

	require.NoError(t, store.UpsertDocument(ctx, "report", nil))
	texts := []string{
		"Doppelganger cloned news sites and spread fake articles",
		"Telegram channels amplified the Storm-1516 videos",
		"Unrelated text about weather and climate",
	}
	for i, text := range texts {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		c := &models.Chunk{ID: "report_" + string(rune('0'+i)), DocumentID: "report", Text: text, Embedding: vec}
		require.NoError(t, store.AddChunk(ctx, "report", c))
		require.NoError(t, kw.Index(ctx, c))
	}
	return &fixture{store: store, emb: emb, kw: kw, engine: NewEngine(store, emb, kw, opts...)}
}

func TestHybridSearch_OrdersBySimilarity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vec, _ := f.emb.Embed(ctx, "telegram storm videos")

	hits, err := f.engine.HybridSearch(ctx, "telegram", vec, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "report_1", hits[0].ChunkID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		assert.Equal(t, i+1, hits[i].Rank)
	}
}

func TestHybridSearch_KeywordIsAnnotationOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vec, _ := f.emb.Embed(ctx, "weather climate")

	hits, err := f.engine.HybridSearch(ctx, "TELEGRAM", vec, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3, "non-matching chunks are not filtered out")
	assert.Equal(t, "report_2", hits[0].ChunkID, "containment does not re-rank")
	for _, h := range hits {
		assert.Equal(t, h.ChunkID == "report_1", h.KeywordMatch)
	}
}

func TestHybridSearch_KEdgeCases(t *testing.T) {
	f := newFixture(t, WithLimits(10, 2))
	ctx := context.Background()
	vec, _ := f.emb.Embed(ctx, "news")

	hits, err := f.engine.HybridSearch(ctx, "news", vec, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = f.engine.HybridSearch(ctx, "news", vec, -1)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)

	_, err = f.engine.HybridSearch(ctx, "news", vec[:dims-1], 3)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)

	hits, err = f.engine.HybridSearch(ctx, "news", vec, 50)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "k is clamped to max k")
}

func TestSearch_EmbedsQuery(t *testing.T) {
	f := newFixture(t)
	resp, err := f.engine.Search(context.Background(), &models.SearchQuery{Query: "doppelganger cloned news"})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.K)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "report_0", resp.Results[0].ChunkID)
	assert.True(t, resp.Results[0].KeywordMatch)

	_, err = f.engine.Search(context.Background(), &models.SearchQuery{Query: ""})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestSearch_SuggestsCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.engine.Search(ctx, &models.SearchQuery{Query: "telegarm chanels", K: 2})
	require.NoError(t, err)
	assert.Equal(t, "telegram channels", resp.Suggestion)

	resp, err = f.engine.Search(ctx, &models.SearchQuery{Query: "doppelganger cloned news", K: 2})
	require.NoError(t, err)
	assert.Empty(t, resp.Suggestion)

	got, err := NewEngine(f.store, f.emb, nil).Suggest("telegarm")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestKeywordSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hits, err := f.engine.KeywordSearch(ctx, "telegram", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "report_1", hits[0].ChunkID)
	assert.Equal(t, "report", hits[0].DocumentID)

	_, err = f.engine.KeywordSearch(ctx, "telegram", -1)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)

	noIndex := NewEngine(f.store, f.emb, nil)
	hits, err = noIndex.KeywordSearch(ctx, "telegram", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
