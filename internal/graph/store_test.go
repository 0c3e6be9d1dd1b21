package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

const testDims = 3

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type storeFactory func(t *testing.T, clock Clock) Store

// runStoreSuite checks the behavior every backend must share.
func runStoreSuite(t *testing.T, open storeFactory) {
	ctx := context.Background()

	setup := func(t *testing.T) (Store, *fakeClock) {
		clock := newFakeClock()
		s := open(t, clock.Now)
		require.NoError(t, s.InitSchema(ctx))
		require.NoError(t, s.InitSchema(ctx), "schema init must be idempotent")
		return s, clock
	}

	t.Run("UpsertDocumentMergesProps", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "r1.txt", map[string]any{"source": "feed", "lang": "en"}))
		require.NoError(t, s.UpsertDocument(ctx, "r1.txt", map[string]any{"lang": nil, "pages": int64(3)}))

		doc, err := s.GetDocument(ctx, "r1.txt")
		require.NoError(t, err)
		assert.Equal(t, "feed", doc.Props["source"])
		assert.NotContains(t, doc.Props, "lang")
		assert.EqualValues(t, 3, doc.Props["pages"])

		_, err = s.GetDocument(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AddChunkRequiresDocument", func(t *testing.T) {
		s, _ := setup(t)
		err := s.AddChunk(ctx, "nope", &models.Chunk{ID: "nope_0", Text: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetChunk(ctx, "nope_0")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AddChunkParentIsImmutable", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "a", nil))
		require.NoError(t, s.UpsertDocument(ctx, "b", nil))
		require.NoError(t, s.AddChunk(ctx, "a", &models.Chunk{ID: "a_0", Text: "first"}))
		require.NoError(t, s.AddChunk(ctx, "a", &models.Chunk{ID: "a_0", Text: "second"}))

		err := s.AddChunk(ctx, "b", &models.Chunk{ID: "a_0", Text: "steal"})
		assert.ErrorIs(t, err, ErrInvalidArgument)

		c, err := s.GetChunk(ctx, "a_0")
		require.NoError(t, err)
		assert.Equal(t, "a", c.DocumentID)
		assert.Equal(t, "second", c.Text)
	})

	t.Run("AddIndicatorMissingDocumentWritesNothing", func(t *testing.T) {
		s, _ := setup(t)
		err := s.AddIndicator(ctx, models.IndicatorCandidate{Type: "domain", Value: "evil.com", Confidence: 0.9}, "ghost", "")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetIndicator(ctx, "evil.com")
		assert.ErrorIs(t, err, ErrNotFound)
		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.Indicators)
		assert.Zero(t, st.Mentions)
	})

	t.Run("AddIndicatorMergesTimestamps", func(t *testing.T) {
		s, clock := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d1", nil))
		require.NoError(t, s.UpsertDocument(ctx, "d2", nil))
		require.NoError(t, s.AddChunk(ctx, "d1", &models.Chunk{ID: "d1_0", Text: "evil.com"}))
		require.NoError(t, s.AddChunk(ctx, "d1", &models.Chunk{ID: "d1_1", Text: "evil.com again"}))

		cand := models.IndicatorCandidate{Type: "domain", Value: "evil.com", Confidence: 0.9}
		t1 := clock.Now()
		require.NoError(t, s.AddIndicator(ctx, cand, "d1", "d1_0"))
		t2 := clock.Advance(time.Hour)
		require.NoError(t, s.AddIndicator(ctx, cand, "d1", "d1_1"))
		t3 := clock.Advance(time.Hour)
		require.NoError(t, s.AddIndicator(ctx, cand, "d2", ""))

		ind, err := s.GetIndicator(ctx, "evil.com")
		require.NoError(t, err)
		assert.Equal(t, "domain", ind.Type)
		assert.True(t, t1.Equal(ind.FirstSeen), "firstSeen %v, want %v", ind.FirstSeen, t1)
		assert.True(t, t3.Equal(ind.LastSeen), "lastSeen %v, want %v", ind.LastSeen, t3)

		mentions, err := s.Mentions(ctx, "evil.com")
		require.NoError(t, err)
		require.Len(t, mentions, 2)
		sort.Slice(mentions, func(i, j int) bool { return mentions[i].DocumentID < mentions[j].DocumentID })
		assert.Equal(t, "d1_1", mentions[0].ContextChunkID)
		assert.True(t, t2.Equal(mentions[0].TS))
		assert.InDelta(t, 0.9, mentions[0].Confidence, 1e-9)
		assert.Equal(t, "", mentions[1].ContextChunkID)
	})

	t.Run("AddIndicatorKeepsEarliestFirstSeen", func(t *testing.T) {
		s, clock := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d", nil))
		first := clock.Now().Add(-24 * time.Hour)
		cand := models.IndicatorCandidate{Type: "ipv4", Value: "10.0.0.1", Confidence: 0.9, FirstSeen: &first}
		require.NoError(t, s.AddIndicator(ctx, cand, "d", ""))

		later := clock.Now()
		cand.FirstSeen = &later
		require.NoError(t, s.AddIndicator(ctx, cand, "d", ""))

		ind, err := s.GetIndicator(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, first.Equal(ind.FirstSeen))
	})

	t.Run("MentionKeyedByConfidence", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d", nil))
		require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: "email", Value: "x@y.com", Confidence: 0.9}, "d", ""))
		require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: "email", Value: "x@y.com", Confidence: 0.5}, "d", ""))
		require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: "email", Value: "x@y.com"}, "d", ""))

		mentions, err := s.Mentions(ctx, "x@y.com")
		require.NoError(t, err)
		assert.Len(t, mentions, 2, "zero confidence defaults to 0.9")
	})

	t.Run("ConcurrentAddIndicator", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d", nil))
		var g errgroup.Group
		for i := 0; i < 16; i++ {
			i := i
			g.Go(func() error {
				return s.AddIndicator(ctx, models.IndicatorCandidate{Type: "domain", Value: "race.net", Confidence: 0.9}, "d", fmt.Sprintf("c%d", i))
			})
		}
		require.NoError(t, g.Wait())

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, st.Indicators)
		assert.EqualValues(t, 1, st.Mentions)
	})

	t.Run("ConcurrentAddChunkKeepsIndexInStep", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d", nil))
		axes := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
		var g errgroup.Group
		for i := 0; i < 30; i++ {
			emb := axes[i%len(axes)]
			g.Go(func() error {
				return s.AddChunk(ctx, "d", &models.Chunk{ID: "d_0", Text: "rewritten", Embedding: emb})
			})
		}
		require.NoError(t, g.Wait())

		c, err := s.GetChunk(ctx, "d_0")
		require.NoError(t, err)
		require.Len(t, c.Embedding, testDims)
		hits, err := s.VectorSearch(ctx, c.Embedding, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "d_0", hits[0].Chunk.ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6, "indexed vector must match the stored embedding")
	})

	t.Run("AssignCampaignReplaces", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d", nil))
		require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: "domain", Value: "a.com", Confidence: 0.9}, "d", ""))
		require.NoError(t, s.AssignCampaign(ctx, "d", "Storm-1516"))
		require.NoError(t, s.AssignCampaign(ctx, "d", "Doppelganger"))

		doc, err := s.GetDocument(ctx, "d")
		require.NoError(t, err)
		assert.Equal(t, "Doppelganger", doc.Campaign)

		cms, err := s.CampaignMentions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.CampaignMention{{IndicatorValue: "a.com", Campaign: "Doppelganger"}}, cms)

		assert.ErrorIs(t, s.AssignCampaign(ctx, "ghost", "X"), ErrNotFound)
	})

	t.Run("RelateAndNeighbors", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d", nil))
		require.NoError(t, s.AddChunk(ctx, "d", &models.Chunk{ID: "d_0", Text: "t"}))
		require.NoError(t, s.AssignCampaign(ctx, "d", "C"))
		require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: "domain", Value: "a.com", Confidence: 0.9}, "d", ""))
		require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: "domain", Value: "b.com", Confidence: 0.9}, "d", ""))
		require.NoError(t, s.Relate(ctx, "a.com", "b.com"))
		require.NoError(t, s.Relate(ctx, "a.com", "b.com"))

		assert.ErrorIs(t, s.Relate(ctx, "a.com", "a.com"), ErrInvalidArgument)
		assert.ErrorIs(t, s.Relate(ctx, "a.com", "zzz"), ErrNotFound)

		nbrs, err := s.Neighbors(ctx, models.NodeRef{Kind: models.KindIndicator, Key: "a.com"})
		require.NoError(t, err)
		got := map[string]models.NodeRef{}
		for _, n := range nbrs {
			got[n.Edge.Type] = n.Node
		}
		assert.Len(t, nbrs, 2)
		assert.Equal(t, models.NodeRef{Kind: models.KindDocument, Key: "d"}, got[models.RelMentionedIn])
		assert.Equal(t, models.NodeRef{Kind: models.KindIndicator, Key: "b.com"}, got[models.RelRelatedTo])

		docNbrs, err := s.Neighbors(ctx, models.NodeRef{Kind: models.KindDocument, Key: "d"})
		require.NoError(t, err)
		types := map[string]int{}
		for _, n := range docNbrs {
			types[n.Edge.Type]++
		}
		assert.Equal(t, map[string]int{
			models.RelMentionedIn:    2,
			models.RelPartOf:         1,
			models.RelPartOfCampaign: 1,
		}, types)
	})

	t.Run("TypedMentions", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d", nil))
		require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: "social:twitter", Value: "@bad", Confidence: 0.9}, "d", ""))
		require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: "domain", Value: "bad.com", Confidence: 0.9}, "d", ""))

		rows, err := s.TypedMentions(ctx, "social:")
		require.NoError(t, err)
		assert.Equal(t, []models.TypedMention{{IndicatorValue: "@bad", IndicatorType: "social:twitter", DocumentID: "d"}}, rows)

		byType, err := s.IndicatorsByType(ctx, "domain")
		require.NoError(t, err)
		require.Len(t, byType, 1)
		assert.Equal(t, "bad.com", byType[0].Value)
	})

	t.Run("VectorSearch", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.UpsertDocument(ctx, "d", nil))
		require.NoError(t, s.AddChunk(ctx, "d", &models.Chunk{ID: "d_0", Text: "x axis", Embedding: []float32{1, 0, 0}}))
		require.NoError(t, s.AddChunk(ctx, "d", &models.Chunk{ID: "d_1", Text: "y axis", Embedding: []float32{0, 1, 0}}))
		require.NoError(t, s.AddChunk(ctx, "d", &models.Chunk{ID: "d_2", Text: "bad dims", Embedding: []float32{1, 0}}))

		_, err := s.GetChunk(ctx, "d_2")
		require.NoError(t, err, "chunk with wrong embedding length is still stored")

		hits, err := s.VectorSearch(ctx, []float32{1, 0.1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "d_0", hits[0].Chunk.ID)
		assert.Equal(t, "d", hits[0].Chunk.DocumentID)
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
		for _, h := range hits {
			assert.GreaterOrEqual(t, h.Score, 0.0)
			assert.LessOrEqual(t, h.Score, 1.0)
		}

		hits, err = s.VectorSearch(ctx, []float32{1, 0, 0}, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)

		_, err = s.VectorSearch(ctx, []float32{1, 0, 0}, -1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = s.VectorSearch(ctx, []float32{1, 0}, 3)
		assert.ErrorIs(t, err, ErrInvalidArgument)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, st.Chunks)
		assert.EqualValues(t, 2, st.VectorChunks)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock Clock) Store {
		s, err := NewMemoryStore(testDims, WithClock(clock))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), BackendConfig{Backend: "cassandra", Dimensions: testDims})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), BackendConfig{Backend: BackendMemory, Dimensions: testDims})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, testDims, s.Dimensions())
}
