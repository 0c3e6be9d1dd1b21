package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Minute)
	return c.now
}

var backends = []string{graph.BackendMemory, graph.BackendSQLite}

// forEachBackend runs fn as a subtest against every embedded store backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) { fn(t, backend) })
	}
}

func newStore(t *testing.T, backend string) graph.Store {
	t.Helper()
	clock := &stepClock{now: time.UnixMilli(1_700_000_000_000)}
	var (
		s   graph.Store
		err error
	)
	switch backend {
	case graph.BackendSQLite:
		s, err = graph.NewSQLiteStore(":memory:", 4, graph.WithClock(clock.Now))
	default:
		s, err = graph.NewMemoryStore(4, graph.WithClock(clock.Now))
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func mention(t *testing.T, s graph.Store, doc, typ, value, chunk string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx, doc, nil))
	require.NoError(t, s.AddIndicator(ctx, models.IndicatorCandidate{Type: typ, Value: value, Confidence: 0.9}, doc, chunk))
}

func TestIndicatorLookup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := newStore(t, backend)
		mention(t, s, "d1", "domain", "a.com", "")
		mention(t, s, "d1", "email", "x@a.com", "")
		mention(t, s, "d2", "domain", "b.com", "")

		rows, err := New(s).IndicatorLookup(context.Background(), "domain")
		require.NoError(t, err)
		assert.ElementsMatch(t, []IndicatorRef{{"a.com", "domain"}, {"b.com", "domain"}}, rows)

		rows, err = New(s).IndicatorLookup(context.Background(), "phone")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestContextForIndicator(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := newStore(t, backend)
		ctx := context.Background()
		require.NoError(t, s.UpsertDocument(ctx, "d1", nil))
		require.NoError(t, s.AddChunk(ctx, "d1", &models.Chunk{ID: "d1_0", Text: "seen at evil.com"}))
		mention(t, s, "d1", "domain", "evil.com", "d1_0")
		mention(t, s, "d2", "domain", "evil.com", "")
		mention(t, s, "d3", "domain", "evil.com", "gone_0")

		rows, err := New(s).ContextForIndicator(ctx, "evil.com")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		byDoc := map[string]ContextRow{}
		for _, r := range rows {
			byDoc[r.DocumentID] = r
		}
		require.NotNil(t, byDoc["d1"].ChunkText)
		assert.Equal(t, "seen at evil.com", *byDoc["d1"].ChunkText)
		assert.Nil(t, byDoc["d2"].ChunkText)
		assert.Nil(t, byDoc["d3"].ChunkText)
		assert.InDelta(t, 0.9, byDoc["d1"].Confidence, 1e-9)
	})
}

func TestTimeline_AscendingTS(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := newStore(t, backend)
		mention(t, s, "d3", "domain", "t.com", "")
		mention(t, s, "d1", "domain", "t.com", "")
		mention(t, s, "d2", "domain", "t.com", "")

		entries, err := New(s).Timeline(context.Background(), "t.com")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, []string{"d3", "d1", "d2"}, []string{entries[0].DocumentID, entries[1].DocumentID, entries[2].DocumentID})
		for i := 1; i < len(entries); i++ {
			assert.True(t, entries[i-1].TS.Before(entries[i].TS))
		}

		entries, err = New(s).Timeline(context.Background(), "missing")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestClustersByHandle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := newStore(t, backend)
		mention(t, s, "d1", "social:twitter", "socialA", "")
		mention(t, s, "d1", "social:telegram", "socialB", "")
		mention(t, s, "d2", "social:twitter", "socialA", "")
		mention(t, s, "d2", "social:vk", "socialC", "")
		mention(t, s, "d2", "domain", "notsocial.com", "")

		clusters, err := New(s).ClustersByHandle(context.Background())
		require.NoError(t, err)

		weights := map[[2]string]int{}
		for _, c := range clusters {
			weights[[2]string{c.A, c.B}] = c.Weight
			assert.NotEqual(t, c.A, c.B)
		}
		assert.GreaterOrEqual(t, weights[[2]string{"socialA", "socialB"}], 1)
		assert.GreaterOrEqual(t, weights[[2]string{"socialA", "socialC"}], 1)
		assert.Equal(t, 1, weights[[2]string{"socialB", "socialA"}], "both directions are reported")
		assert.NotContains(t, weights, [2]string{"socialB", "socialC"})
		assert.NotContains(t, weights, [2]string{"socialC", "socialB"})
		assert.Len(t, clusters, 4)
	})
}

func TestClustersByHandle_OrderAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := newStore(t, backend)
		for _, doc := range []string{"d1", "d2", "d3"} {
			mention(t, s, doc, "social:twitter", "hot1", "")
			mention(t, s, doc, "social:twitter", "hot2", "")
		}
		mention(t, s, "d4", "social:vk", "cold1", "")
		mention(t, s, "d4", "social:vk", "cold2", "")

		clusters, err := New(s, WithClusterLimit(3)).ClustersByHandle(context.Background())
		require.NoError(t, err)
		require.Len(t, clusters, 3)
		assert.Equal(t, Cluster{A: "hot1", B: "hot2", Weight: 3}, clusters[0])
		assert.Equal(t, Cluster{A: "hot2", B: "hot1", Weight: 3}, clusters[1])
		assert.Equal(t, Cluster{A: "cold1", B: "cold2", Weight: 1}, clusters[2])
	})
}

func TestAcrossCampaigns(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := newStore(t, backend)
		ctx := context.Background()
		mention(t, s, "d1", "domain", "X", "")
		mention(t, s, "d2", "domain", "X", "")
		mention(t, s, "d1", "domain", "only-storm", "")
		mention(t, s, "d3", "domain", "only-storm", "")
		mention(t, s, "d4", "domain", "no-campaign", "")
		require.NoError(t, s.AssignCampaign(ctx, "d1", "Storm-1516"))
		require.NoError(t, s.AssignCampaign(ctx, "d2", "Doppelganger"))
		require.NoError(t, s.AssignCampaign(ctx, "d3", "Storm-1516"))

		rows, err := New(s).AcrossCampaigns(ctx)
		require.NoError(t, err)
		assert.Equal(t, []CrossCampaign{{Indicator: "X", Campaigns: []string{"Doppelganger", "Storm-1516"}}}, rows)
	})
}

func TestQueriesDoNotMutate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := newStore(t, backend)
		ctx := context.Background()
		mention(t, s, "d1", "social:twitter", "a", "")
		mention(t, s, "d1", "social:twitter", "b", "")
		before, err := s.Stats(ctx)
		require.NoError(t, err)

		lib := New(s)
		_, _ = lib.Relationships(ctx, "a", 3)
		_, _ = lib.Network(ctx, "a", 3)
		_, _ = lib.ClustersByHandle(ctx)
		_, _ = lib.AcrossCampaigns(ctx)
		_, _ = lib.Timeline(ctx, "a")
		_, _ = lib.ContextForIndicator(ctx, "a")
		_, _ = lib.IndicatorLookup(ctx, "social:twitter")

		after, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestNew_Options(t *testing.T) {
	lib := New(newStore(t, graph.BackendMemory), WithMaxHops(3), WithNetworkPathLimit(-1), WithLogger(nil))
	assert.Equal(t, 3, lib.MaxHops())
	assert.Equal(t, DefaultNetworkPathLimit, lib.pathLimit)
	assert.NotNil(t, lib.logger)
}
