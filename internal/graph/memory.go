package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tejnc/threat-intel-pipeline/internal/models"
	"github.com/tejnc/threat-intel-pipeline/internal/vector"
)

// MemoryStore keeps the graph in an arena of nodes with index-based edge lists.
// A single RWMutex makes every write atomic per call.
type MemoryStore struct {
	mu         sync.RWMutex
	opts       Options
	nodes      []memNode
	index      map[models.NodeRef]int
	edges      []memEdge
	adj        [][]int
	mentions   map[mentionKey]int
	relations  map[[2]int]int
	partOf     map[int]int
	campaignOf map[int]int
	vectors    *vector.MemoryIndex
}

type memNode struct {
	ref   models.NodeRef
	doc   *models.Document
	chunk *models.Chunk
	ind   *models.Indicator
}

type memEdge struct {
	id      string
	typ     string
	from    int
	to      int
	mention *models.Mention
}

type mentionKey struct {
	indicator  int
	document   int
	confidence float64
}

// NewMemoryStore creates an empty in-process store with a vector index of the given dimension.
func NewMemoryStore(dimensions int, opts ...Option) (*MemoryStore, error) {
	o := buildOptions(dimensions, opts)
	idx, err := vector.NewMemoryIndex(o.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return &MemoryStore{
		opts:       o,
		index:      make(map[models.NodeRef]int),
		mentions:   make(map[mentionKey]int),
		relations:  make(map[[2]int]int),
		partOf:     make(map[int]int),
		campaignOf: make(map[int]int),
		vectors:    idx,
	}, nil
}

// InitSchema is a no-op: uniqueness is structural and the vector index exists from construction.
func (s *MemoryStore) InitSchema(ctx context.Context) error {
	return nil
}

// Dimensions returns the vector index dimension.
func (s *MemoryStore) Dimensions() int {
	return s.opts.Dimensions
}

func (s *MemoryStore) lookup(kind models.NodeKind, key string) (int, bool) {
	n, ok := s.index[models.NodeRef{Kind: kind, Key: key}]
	return n, ok
}

func (s *MemoryStore) ensure(kind models.NodeKind, key string) int {
	ref := models.NodeRef{Kind: kind, Key: key}
	if n, ok := s.index[ref]; ok {
		return n
	}
	n := len(s.nodes)
	s.nodes = append(s.nodes, memNode{ref: ref})
	s.adj = append(s.adj, nil)
	s.index[ref] = n
	return n
}

func (s *MemoryStore) link(typ string, from, to int) int {
	e := len(s.edges)
	s.edges = append(s.edges, memEdge{id: fmt.Sprintf("e%d", e), typ: typ, from: from, to: to})
	s.adj[from] = append(s.adj[from], e)
	if to != from {
		s.adj[to] = append(s.adj[to], e)
	}
	return e
}

func (s *MemoryStore) unlinkFrom(node, edge int) {
	list := s.adj[node]
	for i, e := range list {
		if e == edge {
			s.adj[node] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// UpsertDocument merges by id. A nil value in props removes that property.
func (s *MemoryStore) UpsertDocument(ctx context.Context, id string, props map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: document id is empty", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.ensure(models.KindDocument, id)
	node := &s.nodes[n]
	if node.doc == nil {
		node.doc = &models.Document{ID: id, Props: make(map[string]any)}
	}
	for k, v := range props {
		if v == nil {
			delete(node.doc.Props, k)
			continue
		}
		node.doc.Props[k] = v
	}
	return nil
}

// AddChunk merges a chunk and its PART_OF edge.
func (s *MemoryStore) AddChunk(ctx context.Context, docID string, chunk *models.Chunk) error {
	if chunk == nil || chunk.ID == "" {
		return fmt.Errorf("%w: chunk id is empty", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lookup(models.KindDocument, docID)
	if !ok {
		return fmt.Errorf("document %q: %w", docID, ErrNotFound)
	}
	if c, ok := s.lookup(models.KindChunk, chunk.ID); ok {
		if e, linked := s.partOf[c]; linked && s.edges[e].to != d {
			return fmt.Errorf("%w: chunk %q already belongs to document %q",
				ErrInvalidArgument, chunk.ID, s.nodes[s.edges[e].to].ref.Key)
		}
	}
	c := s.ensure(models.KindChunk, chunk.ID)
	node := &s.nodes[c]
	if node.chunk == nil {
		node.chunk = &models.Chunk{ID: chunk.ID, Metadata: make(map[string]any)}
	}
	node.chunk.DocumentID = docID
	node.chunk.Text = chunk.Text
	for k, v := range chunk.Metadata {
		node.chunk.Metadata[k] = v
	}
	if chunk.Embedding != nil {
		node.chunk.Embedding = append([]float32(nil), chunk.Embedding...)
		if err := s.indexEmbedding(ctx, chunk.ID, chunk.Embedding); err != nil {
			return err
		}
	}
	if _, linked := s.partOf[c]; !linked {
		s.partOf[c] = s.link(models.RelPartOf, c, d)
	}
	return nil
}

// indexEmbedding adds the vector when its length matches the index; otherwise the
// chunk is dropped from the index so it is excluded from vector search.
func (s *MemoryStore) indexEmbedding(ctx context.Context, id string, emb []float32) error {
	if len(emb) != s.opts.Dimensions {
		return s.vectors.Remove(ctx, []string{id})
	}
	return s.vectors.Upsert(ctx, []string{id}, [][]float32{emb})
}

// AddIndicator merges the indicator and its mention edge.
func (s *MemoryStore) AddIndicator(ctx context.Context, cand models.IndicatorCandidate, docID, contextChunkID string) error {
	if cand.Value == "" {
		return fmt.Errorf("%w: indicator value is empty", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lookup(models.KindDocument, docID)
	if !ok {
		return fmt.Errorf("document %q: %w", docID, ErrNotFound)
	}
	now := s.opts.Clock()
	first, last := candidateTimes(cand, now)

	i := s.ensure(models.KindIndicator, cand.Value)
	node := &s.nodes[i]
	if node.ind == nil {
		node.ind = &models.Indicator{Value: cand.Value}
	}
	node.ind.Type = cand.Type
	if node.ind.FirstSeen.IsZero() {
		node.ind.FirstSeen = first
	}
	node.ind.LastSeen = last

	conf := confidenceOf(cand)
	key := mentionKey{indicator: i, document: d, confidence: conf}
	e, ok := s.mentions[key]
	if !ok {
		e = s.link(models.RelMentionedIn, i, d)
		s.edges[e].mention = &models.Mention{IndicatorValue: cand.Value, DocumentID: docID, Confidence: conf}
		s.mentions[key] = e
	}
	m := s.edges[e].mention
	m.ContextChunkID = contextChunkID
	m.TS = now
	return nil
}

// AssignCampaign sets the document's PART_OF_CAMPAIGN edge, replacing any previous one.
func (s *MemoryStore) AssignCampaign(ctx context.Context, docID, campaign string) error {
	if campaign == "" {
		return fmt.Errorf("%w: campaign name is empty", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lookup(models.KindDocument, docID)
	if !ok {
		return fmt.Errorf("document %q: %w", docID, ErrNotFound)
	}
	c := s.ensure(models.KindCampaign, campaign)
	if e, linked := s.campaignOf[d]; linked {
		old := s.edges[e].to
		if old == c {
			return nil
		}
		s.unlinkFrom(old, e)
		s.edges[e].to = c
		s.adj[c] = append(s.adj[c], e)
		return nil
	}
	s.campaignOf[d] = s.link(models.RelPartOfCampaign, d, c)
	return nil
}

// Relate merges a RELATED_TO edge from one indicator to another.
func (s *MemoryStore) Relate(ctx context.Context, from, to string) error {
	if from == to {
		return fmt.Errorf("%w: cannot relate indicator %q to itself", ErrInvalidArgument, from)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.lookup(models.KindIndicator, from)
	if !ok {
		return fmt.Errorf("indicator %q: %w", from, ErrNotFound)
	}
	b, ok := s.lookup(models.KindIndicator, to)
	if !ok {
		return fmt.Errorf("indicator %q: %w", to, ErrNotFound)
	}
	key := [2]int{a, b}
	if _, ok := s.relations[key]; !ok {
		s.relations[key] = s.link(models.RelRelatedTo, a, b)
	}
	return nil
}

// GetDocument returns a copy of the document.
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.lookup(models.KindDocument, id)
	if !ok {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	doc := &models.Document{ID: id, Props: make(map[string]any, len(s.nodes[d].doc.Props))}
	for k, v := range s.nodes[d].doc.Props {
		doc.Props[k] = v
	}
	if e, ok := s.campaignOf[d]; ok {
		doc.Campaign = s.nodes[s.edges[e].to].ref.Key
	}
	return doc, nil
}

// GetChunk returns a copy of the chunk.
func (s *MemoryStore) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.lookup(models.KindChunk, id)
	if !ok {
		return nil, fmt.Errorf("chunk %q: %w", id, ErrNotFound)
	}
	return copyChunk(s.nodes[c].chunk), nil
}

func copyChunk(c *models.Chunk) *models.Chunk {
	out := *c
	out.Embedding = append([]float32(nil), c.Embedding...)
	out.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// GetIndicator returns a copy of the indicator.
func (s *MemoryStore) GetIndicator(ctx context.Context, value string) (*models.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.lookup(models.KindIndicator, value)
	if !ok {
		return nil, fmt.Errorf("indicator %q: %w", value, ErrNotFound)
	}
	ind := *s.nodes[i].ind
	return &ind, nil
}

// IndicatorsByType returns all indicators of typ in insertion order.
func (s *MemoryStore) IndicatorsByType(ctx context.Context, typ string) ([]*models.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Indicator, 0)
	for _, n := range s.nodes {
		if n.ind != nil && n.ind.Type == typ {
			ind := *n.ind
			out = append(out, &ind)
		}
	}
	return out, nil
}

// Mentions returns the indicator's mention edges.
func (s *MemoryStore) Mentions(ctx context.Context, value string) ([]*models.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Mention, 0)
	i, ok := s.lookup(models.KindIndicator, value)
	if !ok {
		return out, nil
	}
	for _, e := range s.adj[i] {
		edge := s.edges[e]
		if edge.typ == models.RelMentionedIn && edge.from == i {
			m := *edge.mention
			out = append(out, &m)
		}
	}
	return out, nil
}

// Neighbors returns every edge incident to ref.
func (s *MemoryStore) Neighbors(ctx context.Context, ref models.NodeRef) ([]models.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.index[ref]
	if !ok {
		return nil, nil
	}
	out := make([]models.Neighbor, 0, len(s.adj[n]))
	for _, e := range s.adj[n] {
		edge := s.edges[e]
		other := edge.to
		if other == n {
			other = edge.from
		}
		out = append(out, models.Neighbor{
			Edge: models.Edge{
				ID:     edge.id,
				Type:   edge.typ,
				Source: s.nodes[edge.from].ref,
				Target: s.nodes[edge.to].ref,
			},
			Node: s.nodes[other].ref,
		})
	}
	return out, nil
}

// TypedMentions returns mention rows for indicators whose type starts with typePrefix.
func (s *MemoryStore) TypedMentions(ctx context.Context, typePrefix string) ([]models.TypedMention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TypedMention, 0)
	for _, edge := range s.edges {
		if edge.typ != models.RelMentionedIn {
			continue
		}
		ind := s.nodes[edge.from].ind
		if !strings.HasPrefix(ind.Type, typePrefix) {
			continue
		}
		out = append(out, models.TypedMention{
			IndicatorValue: ind.Value,
			IndicatorType:  ind.Type,
			DocumentID:     s.nodes[edge.to].ref.Key,
		})
	}
	return out, nil
}

// CampaignMentions joins mention edges with document campaigns.
func (s *MemoryStore) CampaignMentions(ctx context.Context) ([]models.CampaignMention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[models.CampaignMention]bool)
	out := make([]models.CampaignMention, 0)
	for _, edge := range s.edges {
		if edge.typ != models.RelMentionedIn {
			continue
		}
		ce, ok := s.campaignOf[edge.to]
		if !ok {
			continue
		}
		row := models.CampaignMention{
			IndicatorValue: s.nodes[edge.from].ref.Key,
			Campaign:       s.nodes[s.edges[ce].to].ref.Key,
		}
		if !seen[row] {
			seen[row] = true
			out = append(out, row)
		}
	}
	return out, nil
}

// VectorSearch queries the chunk vector index.
func (s *MemoryStore) VectorSearch(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	return searchIndex(ctx, s.vectors, query, k, func(id string) (*models.Chunk, error) {
		return s.GetChunk(ctx, id)
	})
}

// Stats counts entities.
func (s *MemoryStore) Stats(ctx context.Context) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &models.Stats{Mentions: int64(len(s.mentions)), VectorChunks: int64(s.vectors.Size())}
	for _, n := range s.nodes {
		switch n.ref.Kind {
		case models.KindDocument:
			st.Documents++
		case models.KindChunk:
			st.Chunks++
		case models.KindIndicator:
			st.Indicators++
		case models.KindCampaign:
			st.Campaigns++
		}
	}
	return st, nil
}

// Close releases the vector index.
func (s *MemoryStore) Close() error {
	return s.vectors.Close()
}

// searchIndex runs a vector query and resolves hits to chunks. Hits whose chunk
// cannot be loaded are skipped.
func searchIndex(ctx context.Context, idx vector.VectorIndex, query []float32, k int, load func(string) (*models.Chunk, error)) ([]models.ScoredChunk, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k must not be negative, got %d", ErrInvalidArgument, k)
	}
	if len(query) != idx.Dimensions() {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, index has %d",
			ErrInvalidArgument, len(query), idx.Dimensions())
	}
	out := make([]models.ScoredChunk, 0)
	if k == 0 {
		return out, nil
	}
	hits, err := idx.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		c, err := load(h.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.ScoredChunk{Chunk: c, Score: h.Score})
	}
	return out, nil
}
