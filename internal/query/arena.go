package query

import (
	"context"

	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// arc is an edge seen from one endpoint.
type arc struct {
	edge int
	to   int
}

// arena is a per-call, lazily loaded view of the graph. Nodes and edges are
// addressed by index; a node's arcs are fetched from the store the first time
// the node is expanded.
type arena struct {
	ctx       context.Context
	store     graph.Reader
	index     map[models.NodeRef]int
	nodes     []models.NodeRef
	arcs      [][]arc
	loaded    []bool
	edges     []models.Edge
	edgeIndex map[string]int
}

func newArena(ctx context.Context, store graph.Reader) *arena {
	return &arena{
		ctx:       ctx,
		store:     store,
		index:     make(map[models.NodeRef]int),
		edgeIndex: make(map[string]int),
	}
}

func (a *arena) node(ref models.NodeRef) int {
	if n, ok := a.index[ref]; ok {
		return n
	}
	n := len(a.nodes)
	a.nodes = append(a.nodes, ref)
	a.arcs = append(a.arcs, nil)
	a.loaded = append(a.loaded, false)
	a.index[ref] = n
	return n
}

func (a *arena) edge(e models.Edge) int {
	if i, ok := a.edgeIndex[e.ID]; ok {
		return i
	}
	i := len(a.edges)
	a.edges = append(a.edges, e)
	a.edgeIndex[e.ID] = i
	return i
}

// expand returns the arcs of node n, loading them on first use.
func (a *arena) expand(n int) ([]arc, error) {
	if a.loaded[n] {
		return a.arcs[n], nil
	}
	if err := a.ctx.Err(); err != nil {
		return nil, err
	}
	nbrs, err := a.store.Neighbors(a.ctx, a.nodes[n])
	if err != nil {
		return nil, err
	}
	out := make([]arc, 0, len(nbrs))
	for _, nb := range nbrs {
		out = append(out, arc{edge: a.edge(nb.Edge), to: a.node(nb.Node)})
	}
	a.arcs[n] = out
	a.loaded[n] = true
	return out, nil
}
