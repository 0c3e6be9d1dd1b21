package query

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/metrics"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// Related is an indicator reachable from a seed.
type Related struct {
	Value  string   `json:"value"`
	Labels []string `json:"labels"`
}

// Relationships returns the distinct indicators reachable from the seed in
// 1..hops undirected steps over any edge type, sorted by value. The seed is
// never returned. A missing seed yields an empty result.
func (l *Library) Relationships(ctx context.Context, value string, hops int) ([]Related, error) {
	defer metrics.ObserveQuery("relationships", time.Now())
	if err := l.checkHops(hops); err != nil {
		return nil, err
	}
	out := make([]Related, 0)
	ok, err := l.seedExists(ctx, value)
	if err != nil || !ok {
		return out, err
	}

	a := newArena(ctx, l.store)
	seed := a.node(models.NodeRef{Kind: models.KindIndicator, Key: value})
	visited := map[int]bool{seed: true}
	frontier := []int{seed}
	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []int
		for _, n := range frontier {
			arcs, err := a.expand(n)
			if err != nil {
				return nil, err
			}
			for _, ar := range arcs {
				if visited[ar.to] {
					continue
				}
				visited[ar.to] = true
				next = append(next, ar.to)
				if ref := a.nodes[ar.to]; ref.Kind == models.KindIndicator {
					out = append(out, Related{Value: ref.Key, Labels: []string{string(ref.Kind)}})
				}
			}
		}
		frontier = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

// TwoHop is Relationships with hops fixed at 2.
func (l *Library) TwoHop(ctx context.Context, value string) ([]Related, error) {
	return l.Relationships(ctx, value, 2)
}

// NetworkNode is a node on a materialized path.
type NetworkNode struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Label string `json:"label"`
}

// NetworkLink is an edge on a materialized path, oriented as stored.
type NetworkLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Network is the node and link set of the paths around a seed.
type Network struct {
	Nodes     []NetworkNode `json:"nodes"`
	Links     []NetworkLink `json:"links"`
	Truncated bool          `json:"truncated"`
}

// trail is a partial path that never reuses an edge.
type trail struct {
	nodes []int
	edges []int
}

func (t trail) usesEdge(e int) bool {
	for _, x := range t.edges {
		if x == e {
			return true
		}
	}
	return false
}

func (t trail) extend(ar arc) trail {
	nodes := make([]int, len(t.nodes), len(t.nodes)+1)
	copy(nodes, t.nodes)
	edges := make([]int, len(t.edges), len(t.edges)+1)
	copy(edges, t.edges)
	return trail{nodes: append(nodes, ar.to), edges: append(edges, ar.edge)}
}

// Network materializes the paths of length 1..hops that start at the seed,
// never repeat an edge and end at another indicator. At most the configured
// path limit is collected, expanding shorter paths first; hitting the limit
// sets Truncated. Nodes and links are deduplicated by identity.
func (l *Library) Network(ctx context.Context, value string, hops int) (*Network, error) {
	defer metrics.ObserveQuery("network", time.Now())
	if err := l.checkHops(hops); err != nil {
		return nil, err
	}
	out := &Network{Nodes: make([]NetworkNode, 0), Links: make([]NetworkLink, 0)}
	ok, err := l.seedExists(ctx, value)
	if err != nil || !ok {
		return out, err
	}

	a := newArena(ctx, l.store)
	seed := a.node(models.NodeRef{Kind: models.KindIndicator, Key: value})
	seenNode := make(map[int]bool)
	seenEdge := make(map[int]bool)
	emit := func(t trail) {
		for _, n := range t.nodes {
			if seenNode[n] {
				continue
			}
			seenNode[n] = true
			ref := a.nodes[n]
			out.Nodes = append(out.Nodes, NetworkNode{ID: ref.ID(), Value: ref.Value(), Label: string(ref.Kind)})
		}
		for _, e := range t.edges {
			if seenEdge[e] {
				continue
			}
			seenEdge[e] = true
			edge := a.edges[e]
			out.Links = append(out.Links, NetworkLink{Source: edge.Source.ID(), Target: edge.Target.ID(), Type: edge.Type})
		}
	}

	maxFrontier := l.pathLimit * frontierFactor
	paths := 0
	full := false
	frontier := []trail{{nodes: []int{seed}}}
	for depth := 0; depth < hops && len(frontier) > 0 && !full; depth++ {
		var next []trail
	level:
		for _, t := range frontier {
			arcs, err := a.expand(t.nodes[len(t.nodes)-1])
			if err != nil {
				return nil, err
			}
			for _, ar := range arcs {
				if t.usesEdge(ar.edge) {
					continue
				}
				ext := t.extend(ar)
				if ar.to != seed && a.nodes[ar.to].Kind == models.KindIndicator {
					emit(ext)
					paths++
					if paths >= l.pathLimit {
						full = true
						out.Truncated = true
						break level
					}
				}
				if depth+1 < hops {
					if len(next) >= maxFrontier {
						out.Truncated = true
						continue
					}
					next = append(next, ext)
				}
			}
		}
		frontier = next
	}
	if out.Truncated {
		l.logger.Debug("network truncated", zap.String("value", value), zap.Int("hops", hops), zap.Int("paths", paths))
	}
	return out, nil
}
