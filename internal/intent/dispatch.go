package intent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
	"github.com/tejnc/threat-intel-pipeline/internal/query"
)

// Searcher runs a hybrid search for free text.
type Searcher interface {
	Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
}

type handler func(ctx context.Context, in Intent) (any, error)

// Dispatcher routes intents to the search engine and query library.
type Dispatcher struct {
	handlers map[Kind]handler
	logger   *zap.Logger
}

// NewDispatcher wires one handler per Kind.
func NewDispatcher(searcher Searcher, lib *query.Library, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{logger: logger}
	d.handlers = map[Kind]handler{
		KindSearch: func(ctx context.Context, in Intent) (any, error) {
			s := in.(Search)
			return searcher.Search(ctx, &models.SearchQuery{Query: s.Query, K: s.K})
		},
		KindIndicatorLookup: func(ctx context.Context, in Intent) (any, error) {
			return lib.IndicatorLookup(ctx, in.(IndicatorLookup).Type)
		},
		KindContext: func(ctx context.Context, in Intent) (any, error) {
			return lib.ContextForIndicator(ctx, in.(Context).Value)
		},
		KindRelationships: func(ctx context.Context, in Intent) (any, error) {
			r := in.(Relationships)
			return lib.Relationships(ctx, r.Value, orDefault(r.Hops, DefaultRelationshipHops))
		},
		KindNetwork: func(ctx context.Context, in Intent) (any, error) {
			n := in.(Network)
			return lib.Network(ctx, n.Value, orDefault(n.Hops, DefaultNetworkHops))
		},
		KindTimeline: func(ctx context.Context, in Intent) (any, error) {
			return lib.Timeline(ctx, in.(Timeline).Value)
		},
		KindClusters: func(ctx context.Context, _ Intent) (any, error) {
			return lib.ClustersByHandle(ctx)
		},
		KindAcrossCampaigns: func(ctx context.Context, _ Intent) (any, error) {
			return lib.AcrossCampaigns(ctx)
		},
	}
	return d
}

func orDefault(hops, def int) int {
	if hops == 0 {
		return def
	}
	return hops
}

// Dispatch runs the operation for in. Pointer variants are accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, in Intent) (any, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil intent", graph.ErrInvalidArgument)
	}
	in = deref(in)
	h, ok := d.handlers[in.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: unknown intent kind %q", graph.ErrInvalidArgument, in.Kind())
	}
	start := time.Now()
	out, err := h(ctx, in)
	if err != nil {
		d.logger.Warn("intent failed", zap.String("kind", string(in.Kind())), zap.Error(err))
		return nil, err
	}
	d.logger.Debug("intent dispatched",
		zap.String("kind", string(in.Kind())),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

// Kinds lists the kinds the dispatcher handles.
func (d *Dispatcher) Kinds() []Kind {
	out := make([]Kind, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, k)
	}
	return out
}
