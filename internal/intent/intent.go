// Package intent defines one tagged variant per graph operation and a
// table-driven dispatcher that routes a variant to its handler.
package intent

import (
	"encoding/json"
	"fmt"

	"github.com/tejnc/threat-intel-pipeline/internal/graph"
)

// Kind tags an Intent variant.
type Kind string

const (
	KindSearch          Kind = "search"
	KindIndicatorLookup Kind = "indicator_lookup"
	KindContext         Kind = "context"
	KindRelationships   Kind = "relationships"
	KindNetwork         Kind = "network"
	KindTimeline        Kind = "timeline"
	KindClusters        Kind = "clusters"
	KindAcrossCampaigns Kind = "across_campaigns"
)

// Hops used when an intent leaves them unset.
const (
	DefaultRelationshipHops = 1
	DefaultNetworkHops      = 2
)

// Intent is a request for one operation. Classifying free text into an
// Intent happens elsewhere.
type Intent interface {
	Kind() Kind
}

// Search runs a hybrid chunk search. Zero K uses the engine default.
type Search struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// IndicatorLookup lists indicators of one type.
type IndicatorLookup struct {
	Type string `json:"type"`
}

// Context lists the documents and chunks that mention an indicator.
type Context struct {
	Value string `json:"value"`
}

// Relationships lists nodes within Hops of an indicator. Zero Hops means DefaultRelationshipHops.
type Relationships struct {
	Value string `json:"value"`
	Hops  int    `json:"hops,omitempty"`
}

// Network returns the indicator network within Hops. Zero Hops means DefaultNetworkHops.
type Network struct {
	Value string `json:"value"`
	Hops  int    `json:"hops,omitempty"`
}

// Timeline lists mentions of an indicator in time order.
type Timeline struct {
	Value string `json:"value"`
}

// Clusters lists social handle pairs that share documents.
type Clusters struct{}

// AcrossCampaigns lists indicators seen in more than one campaign.
type AcrossCampaigns struct{}

func (Search) Kind() Kind          { return KindSearch }
func (IndicatorLookup) Kind() Kind { return KindIndicatorLookup }
func (Context) Kind() Kind         { return KindContext }
func (Relationships) Kind() Kind   { return KindRelationships }
func (Network) Kind() Kind         { return KindNetwork }
func (Timeline) Kind() Kind        { return KindTimeline }
func (Clusters) Kind() Kind        { return KindClusters }
func (AcrossCampaigns) Kind() Kind { return KindAcrossCampaigns }

// decoders builds an empty variant for each kind.
var decoders = map[Kind]func() Intent{
	KindSearch:          func() Intent { return &Search{} },
	KindIndicatorLookup: func() Intent { return &IndicatorLookup{} },
	KindContext:         func() Intent { return &Context{} },
	KindRelationships:   func() Intent { return &Relationships{} },
	KindNetwork:         func() Intent { return &Network{} },
	KindTimeline:        func() Intent { return &Timeline{} },
	KindClusters:        func() Intent { return &Clusters{} },
	KindAcrossCampaigns: func() Intent { return &AcrossCampaigns{} },
}

type envelope struct {
	Kind Kind `json:"kind"`
}

// Decode parses a JSON envelope of the form {"kind": "...", ...fields}.
// The returned Intent is a value, not a pointer.
func Decode(data []byte) (Intent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid intent: %v", graph.ErrInvalidArgument, err)
	}
	newIntent, ok := decoders[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown intent kind %q", graph.ErrInvalidArgument, env.Kind)
	}
	in := newIntent()
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("%w: invalid %s intent: %v", graph.ErrInvalidArgument, env.Kind, err)
	}
	return deref(in), nil
}

func deref(in Intent) Intent {
	switch v := in.(type) {
	case *Search:
		return *v
	case *IndicatorLookup:
		return *v
	case *Context:
		return *v
	case *Relationships:
		return *v
	case *Network:
		return *v
	case *Timeline:
		return *v
	case *Clusters:
		return *v
	case *AcrossCampaigns:
		return *v
	}
	return in
}

// Encode renders an Intent as a JSON envelope.
func Encode(in Intent) ([]byte, error) {
	fields, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(in.Kind())
	if err != nil {
		return nil, err
	}
	m["kind"] = kind
	return json.Marshal(m)
}
