package query

import (
	"context"
	"sort"
	"time"

	"github.com/tejnc/threat-intel-pipeline/internal/indicator"
	"github.com/tejnc/threat-intel-pipeline/internal/metrics"
)

// Cluster is a co-mention count between two social handles.
type Cluster struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Weight int    `json:"weight"`
}

// ClustersByHandle counts, for every ordered pair of distinct social indicators,
// the mention-edge combinations they share across documents. Both (a,b) and
// (b,a) are returned. Results are ordered by weight descending, then a, then b,
// and capped at the cluster limit.
func (l *Library) ClustersByHandle(ctx context.Context) ([]Cluster, error) {
	defer metrics.ObserveQuery("clusters_by_handle", time.Now())
	rows, err := l.store.TypedMentions(ctx, indicator.SocialPrefix)
	if err != nil {
		return nil, err
	}
	byDoc := make(map[string][]string)
	for _, r := range rows {
		byDoc[r.DocumentID] = append(byDoc[r.DocumentID], r.IndicatorValue)
	}
	weights := make(map[[2]string]int)
	for _, values := range byDoc {
		for _, a := range values {
			for _, b := range values {
				if a != b {
					weights[[2]string{a, b}]++
				}
			}
		}
	}
	out := make([]Cluster, 0, len(weights))
	for pair, w := range weights {
		out = append(out, Cluster{A: pair[0], B: pair[1], Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	if len(out) > l.clusterLimit {
		out = out[:l.clusterLimit]
	}
	return out, nil
}

// CrossCampaign is an indicator seen in documents of several campaigns.
type CrossCampaign struct {
	Indicator string   `json:"indicator"`
	Campaigns []string `json:"campaigns"`
}

// AcrossCampaigns returns indicators mentioned in documents of more than one
// distinct campaign, sorted by indicator, with campaign names sorted.
func (l *Library) AcrossCampaigns(ctx context.Context) ([]CrossCampaign, error) {
	defer metrics.ObserveQuery("across_campaigns", time.Now())
	rows, err := l.store.CampaignMentions(ctx)
	if err != nil {
		return nil, err
	}
	sets := make(map[string]map[string]struct{})
	for _, r := range rows {
		if sets[r.IndicatorValue] == nil {
			sets[r.IndicatorValue] = make(map[string]struct{})
		}
		sets[r.IndicatorValue][r.Campaign] = struct{}{}
	}
	out := make([]CrossCampaign, 0)
	for value, set := range sets {
		if len(set) < 2 {
			continue
		}
		camps := make([]string, 0, len(set))
		for c := range set {
			camps = append(camps, c)
		}
		sort.Strings(camps)
		out = append(out, CrossCampaign{Indicator: value, Campaigns: camps})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Indicator < out[j].Indicator })
	return out, nil
}
