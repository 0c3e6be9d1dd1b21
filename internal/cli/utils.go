// Package cli renders command results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tejnc/threat-intel-pipeline/internal/indicator"
	"github.com/tejnc/threat-intel-pipeline/internal/ingest"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
	"github.com/tejnc/threat-intel-pipeline/internal/query"
	"github.com/tejnc/threat-intel-pipeline/internal/search"
	"github.com/tejnc/threat-intel-pipeline/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// snippetLen bounds chunk text shown in text output.
const snippetLen = 200

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results for %q in %dms\n\n", len(response.Results), response.Query, response.QueryTime)
	if response.Suggestion != "" {
		fmt.Fprintf(w, "Did you mean: %s\n\n", response.Suggestion)
	}
	for _, hit := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		marker := ""
		if hit.KeywordMatch {
			marker = " | keyword match"
		}
		fmt.Fprintf(w, "Rank: %d | Score: %.4f%s\n", hit.Rank, hit.Score, marker)
		fmt.Fprintf(w, "Chunk: %s", hit.ChunkID)
		if hit.DocumentID != "" {
			fmt.Fprintf(w, " (document %s)", hit.DocumentID)
		}
		fmt.Fprintf(w, "\n\n%s\n\n", search.Highlight(hit.Text, response.Query, snippetLen))
	}
	return nil
}

// WriteIndicators writes extraction results.
func WriteIndicators(w io.Writer, cands []models.IndicatorCandidate, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, cands)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tVALUE")
	for _, c := range cands {
		fmt.Fprintf(tw, "%s\t%s\n", c.Type, c.Value)
	}
	return tw.Flush()
}

// WriteIngestResults writes one line per ingested document.
func WriteIngestResults(w io.Writer, results []*ingest.Result, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, results)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tCAMPAIGN\tCHUNKS\tINDICATORS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", r.DocumentID, r.Campaign, r.Chunks, r.Indicators)
	}
	return tw.Flush()
}

// WriteQueryResult writes the result of a query library call. Unknown result
// types are written as JSON in both formats.
func WriteQueryResult(w io.Writer, v any, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, v)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch rows := v.(type) {
	case []query.IndicatorRef:
		fmt.Fprintln(tw, "VALUE\tTYPE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\n", r.Value, r.Type)
		}
	case []query.ContextRow:
		fmt.Fprintln(tw, "DOCUMENT\tCONFIDENCE\tTS\tCHUNK")
		for _, r := range rows {
			text := "-"
			if r.ChunkText != nil {
				text = utils.Truncate(strings.Join(strings.Fields(*r.ChunkText), " "), 80)
			}
			fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\n", r.DocumentID, r.Confidence, r.TS.Format("2006-01-02T15:04:05Z07:00"), text)
		}
	case []query.Related:
		fmt.Fprintln(tw, "VALUE\tLABELS")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\n", r.Value, strings.Join(r.Labels, ","))
		}
	case *query.Network:
		fmt.Fprintf(tw, "%d nodes, %d links", len(rows.Nodes), len(rows.Links))
		if rows.Truncated {
			fmt.Fprint(tw, " (truncated)")
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "SOURCE\tTYPE\tTARGET")
		for _, l := range rows.Links {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Source, l.Type, l.Target)
		}
	case []query.TimelineEntry:
		fmt.Fprintln(tw, "TS\tDOCUMENT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\n", r.TS.Format("2006-01-02T15:04:05Z07:00"), r.DocumentID)
		}
	case []query.Cluster:
		fmt.Fprintln(tw, "A\tB\tWEIGHT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", r.A, r.B, r.Weight)
		}
	case []query.CrossCampaign:
		fmt.Fprintln(tw, "INDICATOR\tCAMPAIGNS")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\n", r.Indicator, strings.Join(r.Campaigns, ", "))
		}
	case *models.Stats:
		fmt.Fprintf(tw, "documents\t%d\nchunks\t%d\nindexed chunks\t%d\nindicators\t%d\nmentions\t%d\ncampaigns\t%d\n",
			rows.Documents, rows.Chunks, rows.VectorChunks, rows.Indicators, rows.Mentions, rows.Campaigns)
	case *models.SearchResponse:
		return WriteSearchResults(w, rows, format)
	default:
		return WriteJSON(w, v)
	}
	return tw.Flush()
}

// SocialOnly filters candidates to social handles.
func SocialOnly(cands []models.IndicatorCandidate) []models.IndicatorCandidate {
	out := make([]models.IndicatorCandidate, 0, len(cands))
	for _, c := range cands {
		if indicator.IsSocial(c.Type) {
			out = append(out, c)
		}
	}
	return out
}
