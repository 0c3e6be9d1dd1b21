package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/tejnc/threat-intel-pipeline/internal/cli"
	"github.com/tejnc/threat-intel-pipeline/internal/intent"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
	"github.com/tejnc/threat-intel-pipeline/internal/query"
)

var searchK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid vector and keyword search over chunks",
	Long: `Search chunk text. The query is all remaining arguments joined by spaces.

Examples:
  threatgraph search fake news portal
  threatgraph search -k 5 "telegram channel"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := joinArgs(args)
		if q == "" {
			return errors.New("query is required")
		}
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, s *session) (any, error) {
			return s.app.Search.Search(ctx, &models.SearchQuery{Query: q, K: searchK})
		})
	},
}

var (
	relationshipHops int
	networkHops      int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a graph query",
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <type>",
	Short: "List indicators of a type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, _ *session) (any, error) {
			return lib.IndicatorLookup(ctx, args[0])
		})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <indicator>",
	Short: "Show the documents and chunks that mention an indicator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, _ *session) (any, error) {
			return lib.ContextForIndicator(ctx, args[0])
		})
	},
}

var relationshipsCmd = &cobra.Command{
	Use:   "relationships <indicator>",
	Short: "List nodes within --hops of an indicator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, _ *session) (any, error) {
			return lib.Relationships(ctx, args[0], relationshipHops)
		})
	},
}

var networkCmd = &cobra.Command{
	Use:   "network <indicator>",
	Short: "Show the indicator network reachable within --hops",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, _ *session) (any, error) {
			return lib.Network(ctx, args[0], networkHops)
		})
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <indicator>",
	Short: "List mentions of an indicator in time order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, _ *session) (any, error) {
			return lib.Timeline(ctx, args[0])
		})
	},
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List social handle pairs that share documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, _ *session) (any, error) {
			return lib.ClustersByHandle(ctx)
		})
	},
}

var acrossCampaignsCmd = &cobra.Command{
	Use:   "across-campaigns",
	Short: "List indicators seen in more than one campaign",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, _ *session) (any, error) {
			return lib.AcrossCampaigns(ctx)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show node and edge counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, lib *query.Library, _ *session) (any, error) {
			return lib.Stats(ctx)
		})
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchK, "k", "k", 0, "number of results (0 uses search.default_k)")
	relationshipsCmd.Flags().IntVar(&relationshipHops, "hops", intent.DefaultRelationshipHops, "maximum path length")
	networkCmd.Flags().IntVar(&networkHops, "hops", intent.DefaultNetworkHops, "maximum path length")

	queryCmd.AddCommand(lookupCmd, contextCmd, relationshipsCmd, networkCmd,
		timelineCmd, clustersCmd, acrossCampaignsCmd, statsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(queryCmd)
}

type queryFunc func(ctx context.Context, lib *query.Library, s *session) (any, error)

// runQuery opens the graph, runs fn and writes its result in the selected format.
func runQuery(cmd *cobra.Command, fn queryFunc) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.close()
	res, err := fn(ctx, s.app.Query, s)
	if err != nil {
		return err
	}
	return cli.WriteQueryResult(cmd.OutOrStdout(), res, s.format)
}
