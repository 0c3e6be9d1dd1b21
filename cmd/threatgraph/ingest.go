package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/cli"
	"github.com/tejnc/threat-intel-pipeline/internal/extract"
	"github.com/tejnc/threat-intel-pipeline/internal/indicator"
	"github.com/tejnc/threat-intel-pipeline/internal/ingest"
	"github.com/tejnc/threat-intel-pipeline/internal/watcher"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Ingest report files or directories into the graph",
	Long: `Ingest report files into the graph. Directories are walked recursively and
only files with a configured extension are read. The campaign of each report
is inferred from its file name.

Examples:
  threatgraph ingest ./reports
  threatgraph ingest storm-1516_brief.pdf doppelganger_notes.txt
  threatgraph ingest --watch ./dropbox`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var (
	extractSocial bool
	ingestWatch   bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Print the indicators found in a file or stdin",
	Long: `Print the indicators found in a file or stdin without touching the graph.

Examples:
  threatgraph extract report.pdf
  cat notes.txt | threatgraph extract -
  threatgraph extract --social report.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "after the initial pass, keep ingesting files that appear in the given directories")
	extractCmd.Flags().BoolVar(&extractSocial, "social", false, "only print social handles")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(extractCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()
	var results []*ingest.Result
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		res, err := s.app.Pipeline.IngestDir(ctx, arg)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", arg, err)
		}
		results = append(results, res...)
	}
	if len(files) > 0 {
		res, err := s.app.Pipeline.IngestFiles(ctx, files)
		if err != nil {
			return err
		}
		results = append(results, res...)
	}
	s.logger.Info("ingest finished",
		zap.String("run", s.app.Pipeline.RunID()),
		zap.Int("documents", len(results)))
	if err := cli.WriteIngestResults(cmd.OutOrStdout(), results, s.format); err != nil {
		return err
	}
	if !ingestWatch {
		return nil
	}
	return watchDirs(cmd, s, dirArgs(args))
}

// watchDirs ingests files as they appear under dirs until interrupted.
func watchDirs(cmd *cobra.Command, s *session, dirs []string) error {
	if len(dirs) == 0 {
		return errors.New("--watch needs at least one directory")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w := watcher.New(dirs, func(ctx context.Context, path string) error {
		res, err := s.app.Pipeline.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		return cli.WriteIngestResults(cmd.OutOrStdout(), []*ingest.Result{res}, s.format)
	},
		watcher.WithLogger(s.logger),
		watcher.WithExtensions(s.cfg.Ingest.Extensions),
		watcher.WithRecursive(true),
	)
	return w.Run(ctx)
}

func dirArgs(args []string) []string {
	var dirs []string
	for _, arg := range args {
		if info, err := os.Stat(arg); err == nil && info.IsDir() {
			dirs = append(dirs, arg)
		}
	}
	return dirs
}

func runExtract(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	text, err := readExtractInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	cands := indicator.Extract(text)
	if extractSocial {
		cands = cli.SocialOnly(cands)
	}
	return cli.WriteIndicators(cmd.OutOrStdout(), cands, format)
}

// readExtractInput reads args[0] through the document extractors, or stdin
// when no file or "-" is given.
func readExtractInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(data), nil
	}
	return extract.NewExtractor().Extract(args[0])
}
