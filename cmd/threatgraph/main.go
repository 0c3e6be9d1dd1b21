// Package main is the threatgraph CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/app"
	"github.com/tejnc/threat-intel-pipeline/internal/cli"
	"github.com/tejnc/threat-intel-pipeline/internal/config"
	"github.com/tejnc/threat-intel-pipeline/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/threatgraph/config.yaml"

var (
	configPath   string
	debugFlag    bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "threatgraph",
	Short: "Threat intelligence knowledge graph",
	Long: `threatgraph ingests threat intelligence reports into a knowledge graph of
documents, chunks, indicators and campaigns, and answers search and graph
queries over it from the command line or over HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", string(cli.OutputText), "output format: text or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists, and a missing default file yields
// the built-in defaults. Returns the config and the path actually loaded
// ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// session is what every command that touches the graph needs.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	app    *app.App
	format cli.OutputFormat
}

func (s *session) close() {
	if s.app != nil {
		if err := s.app.Close(); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

// openSession loads config, builds the logger and, when withApp is set, opens
// the store and wires the services.
func openSession(ctx context.Context, withApp bool) (*session, error) {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewCLILogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("debug", debug))

	s := &session{cfg: cfg, logger: logger, format: format}
	if withApp {
		s.app, err = app.New(ctx, cfg, logger)
		if err != nil {
			_ = logger.Sync()
			return nil, fmt.Errorf("failed to initialize: %w", err)
		}
	}
	return s, nil
}

// joinArgs joins positional args with spaces so multi-word values work with or
// without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
