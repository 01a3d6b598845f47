// Package cmd defines the feed-finder command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-finder/internal/app"
	"github.com/JakeFAU/feed-finder/internal/config"
	"github.com/JakeFAU/feed-finder/internal/id"
	"github.com/JakeFAU/feed-finder/internal/logging"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "feed-finder <output.tsv>",
		Short: "Discover RSS/Atom feeds for a stream of web pages.",
		Long: `feed-finder reads page URLs from stdin, one per line, and probes each new
domain once: it fetches the page, follows the advertised RSS/Atom link, and
appends one tab-separated metadata row per feed to the output file.

Domains already probed are remembered in a state file across runs.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedFinder(cmd, cfgFile, args[0])
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.Flags().String("state", "", "seen-domain state file (default seen_domains.gob)")
	cmd.Flags().Int("concurrency", 0, "maximum in-flight tasks (default 100)")
	cmd.Flags().Int("per-host", 0, "maximum simultaneous connections per host (default 1)")
	cmd.Flags().String("metrics-addr", "", "serve /metrics, /healthz and /v1/progress on this address")
	cmd.Flags().String("log-level", "", "minimum log level (default info)")

	return cmd
}

func runFeedFinder(cmd *cobra.Command, cfgFile, outputPath string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	logger = logger.With(zap.String("run_id", id.NewRunID()))

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, outputPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close output", zap.Error(cerr))
		}
	}()

	if _, err := a.Run(ctx, cmd.InOrStdin()); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted; seen domains saved")
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}

// Execute runs the root command until stdin is exhausted or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "feed-finder:", err)
		stop()
		os.Exit(1)
	}
}
