// Package commands implements the geeksw subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/internal/cli/config"
	"github.com/guitargeek/geeksw/internal/cli/output"
	"github.com/guitargeek/geeksw/internal/engine"
	"github.com/guitargeek/geeksw/internal/metrics"
	"github.com/guitargeek/geeksw/internal/resolver"
)

// CatalogFunc builds the producer catalog the commands run against.
type CatalogFunc func() (*catalog.Catalog, error)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
	// Metrics is set when metrics_out is configured.
	Metrics *metrics.Recorder
}

// NewCommandContext creates a CommandContext with engine and renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command, catalogFn CatalogFunc) (*CommandContext, func(), error) {
	cmdCtx := NewCommandContextWithoutEngine(cmd)

	if cmdCtx.Cfg.MetricsOut != "" {
		rec, err := metrics.New()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		cmdCtx.Metrics = rec
	}

	cat, err := catalogFn()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	eng, err := createEngine(cmdCtx.Cfg, cat, cmdCtx.Metrics, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	cmdCtx.Engine = eng

	cleanup := func() {
		_ = eng.Close()
	}
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := config.FromContext(cmd.Context())
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

func createEngine(cfg *config.Config, cat *catalog.Catalog, rec *metrics.Recorder, logger *slog.Logger) (*engine.Engine, error) {
	return engine.New(engine.Config{
		Catalog:            cat,
		Datasets:           cfg.Datasets,
		StreamWorkers:      cfg.StreamWorkers,
		InstanceWorkers:    cfg.InstanceWorkers,
		Mode:               engine.Mode(cfg.Mode),
		CacheTimeThreshold: cfg.CacheThreshold,
		CacheDir:           cfg.CacheDir,
		CacheKeys:          resolver.KeyMode(cfg.CacheKeys),
		NoCache:            cfg.NoCache,
		InstanceTimeout:    cfg.InstanceTimeout,
		StatePath:          cfg.StatePath,
		Metrics:            rec,
		Logger:             logger,
	})
}

// targetsOrConfig returns args, falling back to the configured targets.
func targetsOrConfig(args []string, cfg *config.Config) ([]string, error) {
	targets := args
	if len(targets) == 0 {
		targets = cfg.Targets
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets given\nHint: pass product paths such as /*/win/win or set targets in geeksw.yaml")
	}
	return targets, nil
}

// oneLine collapses a multi-line value for table cells.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
