// Package cli provides the command-line interface for geeksw.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/guitargeek/geeksw/internal/cli/commands"
	"github.com/guitargeek/geeksw/internal/cli/config"
	"github.com/guitargeek/geeksw/internal/producers/demo"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates the root command running against the bundled demo
// catalog.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithCatalog(demo.Catalog)
}

// NewRootCmdWithCatalog creates the root command for a producer catalog.
func NewRootCmdWithCatalog(catalogFn commands.CatalogFunc) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "geeksw",
		Short: "geeksw - producer dependency engine",
		Long: `geeksw computes data products from a catalog of producers.

Each producer declares the product it makes and the products it needs.
geeksw resolves a request into the producers it depends on, orders them,
runs them sequentially or concurrently and caches slow results so later
runs can skip whole dependency trees.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					logger.Debug("using config file", "path", configFile)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./geeksw.yaml)")
	flags.StringSliceP("datasets", "d", nil, "Datasets substituted for * segments (comma-separated)")
	flags.Int("stream-workers", 0, "Workers per stream fan-out")
	flags.Int("instance-workers", 0, "Instances running at once in concurrent mode")
	flags.String("mode", "", "Execution mode (sequential|concurrent)")
	flags.String("cache-dir", "", "Persistent cache directory")
	flags.Duration("cache-threshold", 0, "Cache results that took longer than this")
	flags.String("cache-keys", "", "Cache key derivation (content|path)")
	flags.Bool("no-cache", false, "Neither read nor write the persistent cache")
	flags.Duration("instance-timeout", 0, "Abort an instance that runs longer than this")
	flags.String("state", "", "Path to the state database (default: <cache-dir>/index.db)")
	flags.String("metrics-out", "", "Write Prometheus metrics to this file after a run")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.StringP("output", "o", "", "Output format (auto|text|markdown|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "markdown", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("mode", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"sequential", "concurrent"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("cache-keys", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"content", "path"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunCommand(catalogFn))
	rootCmd.AddCommand(commands.NewPlanCommand(catalogFn))
	rootCmd.AddCommand(commands.NewCacheCommand(catalogFn))
	rootCmd.AddCommand(commands.NewRunsCommand(catalogFn))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for geeksw.

To load completions:

Bash:
  $ source <(geeksw completion bash)

Zsh:
  $ geeksw completion zsh > "${fpath[1]}/_geeksw"

Fish:
  $ geeksw completion fish | source

PowerShell:
  PS> geeksw completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
