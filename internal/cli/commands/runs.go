package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/guitargeek/geeksw/internal/cli/output"
	"github.com/guitargeek/geeksw/internal/state"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand(catalogFn CatalogFunc) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show the run history",
		Long: `List recent runs, newest first. With a run ID, show every instance
the run resolved and how it ended.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd, catalogFn)
			if err != nil {
				return err
			}
			defer cleanup()

			store := cmdCtx.Engine.State()
			if store == nil {
				return errors.New("no state database configured\nHint: set cache_dir or state_path")
			}
			if len(args) == 1 {
				return runDetail(cmd, cmdCtx.Renderer, store, args[0])
			}
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			return runList(cmdCtx.Renderer, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show (0 for all)")
	return cmd
}

func runInfo(run *state.Run) output.RunInfo {
	return output.RunInfo{
		ID:          run.ID,
		Status:      string(run.Status),
		Mode:        run.Mode,
		Targets:     run.Targets,
		Datasets:    run.Datasets,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		CacheHits:   run.CacheHits,
		Error:       run.Error,
	}
}

func duration(run *state.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

func runList(r *output.Renderer, runs []*state.Run) error {
	if r.EffectiveMode() == output.ModeJSON {
		infos := make([]output.RunInfo, 0, len(runs))
		for _, run := range runs {
			infos = append(infos, runInfo(run))
		}
		return r.JSON(infos)
	}

	r.Header(1, "Runs")
	if len(runs) == 0 {
		r.Println(r.Muted("No runs recorded"))
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			string(run.Status),
			run.Mode,
			strings.Join(run.Targets, " "),
			humanize.Time(run.StartedAt),
			duration(run),
			fmt.Sprintf("%d", run.CacheHits),
		})
	}
	r.Table([]string{"ID", "Status", "Mode", "Targets", "Started", "Duration", "Cache hits"}, rows)
	return nil
}

func runDetail(cmd *cobra.Command, r *output.Renderer, store *state.SQLiteStore, id string) error {
	run, err := store.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	instances, err := store.ListInstanceRuns(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	info := runInfo(run)
	for _, ir := range instances {
		info.Instances = append(info.Instances, output.InstanceInfo{
			Product:     ir.Product,
			Producer:    ir.Producer,
			Status:      string(ir.Status),
			Cached:      ir.Cached,
			ExecutionMS: ir.ExecutionTime.Milliseconds(),
			Error:       ir.Error,
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(info)
	}

	r.Header(1, "Run "+run.ID)
	r.Println(output.FormatKeyValue("Status", info.Status))
	r.Println(output.FormatKeyValue("Mode", info.Mode))
	r.Println(output.FormatKeyValue("Targets", strings.Join(info.Targets, " ")))
	r.Println(output.FormatKeyValue("Datasets", strings.Join(info.Datasets, " ")))
	r.Println(output.FormatKeyValue("Started", run.StartedAt.Format(time.RFC3339)))
	r.Println(output.FormatKeyValue("Duration", duration(run)))
	if info.Error != "" {
		r.Println(output.FormatKeyValue("Error", oneLine(info.Error)))
	}
	r.Println("")

	rows := make([][]string, 0, len(info.Instances))
	for _, ii := range info.Instances {
		rows = append(rows, []string{ii.Product, ii.Producer, ii.Status, fmt.Sprintf("%dms", ii.ExecutionMS), oneLine(ii.Error)})
	}
	r.Table([]string{"Product", "Producer", "Status", "Time", "Error"}, rows)
	return nil
}
