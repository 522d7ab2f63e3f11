package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/guitargeek/geeksw/internal/cli/output"
	"github.com/guitargeek/geeksw/internal/engine"
	"github.com/guitargeek/geeksw/pkg/product"
	"github.com/guitargeek/geeksw/pkg/values"
)

// NewRunCommand creates the run command.
func NewRunCommand(catalogFn CatalogFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [product...]",
		Short: "Produce the requested products",
		Long: `Resolve the requested products against the producer catalog and run
every producer they depend on, reusing cached results where possible.

Products are paths such as /data1/win/win. A * segment expands over the
configured datasets. Without arguments the targets from geeksw.yaml are used.`,
		Example: `  # Produce one product
  geeksw run /data1/win/win

  # Produce a product for every dataset, four instances at a time
  geeksw run '/*/win/win' --datasets /data1,/data2 --mode concurrent --instance-workers 4

  # Ignore the cache and write metrics
  geeksw run /summary/cutflow --no-cache --metrics-out run.prom`,
		Aliases: []string{"produce"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, catalogFn, args)
		},
	}
	return cmd
}

func runRun(cmd *cobra.Command, catalogFn CatalogFunc, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd, catalogFn)
	if err != nil {
		return err
	}
	defer cleanup()

	targets, err := targetsOrConfig(args, cmdCtx.Cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	rep, runErr := cmdCtx.Engine.Run(ctx, targets...)

	if path := cmdCtx.Cfg.MetricsOut; path != "" {
		if err := cmdCtx.Metrics.WriteToTextfile(path); err != nil {
			cmdCtx.Logger.Warn("failed to write metrics", "path", path, "error", err)
		}
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		out := output.RunOutput{
			Status:    "completed",
			Targets:   targets,
			Products:  []output.ProductResult{},
			ElapsedMS: time.Since(start).Milliseconds(),
		}
		if runErr != nil {
			out.Status = runStatus(runErr)
			out.Error = runErr.Error()
		} else {
			out.RunID = rep.RunID
			out.Products = productResults(rep)
			out.Executed = len(rep.Executed)
			out.CacheHits = len(rep.CacheHits)
		}
		if err := r.JSON(out); err != nil {
			return err
		}
		return runErr
	}

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	if r.EffectiveMode() == output.ModeMarkdown {
		runMarkdown(r, rep)
	} else {
		runText(r, rep)
	}
	return nil
}

func runText(r *output.Renderer, rep *engine.Report) {
	cached := make(map[product.Path]bool, len(rep.CacheHits))
	for _, p := range rep.CacheHits {
		cached[p] = true
	}
	for _, res := range productResults(rep) {
		status := "success"
		if cached[product.Path(res.Path)] {
			status = "cached"
		}
		r.StatusLine(status, fmt.Sprintf("%s %s", r.Styles().Product.Render(res.Path), r.Muted("("+res.Type+")")))
		r.Printf("          %s\n", res.Value)
	}
	r.Println("")
	r.Success(fmt.Sprintf("%d products, %d executed, %d from cache in %s",
		len(rep.Values), len(rep.Executed), len(rep.CacheHits), rep.Elapsed.Round(time.Millisecond)))
	if rep.RunID != "" {
		r.Println(r.Muted("run " + rep.RunID))
	}
}

func runMarkdown(r *output.Renderer, rep *engine.Report) {
	r.Header(1, "Run")
	rows := make([][]string, 0, len(rep.Values))
	for _, res := range productResults(rep) {
		rows = append(rows, []string{res.Path, res.Type, oneLine(res.Value)})
	}
	r.Table([]string{"Product", "Type", "Value"}, rows)
	r.Println("")
	if rep.RunID != "" {
		r.Println(output.FormatKeyValue("Run", rep.RunID))
	}
	r.Println(output.FormatKeyValue("Executed", fmt.Sprintf("%d", len(rep.Executed))))
	r.Println(output.FormatKeyValue("Cache hits", fmt.Sprintf("%d", len(rep.CacheHits))))
	r.Println(output.FormatKeyValue("Elapsed", rep.Elapsed.Round(time.Millisecond).String()))
}

// productResults lists the report values sorted by path.
func productResults(rep *engine.Report) []output.ProductResult {
	paths := make([]product.Path, 0, len(rep.Values))
	for p := range rep.Values {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	out := make([]output.ProductResult, 0, len(paths))
	for _, p := range paths {
		v := rep.Values[p]
		out = append(out, output.ProductResult{
			Path:  p.String(),
			Type:  fmt.Sprintf("%T", v),
			Value: formatValue(v),
		})
	}
	return out
}

// formatValue renders a product value for display.
func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case values.Figure:
		return fmt.Sprintf("%s figure, %s", v.Format, humanize.Bytes(uint64(len(v.Data))))
	case *values.Figure:
		return formatValue(*v)
	case values.Array:
		return fmt.Sprintf("array of %s values", humanize.Comma(int64(len(v))))
	case *values.Table:
		return fmt.Sprintf("table with %s rows, columns %v", humanize.Comma(int64(v.Len())), v.Columns)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func runStatus(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "failed"
}
