package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guitargeek/geeksw/internal/cli/output"
	"github.com/guitargeek/geeksw/internal/engine"
	"github.com/guitargeek/geeksw/internal/resolver"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(catalogFn CatalogFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [product...]",
		Short: "Show the execution plan without running producers",
		Long: `Resolve the requested products and show which producers would run.

Instances are grouped by execution level: every instance of a level only
depends on instances of earlier levels, so a level can run in parallel.
Products already in the cache are listed separately and prune their
dependencies from the plan.`,
		Example: `  # Show the plan for every dataset
  geeksw plan '/*/win/win'

  # Output as JSON
  geeksw plan /summary/cutflow --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, catalogFn, args)
		},
	}
	return cmd
}

func runPlan(cmd *cobra.Command, catalogFn CatalogFunc, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd, catalogFn)
	if err != nil {
		return err
	}
	defer cleanup()

	targets, err := targetsOrConfig(args, cmdCtx.Cfg)
	if err != nil {
		return err
	}

	plan, err := cmdCtx.Engine.Plan(cmd.Context(), targets...)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(planOutput(plan))
	case output.ModeMarkdown:
		planMarkdown(r, plan)
	default:
		planText(r, plan)
	}
	return nil
}

func planInstance(plan *engine.Plan, id string) output.PlanInstance {
	pi := output.PlanInstance{Product: id, DependsOn: plan.Graph.GetParents(id)}
	if node, ok := plan.Graph.GetNode(id); ok {
		if inst, ok := node.Data.(*resolver.Instance); ok {
			pi.Producer = inst.Producer.Name()
			pi.Kind = inst.Producer.Kind().String()
		}
	}
	return pi
}

func planOutput(plan *engine.Plan) output.PlanOutput {
	out := output.PlanOutput{
		Levels:         make([]output.PlanLevel, 0, len(plan.Levels)),
		CacheHits:      make([]string, 0, len(plan.CacheHits)),
		TotalInstances: len(plan.Instances),
		TotalEdges:     plan.Graph.EdgeCount(),
	}
	for _, t := range plan.Targets {
		out.Targets = append(out.Targets, t.String())
	}
	for _, p := range plan.CacheHits {
		out.CacheHits = append(out.CacheHits, p.String())
	}
	for i, level := range plan.Levels {
		pl := output.PlanLevel{Level: i, Instances: make([]output.PlanInstance, 0, len(level))}
		for _, id := range level {
			pl.Instances = append(pl.Instances, planInstance(plan, id))
		}
		out.Levels = append(out.Levels, pl)
	}
	return out
}

func planText(r *output.Renderer, plan *engine.Plan) {
	styles := r.Styles()
	r.Header(1, "Execution Plan")

	for i, level := range plan.Levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, id := range level {
			pi := planInstance(plan, id)
			r.Printf("  %s %s\n", styles.Product.Render(pi.Product), r.Muted(fmt.Sprintf("[%s, %s]", pi.Producer, pi.Kind)))
			if len(pi.DependsOn) > 0 {
				r.Printf("    %s %s\n", r.Muted("depends on:"), strings.Join(pi.DependsOn, ", "))
			}
		}
		r.Println("")
	}

	if len(plan.CacheHits) > 0 {
		r.Println(styles.Header2.Render("Cached:"))
		for _, p := range plan.CacheHits {
			r.StatusLine("cached", p.String())
		}
		r.Println("")
	}

	r.Println(r.Muted(fmt.Sprintf("Total: %d instances, %d dependencies, %d cached",
		len(plan.Instances), plan.Graph.EdgeCount(), len(plan.CacheHits))))
}

func planMarkdown(r *output.Renderer, plan *engine.Plan) {
	r.Header(1, "Execution Plan")

	rows := make([][]string, 0, len(plan.Instances))
	for i, level := range plan.Levels {
		for _, id := range level {
			pi := planInstance(plan, id)
			rows = append(rows, []string{fmt.Sprintf("%d", i), pi.Product, pi.Producer, pi.Kind, strings.Join(pi.DependsOn, ", ")})
		}
	}
	r.Table([]string{"Level", "Product", "Producer", "Kind", "Depends on"}, rows)
	r.Println("")

	if len(plan.CacheHits) > 0 {
		r.Header(2, "Cached")
		for _, p := range plan.CacheHits {
			r.Printf("- %s\n", p)
		}
		r.Println("")
	}

	r.Header(2, "Summary")
	r.Println(output.FormatKeyValue("Instances", fmt.Sprintf("%d", len(plan.Instances))))
	r.Println(output.FormatKeyValue("Dependencies", fmt.Sprintf("%d", plan.Graph.EdgeCount())))
	r.Println(output.FormatKeyValue("Cached", fmt.Sprintf("%d", len(plan.CacheHits))))
}
