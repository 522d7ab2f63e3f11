package engine

import (
	"context"
	"fmt"

	"github.com/guitargeek/geeksw/internal/dag"
	"github.com/guitargeek/geeksw/internal/record"
	"github.com/guitargeek/geeksw/internal/resolver"
	"github.com/guitargeek/geeksw/pkg/product"
)

// Plan is the execution plan for a set of targets, computed without running
// any producer.
type Plan struct {
	Targets []product.Path
	// Instances are in execution order.
	Instances []*resolver.Instance
	// Levels groups instance IDs that can run in parallel.
	Levels    [][]string
	CacheHits []product.Path
	Graph     *dag.Graph
}

// containsOnlyCache answers Contains from the real cache but never decodes values.
type containsOnlyCache struct {
	c resolver.Cache
}

func (p containsOnlyCache) Contains(ctx context.Context, key string) bool {
	return p.c.Contains(ctx, key)
}

func (containsOnlyCache) Get(context.Context, string) (any, error) { return nil, nil }

// Plan resolves targets and orders the instances that a run would execute.
func (e *Engine) Plan(ctx context.Context, targets ...string) (*Plan, error) {
	var c resolver.Cache
	if rc := e.resolverCache(); rc != nil {
		c = containsOnlyCache{c: rc}
	}
	res, err := e.newResolver(record.NewStore(), c)
	if err != nil {
		return nil, err
	}

	paths, err := res.ExpandTargets(targets...)
	if err != nil {
		return nil, err
	}
	instances, err := res.ResolveAll(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve targets: %w", err)
	}
	ordered, g, err := resolver.Order(instances)
	if err != nil {
		return nil, fmt.Errorf("dependency sort failed: %w", err)
	}
	levels, err := g.GetExecutionLevels()
	if err != nil {
		return nil, err
	}

	return &Plan{
		Targets:   paths,
		Instances: ordered,
		Levels:    levels,
		CacheHits: res.CacheHits(),
		Graph:     g,
	}, nil
}
