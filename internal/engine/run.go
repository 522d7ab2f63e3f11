package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/guitargeek/geeksw/internal/cache"
	"github.com/guitargeek/geeksw/internal/executor"
	"github.com/guitargeek/geeksw/internal/record"
	"github.com/guitargeek/geeksw/internal/resolver"
	"github.com/guitargeek/geeksw/internal/state"
	"github.com/guitargeek/geeksw/pkg/product"
)

// Report describes a finished produce run.
type Report struct {
	// RunID is empty when no state store is configured.
	RunID   string
	Targets []product.Path
	Values  map[product.Path]any
	// Executed lists the products computed in this run, in completion order.
	Executed  []product.Path
	CacheHits []product.Path
	Elapsed   time.Duration
}

// run is the state of one produce request. The record store belongs to it
// alone.
type run struct {
	e       *Engine
	id      string
	targets []product.Path
	hits    []product.Path
	store   *record.Store

	mu       sync.Mutex
	records  map[product.Path]*state.InstanceRun
	executed []product.Path
}

// Run computes targets and reports what was executed and loaded.
func (e *Engine) Run(ctx context.Context, targets ...string) (*Report, error) {
	start := time.Now()
	e.logger.Info("starting run", "targets", targets, "mode", string(e.mode))

	r := &run{
		e:       e,
		store:   record.NewStore(),
		records: make(map[product.Path]*state.InstanceRun),
	}
	r.begin(ctx, targets)

	ordered, err := r.resolve(ctx, targets)
	if err != nil {
		e.logger.Error("run failed during resolution", "run_id", r.id, "error", err)
		r.finish(ctx, err)
		return nil, err
	}
	r.recordPending(ctx, ordered)

	e.logger.Debug("executing instances", "run_id", r.id, "count", len(ordered), "cache_hits", len(r.hits))

	var runErr error
	switch e.mode {
	case ModeConcurrent:
		runErr = r.executeConcurrent(ctx, ordered)
	default:
		runErr = r.executeSequential(ctx, ordered)
	}

	var values map[product.Path]any
	if runErr == nil {
		values = r.store.Snapshot(r.targets)
		for _, t := range r.targets {
			if _, ok := values[t]; !ok {
				runErr = fmt.Errorf("target %s was not produced", t)
				break
			}
		}
	}

	r.finish(ctx, runErr)
	if runErr != nil {
		e.logger.Info("run failed", "run_id", r.id, "error", runErr.Error())
		return nil, runErr
	}

	elapsed := time.Since(start)
	e.logger.Info("run completed",
		"run_id", r.id,
		"executed", len(r.executed),
		"cache_hits", len(r.hits),
		"elapsed_ms", elapsed.Milliseconds())

	return &Report{
		RunID:     r.id,
		Targets:   r.targets,
		Values:    values,
		Executed:  r.executed,
		CacheHits: r.hits,
		Elapsed:   elapsed,
	}, nil
}

// resolve expands targets and orders the instances that must run. Cached
// products are loaded into the record store on the way.
func (r *run) resolve(ctx context.Context, targets []string) ([]*resolver.Instance, error) {
	res, err := r.e.newResolver(r.store, r.e.resolverCache())
	if err != nil {
		return nil, err
	}
	paths, err := res.ExpandTargets(targets...)
	if err != nil {
		return nil, err
	}
	r.targets = paths

	instances, err := res.ResolveAll(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve targets: %w", err)
	}
	r.hits = res.CacheHits()
	r.e.metrics.CacheHits(len(r.hits))

	ordered, _, err := resolver.Order(instances)
	if err != nil {
		return nil, fmt.Errorf("dependency sort failed: %w", err)
	}
	return ordered, nil
}

func (r *run) executeSequential(ctx context.Context, ordered []*resolver.Instance) error {
	for i, inst := range ordered {
		if err := ctx.Err(); err != nil {
			r.skip(ctx, ordered[i:], "skipped: run cancelled")
			return err
		}
		if err := r.execute(ctx, inst); err != nil {
			r.skip(ctx, ordered[i+1:], fmt.Sprintf("skipped: upstream instance %s failed", inst.Product))
			return err
		}
		r.prune(inst.Product, ordered[i+1:], nil)
	}
	return nil
}

type outcome struct {
	inst *resolver.Instance
	err  error
}

// executeConcurrent starts every pending instance whose inputs are in the
// record store, bounded by the instance pool. The first failure cancels the
// instances still running and skips the rest.
func (r *run) executeConcurrent(ctx context.Context, ordered []*resolver.Instance) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := r.e.instanceWorkers
	pool := executor.NewPool(workers)
	done := make(chan outcome, len(ordered))

	pending := slices.Clone(ordered)
	running := make(map[product.Path]*resolver.Instance)
	var firstErr error

	for len(pending) > 0 || len(running) > 0 {
		if firstErr == nil {
			var rest []*resolver.Instance
			for _, inst := range pending {
				if firstErr != nil || len(running) >= workers || !r.store.HasAll(inst.Inputs()) {
					rest = append(rest, inst)
					continue
				}
				running[inst.Product] = inst
				err := pool.Submit(ctx, func(ctx context.Context) error {
					done <- outcome{inst: inst, err: r.execute(ctx, inst)}
					return nil
				})
				if err != nil {
					delete(running, inst.Product)
					rest = append(rest, inst)
					firstErr = err
					cancel()
				}
			}
			pending = rest
		}

		if len(running) == 0 {
			if firstErr == nil && len(pending) > 0 {
				firstErr = fmt.Errorf("%d instances are waiting on inputs that no instance produces", len(pending))
			}
			break
		}

		res := <-done
		delete(running, res.inst.Product)
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		if firstErr == nil {
			r.prune(res.inst.Product, pending, running)
		}
	}

	_ = pool.Await()
	if firstErr != nil {
		r.skip(ctx, pending, "skipped: run aborted")
	}
	return firstErr
}

// execute runs one instance and stores its product.
func (r *run) execute(ctx context.Context, inst *resolver.Instance) error {
	name := inst.Producer.Name()
	r.e.logger.Debug("executing instance", "product", inst.Product.String(), "producer", name)
	r.markRunning(ctx, inst)

	start := time.Now()
	value, err := r.invoke(ctx, inst)
	elapsed := time.Since(start)
	r.e.metrics.InstanceDone(name, elapsed, err)

	if err != nil {
		var perr *ProducerExecutionError
		if !errors.As(err, &perr) {
			err = &ProducerExecutionError{Producer: name, Product: inst.Product, Err: err}
		}
		r.e.logger.Debug("instance failed", "product", inst.Product.String(), "producer", name, "error", err)
		r.markDone(ctx, inst, state.InstanceStatusFailed, elapsed, false, err.Error())
		return err
	}

	r.store.Put(inst.Product, value)
	cached := r.persist(ctx, inst, value, elapsed)
	r.markDone(ctx, inst, state.InstanceStatusSuccess, elapsed, cached, "")

	r.mu.Lock()
	r.executed = append(r.executed, inst.Product)
	r.mu.Unlock()

	r.e.logger.Debug("instance done",
		"product", inst.Product.String(),
		"producer", name,
		"elapsed_ms", elapsed.Milliseconds(),
		"cached", cached)
	return nil
}

// persist writes value to the cache when the policy asks for it. Write
// failures are logged and dropped.
func (r *run) persist(ctx context.Context, inst *resolver.Instance, value any, elapsed time.Duration) bool {
	c := r.e.cache
	if c == nil || inst.CacheKey == "" || !r.e.policy.ShouldPersist(inst.Producer.CachePolicy(), elapsed) {
		return false
	}
	_, err := c.Put(context.WithoutCancel(ctx), inst.CacheKey, value, cache.Meta{
		Product:     inst.Product,
		Producer:    inst.Producer.Name(),
		Fingerprint: inst.Producer.Fingerprint(),
	})
	r.e.metrics.CacheWrite(err)
	if err != nil {
		r.e.logger.Warn("failed to cache product", "product", inst.Product.String(), "error", err)
		return false
	}
	return true
}

// prune drops every record no longer needed by the targets or by an
// instance that has not finished.
func (r *run) prune(done product.Path, pending []*resolver.Instance, running map[product.Path]*resolver.Instance) {
	inputs := make([][]product.Path, 0, len(pending)+len(running))
	for _, inst := range pending {
		inputs = append(inputs, inst.Inputs())
	}
	for _, inst := range running {
		inputs = append(inputs, inst.Inputs())
	}

	dropped := r.store.Prune(record.StillNeeded(r.targets, inputs...))
	if len(dropped) > 0 {
		r.e.logger.Debug("pruned records", "after", done.String(), "dropped", len(dropped))
		r.e.metrics.Pruned(len(dropped))
	}
	if r.e.onStep != nil {
		r.e.onStep(done, r.store.Keys())
	}
}

// --- run history ---

func (r *run) begin(ctx context.Context, targets []string) {
	if r.e.state == nil {
		return
	}
	rec, err := r.e.state.CreateRun(context.WithoutCancel(ctx), targets, r.e.datasets, string(r.e.mode))
	if err != nil {
		r.e.logger.Warn("failed to record run", "error", err)
		return
	}
	r.id = rec.ID
	r.e.logger.Debug("created run", "run_id", r.id)
}

func (r *run) recordPending(ctx context.Context, ordered []*resolver.Instance) {
	if r.id == "" {
		return
	}
	for _, hit := range r.hits {
		producer := ""
		if m, err := r.e.catalog.Match(hit); err == nil {
			producer = m.Producer.Name()
		}
		now := time.Now().UTC()
		_ = r.e.state.RecordInstanceRun(ctx, &state.InstanceRun{
			RunID:       r.id,
			Product:     hit.String(),
			Producer:    producer,
			Status:      state.InstanceStatusCached,
			StartedAt:   now,
			CompletedAt: &now,
			Cached:      true,
		})
	}
	for _, inst := range ordered {
		ir := &state.InstanceRun{
			RunID:    r.id,
			Product:  inst.Product.String(),
			Producer: inst.Producer.Name(),
			Status:   state.InstanceStatusPending,
			CacheKey: inst.CacheKey,
		}
		if err := r.e.state.RecordInstanceRun(ctx, ir); err != nil {
			r.e.logger.Warn("failed to record instance run", "product", inst.Product.String(), "error", err)
			continue
		}
		r.records[inst.Product] = ir
	}
}

func (r *run) record(p product.Path) *state.InstanceRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[p]
}

func (r *run) markRunning(ctx context.Context, inst *resolver.Instance) {
	if ir := r.record(inst.Product); ir != nil {
		_ = r.e.state.UpdateInstanceRun(context.WithoutCancel(ctx), ir.ID, state.InstanceStatusRunning, 0, false, "")
	}
}

func (r *run) markDone(ctx context.Context, inst *resolver.Instance, status state.InstanceStatus, elapsed time.Duration, cached bool, errMsg string) {
	if ir := r.record(inst.Product); ir != nil {
		_ = r.e.state.UpdateInstanceRun(context.WithoutCancel(ctx), ir.ID, status, elapsed, cached, errMsg)
	}
}

func (r *run) skip(ctx context.Context, insts []*resolver.Instance, reason string) {
	for _, inst := range insts {
		if ir := r.record(inst.Product); ir != nil {
			_ = r.e.state.UpdateInstanceRun(context.WithoutCancel(ctx), ir.ID, state.InstanceStatusSkipped, 0, false, reason)
		}
	}
}

func (r *run) finish(ctx context.Context, runErr error) {
	r.e.metrics.RunDone(runErr)
	if r.id == "" {
		return
	}
	status := state.RunStatusCompleted
	errMsg := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = state.RunStatusCancelled
		errMsg = runErr.Error()
	default:
		status = state.RunStatusFailed
		errMsg = runErr.Error()
	}
	if err := r.e.state.CompleteRun(context.WithoutCancel(ctx), r.id, status, len(r.hits), errMsg); err != nil {
		r.e.logger.Warn("failed to complete run record", "run_id", r.id, "error", err)
	}
}
