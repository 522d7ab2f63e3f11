package engine

import (
	"context"
	"fmt"

	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/internal/executor"
	"github.com/guitargeek/geeksw/internal/resolver"
	"github.com/guitargeek/geeksw/internal/stream"
	"github.com/guitargeek/geeksw/pkg/product"
)

// invoke gathers the inputs of inst from the record store and calls its
// producer, fanning out over stream inputs for Stream producers.
func (r *run) invoke(ctx context.Context, inst *resolver.Instance) (any, error) {
	if r.e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.e.timeout)
		defer cancel()
	}

	in, streams, err := r.inputs(inst)
	if err != nil {
		return nil, err
	}

	p := inst.Producer
	if p.Kind() != catalog.Stream || len(streams) == 0 {
		return call(ctx, p, in)
	}

	n, err := stream.CommonLength(streams)
	if err != nil {
		return nil, err
	}
	r.e.logger.Debug("fanning out stream", "product", inst.Product.String(), "units", n, "workers", r.e.streamWorkers)

	out, err := stream.Map(ctx, executor.New(r.e.streamWorkers), n, func(ctx context.Context, unit int) (any, error) {
		uin := in.WithUnit(unit)
		for name, l := range streams {
			uin = uin.With(name, l.At(unit))
		}
		v, err := call(ctx, p, uin)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", unit, err)
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	r.e.metrics.StreamUnits(p.Name(), n)
	return out, nil
}

// inputs reads the requirement values of inst. Stream lists feeding a
// Stream producer are returned separately for fan-out; every other stream
// list is aggregated first.
func (r *run) inputs(inst *resolver.Instance) (catalog.Inputs, map[string]*stream.List, error) {
	fanOut := inst.Producer.Kind() == catalog.Stream
	values := make(map[string]any, len(inst.Requirements))
	streams := make(map[string]*stream.List)

	for _, req := range inst.Requirements {
		if req.Multi {
			m := catalog.NewMulti()
			for i, p := range req.Paths {
				v, err := r.input(p)
				if err != nil {
					return catalog.Inputs{}, nil, err
				}
				if v, err = aggregate(v); err != nil {
					return catalog.Inputs{}, nil, fmt.Errorf("input %s: %w", p, err)
				}
				m.Set(req.Datasets[i], v)
			}
			values[req.Name] = m
			continue
		}

		p := req.Paths[0]
		v, err := r.input(p)
		if err != nil {
			return catalog.Inputs{}, nil, err
		}
		if l, ok := v.(*stream.List); ok && fanOut {
			streams[req.Name] = l
		} else if v, err = aggregate(v); err != nil {
			return catalog.Inputs{}, nil, fmt.Errorf("input %s: %w", p, err)
		}
		values[req.Name] = v
	}
	return catalog.NewInputs(values, inst.Meta()), streams, nil
}

func (r *run) input(p product.Path) (any, error) {
	v, ok := r.store.Get(p)
	if !ok {
		return nil, fmt.Errorf("input %s is not in the record store", p)
	}
	return v, nil
}

func aggregate(v any) (any, error) {
	if l, ok := v.(*stream.List); ok {
		return l.Aggregate()
	}
	return v, nil
}

// call invokes a producer body. Panics become *PanicError and a done
// context returns immediately even if the body ignores it.
func call(ctx context.Context, p *catalog.Producer, in catalog.Inputs) (any, error) {
	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var res result
		defer func() {
			if rec := recover(); rec != nil {
				res = result{err: &PanicError{Value: rec}}
			}
			ch <- res
		}()
		res.v, res.err = p.Invoke(ctx, in)
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
