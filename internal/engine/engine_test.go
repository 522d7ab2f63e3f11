package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/internal/dag"
	"github.com/guitargeek/geeksw/internal/metrics"
	"github.com/guitargeek/geeksw/internal/resolver"
	"github.com/guitargeek/geeksw/internal/state"
	"github.com/guitargeek/geeksw/internal/stream"
	"github.com/guitargeek/geeksw/internal/testutil"
	"github.com/guitargeek/geeksw/pkg/product"
	"github.com/guitargeek/geeksw/pkg/values"
)

var datasets = []string{"/data1", "/data2", "/data3"}

// calls counts body invocations per producer.
type calls struct {
	mu sync.Mutex
	n  map[string]int
}

func newCalls() *calls { return &calls{n: make(map[string]int)} }

func (c *calls) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[name]++
}

func (c *calls) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

func (c *calls) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sum := 0
	for _, n := range c.n {
		sum += n
	}
	return sum
}

// exampleCatalog is D()->foo, B(foo)->jenkins, A(foo,jenkins)->lin and
// C(foo,jenkins)->win/win.
func exampleCatalog(t *testing.T, c *calls, policy catalog.CachePolicy) *catalog.Catalog {
	t.Helper()
	// a Caser is stateful, so each call gets its own
	title := func(s string) string { return cases.Title(language.English).String(s) }
	str := func(in catalog.Inputs, name string) string {
		s, err := catalog.Input[string](in, name)
		assert.NoError(t, err)
		return s
	}
	cat, err := catalog.New(
		catalog.Declaration{
			Name: "d", Product: "foo", Cache: policy,
			Body: func(context.Context, catalog.Inputs) (any, error) {
				c.hit("d")
				return "foo", nil
			},
		},
		catalog.Declaration{
			Name: "b", Product: "jenkins", Cache: policy,
			Requires: []catalog.Requirement{catalog.Require("foo")},
			Body: func(_ context.Context, in catalog.Inputs) (any, error) {
				c.hit("b")
				return str(in, "foo") + "Jenkins", nil
			},
		},
		catalog.Declaration{
			Name: "a", Product: "lin", Cache: policy,
			Requires: []catalog.Requirement{catalog.Require("foo"), catalog.Require("jenkins")},
			Body: func(_ context.Context, in catalog.Inputs) (any, error) {
				c.hit("a")
				return "Lin" + title(str(in, "foo")) + title(str(in, "jenkins")), nil
			},
		},
		catalog.Declaration{
			Name: "c", Product: "win/win", Cache: policy,
			Requires: []catalog.Requirement{catalog.Require("foo"), catalog.Require("jenkins")},
			Body: func(_ context.Context, in catalog.Inputs) (any, error) {
				c.hit("c")
				return "Win" + title(str(in, "foo")) + title(str(in, "jenkins")), nil
			},
		},
	)
	require.NoError(t, err)
	return cat
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testutil.NewTestLogger(t)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

var modes = []Mode{ModeSequential, ModeConcurrent}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	cat := exampleCatalog(t, newCalls(), catalog.CacheAuto)
	_, err = New(Config{Catalog: cat, Mode: "parallel"})
	assert.Error(t, err)
	_, err = New(Config{Catalog: cat, CacheKeys: "mtime"})
	assert.Error(t, err)

	mode, err := ParseMode("Concurrent")
	require.NoError(t, err)
	assert.Equal(t, ModeConcurrent, mode)
}

func TestProduce_EndToEnd(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			c := newCalls()
			e := newEngine(t, Config{
				Catalog:         exampleCatalog(t, c, catalog.CacheAuto),
				Datasets:        datasets,
				Mode:            mode,
				InstanceWorkers: 4,
			})

			got, err := e.Produce(context.Background(), "/*/win/win")
			require.NoError(t, err)
			assert.Equal(t, map[product.Path]any{
				"/data1/win/win": "WinFooFoojenkins",
				"/data2/win/win": "WinFooFoojenkins",
				"/data3/win/win": "WinFooFoojenkins",
			}, got)

			// foo and jenkins are shared by each dataset's win/win; lin is never needed.
			assert.Equal(t, 3, c.get("d"))
			assert.Equal(t, 3, c.get("b"))
			assert.Equal(t, 3, c.get("c"))
			assert.Equal(t, 0, c.get("a"))
		})
	}
}

func TestProduce_SharedRequirementsRunOnce(t *testing.T) {
	c := newCalls()
	e := newEngine(t, Config{Catalog: exampleCatalog(t, c, catalog.CacheAuto), Datasets: []string{"/data1"}})

	rep, err := e.Run(context.Background(), "/data1/win/win", "/data1/lin", "/*/win/win")
	require.NoError(t, err)
	assert.Equal(t, []product.Path{"/data1/win/win", "/data1/lin"}, rep.Targets)
	assert.Equal(t, "LinFooFoojenkins", rep.Values["/data1/lin"])
	assert.Equal(t, 1, c.get("d"))
	assert.Equal(t, 1, c.get("b"))
	assert.Len(t, rep.Executed, 4)
	assert.Empty(t, rep.RunID)
}

func TestProduce_CycleRunsNothing(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		t.Run(fmt.Sprintf("cache=%v", withCache), func(t *testing.T) {
			c := newCalls()
			body := func(name string) catalog.Body {
				return func(context.Context, catalog.Inputs) (any, error) {
					c.hit(name)
					return name, nil
				}
			}
			cat := catalog.MustNew(
				catalog.Declaration{Name: "a", Product: "a", Requires: []catalog.Requirement{catalog.Require("b")}, Body: body("a")},
				catalog.Declaration{Name: "b", Product: "b", Requires: []catalog.Requirement{catalog.Require("a")}, Body: body("b")},
			)
			cfg := Config{Catalog: cat}
			if withCache {
				cfg.CacheDir = t.TempDir()
			}
			e := newEngine(t, cfg)

			_, err := e.Produce(context.Background(), "/a")
			require.Error(t, err)
			assert.ErrorIs(t, err, dag.ErrCycleDetected)
			var cerr *dag.CycleError
			require.True(t, errors.As(err, &cerr))
			assert.NotEmpty(t, cerr.Path)
			assert.Zero(t, c.total())
		})
	}
}

func TestProduce_UnmatchedTarget(t *testing.T) {
	c := newCalls()
	e := newEngine(t, Config{Catalog: exampleCatalog(t, c, catalog.CacheAuto)})

	_, err := e.Produce(context.Background(), "/data1/nothing")
	assert.ErrorIs(t, err, catalog.ErrNoMatch)
	var perr *catalog.PatternResolutionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, product.Path("/data1/nothing"), perr.Path)
	assert.Zero(t, c.total())
}

func TestProduce_CachePrunesAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	c := newCalls()
	cat := exampleCatalog(t, c, catalog.CacheAlways)
	ctx := context.Background()

	first := newEngine(t, Config{Catalog: cat, Datasets: datasets, CacheDir: dir})
	_, err := first.Produce(ctx, "/data1/win/win")
	require.NoError(t, err)
	assert.Equal(t, 3, c.total())
	require.NoError(t, first.Close())

	second := newEngine(t, Config{Catalog: cat, Datasets: datasets, CacheDir: dir})
	rep, err := second.Run(ctx, "/data1/win/win")
	require.NoError(t, err)
	assert.Equal(t, "WinFooFoojenkins", rep.Values["/data1/win/win"])
	assert.Equal(t, 3, c.total(), "a cached target must not instantiate its subtree")
	assert.Empty(t, rep.Executed)
	assert.Equal(t, []product.Path{"/data1/win/win"}, rep.CacheHits)

	// lin shares foo and jenkins with win/win; only a runs.
	rep, err = second.Run(ctx, "/data1/lin")
	require.NoError(t, err)
	assert.Equal(t, []product.Path{"/data1/lin"}, rep.Executed)
	assert.Equal(t, 1, c.get("a"))
	assert.Equal(t, 1, c.get("d"))
	assert.ElementsMatch(t, []product.Path{"/data1/foo", "/data1/jenkins"}, rep.CacheHits)
}

func TestProduce_CachedProductsWithUnderscores(t *testing.T) {
	cat := catalog.MustNew(catalog.Declaration{
		Name: "c", Product: "c", Cache: catalog.CacheAlways,
		Body: func(_ context.Context, in catalog.Inputs) (any, error) {
			return in.Meta().WorkingDir.String(), nil
		},
	})
	ctx := context.Background()

	for _, keys := range []resolver.KeyMode{resolver.KeyContent, resolver.KeyPath} {
		t.Run(string(keys), func(t *testing.T) {
			dir := t.TempDir()
			first := newEngine(t, Config{Catalog: cat, CacheDir: dir, CacheKeys: keys})
			_, err := first.Produce(ctx, "/a__b/c", "/a/b/c")
			require.NoError(t, err)
			require.NoError(t, first.Close())

			second := newEngine(t, Config{Catalog: cat, CacheDir: dir, CacheKeys: keys})
			for _, target := range []product.Path{"/a__b/c", "/a/b/c"} {
				rep, err := second.Run(ctx, target.String())
				require.NoError(t, err)
				assert.Empty(t, rep.Executed)
				assert.Equal(t, []product.Path{target}, rep.CacheHits)
				assert.Equal(t, target.Prefix(target.Len()-1).String(), rep.Values[target])
			}
		})
	}
}

func TestProduce_NoCacheBypassesCache(t *testing.T) {
	dir := t.TempDir()
	c := newCalls()
	cat := exampleCatalog(t, c, catalog.CacheAlways)
	ctx := context.Background()

	_, err := newEngine(t, Config{Catalog: cat, CacheDir: dir}).Produce(ctx, "/x/foo")
	require.NoError(t, err)

	e := newEngine(t, Config{Catalog: cat, CacheDir: dir, NoCache: true})
	assert.Nil(t, e.Cache())
	_, err = e.Produce(ctx, "/x/foo")
	require.NoError(t, err)
	assert.Equal(t, 2, c.get("d"))
}

func TestProduce_RecordStoreMinimality(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			c := newCalls()
			e := newEngine(t, Config{
				Catalog:         exampleCatalog(t, c, catalog.CacheAuto),
				Datasets:        datasets,
				Mode:            mode,
				InstanceWorkers: 3,
			})
			ctx := context.Background()

			plan, err := e.Plan(ctx, "/*/win/win", "/data2/lin")
			require.NoError(t, err)
			targets := make(map[product.Path]bool)
			for _, p := range plan.Targets {
				targets[p] = true
			}

			var mu sync.Mutex
			finished := make(map[product.Path]bool)
			steps := 0
			e.onStep = func(done product.Path, keys []product.Path) {
				mu.Lock()
				defer mu.Unlock()
				steps++
				finished[done] = true

				needed := make(map[product.Path]bool)
				for p := range targets {
					needed[p] = true
				}
				for _, inst := range plan.Instances {
					if finished[inst.Product] {
						continue
					}
					for _, in := range inst.Inputs() {
						needed[in] = true
					}
				}
				for _, k := range keys {
					assert.True(t, needed[k], "%s kept after %s although nothing needs it", k, done)
				}
			}

			got, err := e.Produce(ctx, "/*/win/win", "/data2/lin")
			require.NoError(t, err)
			assert.Len(t, got, 4)
			assert.Equal(t, len(plan.Instances), steps)
		})
	}
}

func streamCatalog(t *testing.T, n int) *catalog.Catalog {
	t.Helper()
	return catalog.MustNew(
		catalog.Declaration{
			Name: "events", Product: "events",
			Body: func(context.Context, catalog.Inputs) (any, error) {
				items := make([]any, n)
				for i := range items {
					items[i] = values.Array{float64(i)}
				}
				return stream.NewList(items...)
			},
		},
		catalog.Declaration{
			Name: "squares", Product: "squares", Kind: catalog.Stream,
			Requires: []catalog.Requirement{catalog.Require("events"), catalog.Require("offset")},
			Body: func(_ context.Context, in catalog.Inputs) (any, error) {
				unit := in.Meta().Unit
				// later units finish first
				time.Sleep(time.Duration(n-unit) * 100 * time.Microsecond)
				arr, err := catalog.Input[values.Array](in, "events")
				if err != nil {
					return nil, err
				}
				off, err := catalog.Input[float64](in, "offset")
				if err != nil {
					return nil, err
				}
				out := make(values.Array, len(arr))
				for i, x := range arr {
					out[i] = x*x + off
				}
				return out, nil
			},
		},
		catalog.Declaration{
			Name: "offset", Product: "offset",
			Body: func(context.Context, catalog.Inputs) (any, error) { return 0.5, nil },
		},
		catalog.Declaration{
			Name: "total", Product: "total",
			Requires: []catalog.Requirement{catalog.Require("squares")},
			Body: func(_ context.Context, in catalog.Inputs) (any, error) {
				arr, err := catalog.Input[values.Array](in, "squares")
				if err != nil {
					return nil, err
				}
				return arr, nil
			},
		},
	)
}

func TestProduce_StreamOrderPreserved(t *testing.T) {
	const n = 40
	rec, err := metrics.New()
	require.NoError(t, err)
	e := newEngine(t, Config{Catalog: streamCatalog(t, n), StreamWorkers: 8, Metrics: rec})

	got, err := e.Produce(context.Background(), "/squares", "/total")
	require.NoError(t, err)

	l, ok := got["/squares"].(*stream.List)
	require.True(t, ok)
	require.Equal(t, n, l.Len())
	want := make(values.Array, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, values.Array{float64(i*i) + 0.5}, l.At(i))
		want[i] = float64(i*i) + 0.5
	}
	// the One consumer sees the aggregated stream
	assert.Equal(t, want, got["/total"])
}

func TestProduce_AggregationError(t *testing.T) {
	tests := []struct {
		name  string
		units []any
		want  error
	}{
		{name: "no merge for int", units: []any{1, 2, 3}, want: stream.ErrAggregation},
		{name: "empty list", units: nil, want: stream.ErrEmptyList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			cat := catalog.MustNew(
				catalog.Declaration{
					Name: "units", Product: "units",
					Body: func(context.Context, catalog.Inputs) (any, error) {
						return stream.NewList(tt.units...)
					},
				},
				catalog.Declaration{
					Name: "sum", Product: "sum", Requires: []catalog.Requirement{catalog.Require("units")},
					Body: func(context.Context, catalog.Inputs) (any, error) {
						called = true
						return nil, nil
					},
				},
			)
			e := newEngine(t, Config{Catalog: cat})

			_, err := e.Produce(context.Background(), "/sum")
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, stream.ErrAggregation)
			assert.ErrorIs(t, err, ErrProducerFailed)
			assert.False(t, called)
		})
	}
}

func TestProduce_StreamLengthMismatch(t *testing.T) {
	list := func(n int) catalog.Body {
		return func(context.Context, catalog.Inputs) (any, error) {
			items := make([]any, n)
			for i := range items {
				items[i] = i
			}
			return stream.NewList(items...)
		}
	}
	cat := catalog.MustNew(
		catalog.Declaration{Name: "x", Product: "x", Body: list(3)},
		catalog.Declaration{Name: "y", Product: "y", Body: list(4)},
		catalog.Declaration{
			Name: "xy", Product: "xy", Kind: catalog.Stream,
			Requires: []catalog.Requirement{catalog.Require("x"), catalog.Require("y")},
			Body:     func(context.Context, catalog.Inputs) (any, error) { return 0, nil },
		},
	)
	e := newEngine(t, Config{Catalog: cat})

	_, err := e.Produce(context.Background(), "/xy")
	assert.ErrorIs(t, err, stream.ErrLengthMismatch)
}

func TestProduce_MultiRequirement(t *testing.T) {
	cat := catalog.MustNew(
		catalog.Declaration{
			Name: "count", Product: "count",
			Body: func(_ context.Context, in catalog.Inputs) (any, error) {
				return len(in.Meta().WorkingDir.String()), nil
			},
		},
		catalog.Declaration{
			Name: "summary", Product: "summary",
			Requires: []catalog.Requirement{{Name: "counts", Pattern: "*/count"}},
			Body: func(_ context.Context, in catalog.Inputs) (any, error) {
				m, ok := in.Multi("counts")
				if !ok {
					return nil, errors.New("counts is not a multi input")
				}
				if _, ok := m.Get("/data2"); !ok {
					return nil, errors.New("counts is not keyed by configured dataset")
				}
				parts := make([]string, 0, m.Len())
				for _, k := range m.Keys() {
					v, _ := m.Get(k)
					parts = append(parts, fmt.Sprintf("%s=%d", k, v))
				}
				return strings.Join(parts, ","), nil
			},
		},
	)
	e := newEngine(t, Config{Catalog: cat, Datasets: []string{"/data2", "/Data1", "/mc/2016"}})

	got, err := e.Produce(context.Background(), "/summary")
	require.NoError(t, err)
	assert.Equal(t, "/Data1=6,/data2=6,/mc/2016=8", got["/summary"])
}

func TestProduce_ProducerFailure(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			dir := t.TempDir()
			c := newCalls()
			cat := catalog.MustNew(
				catalog.Declaration{
					Name: "ok", Product: "ok", Cache: catalog.CacheAlways,
					Body: func(context.Context, catalog.Inputs) (any, error) { c.hit("ok"); return "ok", nil },
				},
				catalog.Declaration{
					Name: "bad", Product: "bad", Cache: catalog.CacheAlways,
					Requires: []catalog.Requirement{catalog.Require("ok")},
					Body: func(context.Context, catalog.Inputs) (any, error) {
						c.hit("bad")
						return "partial", errors.New("boom")
					},
				},
				catalog.Declaration{
					Name: "after", Product: "after", Cache: catalog.CacheAlways,
					Requires: []catalog.Requirement{catalog.Require("bad")},
					Body:     func(context.Context, catalog.Inputs) (any, error) { c.hit("after"); return "after", nil },
				},
			)
			e := newEngine(t, Config{Catalog: cat, CacheDir: dir, Mode: mode, InstanceWorkers: 2})
			ctx := context.Background()

			_, err := e.Produce(ctx, "/after")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProducerFailed)
			var perr *ProducerExecutionError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "bad", perr.Producer)
			assert.Equal(t, product.Path("/bad"), perr.Product)
			assert.Equal(t, 0, c.get("after"))

			entries, err := e.Cache().Entries(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1, "only the successful instance is cached")
			assert.Equal(t, product.Path("/ok"), entries[0].Product)

			runs, err := e.State().ListRuns(ctx, 1)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, state.RunStatusFailed, runs[0].Status)

			irs, err := e.State().ListInstanceRuns(ctx, runs[0].ID)
			require.NoError(t, err)
			status := make(map[string]state.InstanceStatus)
			for _, ir := range irs {
				status[ir.Product] = ir.Status
			}
			assert.Equal(t, state.InstanceStatusSuccess, status["/ok"])
			assert.Equal(t, state.InstanceStatusFailed, status["/bad"])
			assert.Equal(t, state.InstanceStatusSkipped, status["/after"])
		})
	}
}

func TestProduce_PanicIsRecovered(t *testing.T) {
	cat := catalog.MustNew(catalog.Declaration{
		Name: "explode", Product: "explode",
		Body: func(context.Context, catalog.Inputs) (any, error) { panic("kaboom") },
	})
	e := newEngine(t, Config{Catalog: cat})

	_, err := e.Produce(context.Background(), "/explode")
	assert.ErrorIs(t, err, ErrProducerFailed)
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "kaboom", pe.Value)
}

func TestProduce_InstanceTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	cat := catalog.MustNew(catalog.Declaration{
		Name: "slow", Product: "slow",
		// ignores its context on purpose
		Body: func(context.Context, catalog.Inputs) (any, error) {
			<-release
			return "late", nil
		},
	})
	e := newEngine(t, Config{Catalog: cat, InstanceTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := e.Produce(context.Background(), "/slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrProducerFailed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProduce_CacheWriteFailureIsSwallowed(t *testing.T) {
	logger, logs := testutil.NewCaptureLogger()
	cat := catalog.MustNew(catalog.Declaration{
		Name: "handle", Product: "handle", Cache: catalog.CacheAlways,
		Body: func(context.Context, catalog.Inputs) (any, error) { return make(chan int), nil },
	})
	e := newEngine(t, Config{Catalog: cat, CacheDir: t.TempDir(), Logger: logger})
	ctx := context.Background()

	got, err := e.Produce(ctx, "/handle")
	require.NoError(t, err)
	assert.NotNil(t, got["/handle"])
	assert.Contains(t, logs.String(), "failed to cache product")

	entries, err := e.Cache().Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProduce_ConcurrentRunsIndependentInstances(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	meet := func(context.Context, catalog.Inputs) (any, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() { arrived.Wait(); close(done) }()
		select {
		case <-done:
			return "met", nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("the other instance never started")
		}
	}
	cat := catalog.MustNew(
		catalog.Declaration{Name: "left", Product: "left", Body: meet},
		catalog.Declaration{Name: "right", Product: "right", Body: meet},
	)
	e := newEngine(t, Config{Catalog: cat, Mode: ModeConcurrent, InstanceWorkers: 2})

	got, err := e.Produce(context.Background(), "/left", "/right")
	require.NoError(t, err)
	assert.Equal(t, "met", got["/left"])
	assert.Equal(t, "met", got["/right"])
}

func TestProduce_Cancelled(t *testing.T) {
	c := newCalls()
	statePath := filepath.Join(t.TempDir(), "state.db")
	e := newEngine(t, Config{Catalog: exampleCatalog(t, c, catalog.CacheAuto), StatePath: statePath})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Produce(ctx, "/x/win/win")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.total())

	runs, err := e.State().ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusCancelled, runs[0].Status)
}

func TestRun_History(t *testing.T) {
	dir := t.TempDir()
	c := newCalls()
	cat := exampleCatalog(t, c, catalog.CacheAlways)
	e := newEngine(t, Config{Catalog: cat, Datasets: []string{"/data1"}, CacheDir: dir})
	ctx := context.Background()

	first, err := e.Run(ctx, "/*/win/win")
	require.NoError(t, err)
	require.NotEmpty(t, first.RunID)
	assert.FileExists(t, filepath.Join(dir, IndexFile))

	second, err := e.Run(ctx, "/data1/lin")
	require.NoError(t, err)

	runs, err := e.State().ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].ID)
	assert.Equal(t, state.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].CacheHits)
	assert.Equal(t, []string{"/*/win/win"}, runs[1].Targets)

	irs, err := e.State().ListInstanceRuns(ctx, second.RunID)
	require.NoError(t, err)
	status := make(map[string]state.InstanceStatus)
	for _, ir := range irs {
		status[ir.Product] = ir.Status
	}
	assert.Equal(t, map[string]state.InstanceStatus{
		"/data1/foo":     state.InstanceStatusCached,
		"/data1/jenkins": state.InstanceStatusCached,
		"/data1/lin":     state.InstanceStatusSuccess,
	}, status)
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	c := newCalls()
	cat := exampleCatalog(t, c, catalog.CacheAlways)
	e := newEngine(t, Config{Catalog: cat, Datasets: []string{"/data1"}, CacheDir: dir})
	ctx := context.Background()

	plan, err := e.Plan(ctx, "/data1/win/win")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"/data1/foo"}, {"/data1/jenkins"}, {"/data1/win/win"}}, plan.Levels)
	require.Len(t, plan.Instances, 3)
	assert.Equal(t, product.Path("/data1/foo"), plan.Instances[0].Product)
	assert.Empty(t, plan.CacheHits)
	assert.Zero(t, c.total(), "planning executes nothing")

	_, err = e.Produce(ctx, "/data1/foo")
	require.NoError(t, err)

	plan, err = e.Plan(ctx, "/data1/win/win")
	require.NoError(t, err)
	assert.Equal(t, []product.Path{"/data1/foo"}, plan.CacheHits)
	assert.Len(t, plan.Instances, 2)
}

func TestProduceFunc(t *testing.T) {
	c := newCalls()
	got, err := Produce(context.Background(), []string{"/*/win/win"},
		exampleCatalog(t, c, catalog.CacheAuto), datasets, 2, time.Hour, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, v := range got {
		assert.Equal(t, "WinFooFoojenkins", v)
	}
}
