package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/internal/dag"
	"github.com/guitargeek/geeksw/internal/testutil"
	"github.com/guitargeek/geeksw/pkg/product"
)

func noop(context.Context, catalog.Inputs) (any, error) { return nil, nil }

func exampleCatalog(t *testing.T, version string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		catalog.Declaration{Name: "d", Product: "foo", Body: noop, Version: version},
		catalog.Declaration{Name: "b", Product: "jenkins", Requires: []catalog.Requirement{catalog.Require("foo")}, Body: noop},
		catalog.Declaration{Name: "a", Product: "lin", Requires: []catalog.Requirement{catalog.Require("foo"), catalog.Require("jenkins")}, Body: noop},
		catalog.Declaration{Name: "c", Product: "win/win", Requires: []catalog.Requirement{catalog.Require("foo"), catalog.Require("jenkins")}, Body: noop},
	)
	require.NoError(t, err)
	return c
}

type fakeCache struct {
	entries map[string]any
	gets    []string
}

func (f *fakeCache) Contains(_ context.Context, key string) bool {
	_, ok := f.entries[key]
	return ok
}

func (f *fakeCache) Get(_ context.Context, key string) (any, error) {
	f.gets = append(f.gets, key)
	v, ok := f.entries[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return v, nil
}

type fakeStore map[product.Path]any

func (s fakeStore) Put(p product.Path, v any) { s[p] = v }

func products(instances []*Instance) []string {
	out := make([]string, len(instances))
	for i, inst := range instances {
		out[i] = inst.Product.String()
	}
	return out
}

func TestResolveAll_EndToEndExample(t *testing.T) {
	r, err := New(Config{
		Catalog:  exampleCatalog(t, ""),
		Datasets: []string{"/data1", "/data2", "/data3"},
		Logger:   testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	targets, err := r.ExpandTargets("/*/win/win")
	require.NoError(t, err)
	assert.Equal(t, []product.Path{"/data1/win/win", "/data2/win/win", "/data3/win/win"}, targets)

	instances, err := r.ResolveAll(context.Background(), targets)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/data1/win/win", "/data1/foo", "/data1/jenkins",
		"/data2/win/win", "/data2/foo", "/data2/jenkins",
		"/data3/win/win", "/data3/foo", "/data3/jenkins",
	}, products(instances))

	win := instances[0]
	assert.Equal(t, "c", win.Producer.Name())
	assert.Equal(t, product.Path("/data1"), win.WorkingDir)
	assert.Equal(t, []product.Path{"/data1/foo", "/data1/jenkins"}, win.Inputs())
	assert.Empty(t, win.CacheKey)

	ordered, g, err := Order(instances)
	require.NoError(t, err)
	assert.Equal(t, 9, g.NodeCount())
	pos := make(map[product.Path]int)
	for i, inst := range ordered {
		pos[inst.Product] = i
	}
	for _, inst := range ordered {
		for _, in := range inst.Inputs() {
			assert.Less(t, pos[in], pos[inst.Product])
		}
	}
}

func TestResolve_NoMatch(t *testing.T) {
	r, err := New(Config{Catalog: exampleCatalog(t, "")})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), product.MustParse("/data1/missing"))
	var perr *catalog.PatternResolutionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, product.Path("/data1/missing"), perr.Path)
}

func TestResolve_MissingRequirementFailsWholeResolution(t *testing.T) {
	c := catalog.MustNew(catalog.Declaration{
		Name: "top", Product: "top", Requires: []catalog.Requirement{catalog.Require("absent")}, Body: noop,
	})
	r, err := New(Config{Catalog: c})
	require.NoError(t, err)

	instances, err := r.Resolve(context.Background(), product.MustParse("/top"))
	assert.ErrorIs(t, err, catalog.ErrNoMatch)
	assert.Nil(t, instances)
}

func TestResolve_CycleReachesScheduler(t *testing.T) {
	c := catalog.MustNew(
		catalog.Declaration{Name: "p1", Product: "a", Requires: []catalog.Requirement{catalog.Require("b")}, Body: noop},
		catalog.Declaration{Name: "p2", Product: "b", Requires: []catalog.Requirement{catalog.Require("a")}, Body: noop},
	)
	r, err := New(Config{Catalog: c})
	require.NoError(t, err)

	instances, err := r.Resolve(context.Background(), product.MustParse("/a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, products(instances))

	g, err := BuildGraph(instances)
	require.NoError(t, err)
	assert.Equal(t, 2, g.EdgeCount())
	assert.Equal(t, []string{"/b"}, g.GetChildren("/a"))
	assert.Equal(t, []string{"/a"}, g.GetChildren("/b"))

	_, _, err = Order(instances)
	assert.ErrorIs(t, err, dag.ErrCycleDetected)
}

func TestResolve_CycleWithContentKeys(t *testing.T) {
	c := catalog.MustNew(
		catalog.Declaration{Name: "p1", Product: "a", Requires: []catalog.Requirement{catalog.Require("b")}, Body: noop},
		catalog.Declaration{Name: "p2", Product: "b", Requires: []catalog.Requirement{catalog.Require("a")}, Body: noop},
	)
	r, err := New(Config{Catalog: c, Cache: &fakeCache{}, Store: fakeStore{}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), product.MustParse("/a"))
	var cerr *dag.CycleError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"/a", "/b", "/a"}, cerr.Path)
}

func TestResolve_CachePrunesSubtree(t *testing.T) {
	cat := exampleCatalog(t, "")
	datasets := []string{"/data1"}

	keyer, err := New(Config{Catalog: cat, Datasets: datasets, Cache: &fakeCache{}, Store: fakeStore{}})
	require.NoError(t, err)
	jenkinsKey, err := keyer.Key(product.MustParse("/data1/jenkins"))
	require.NoError(t, err)

	cache := &fakeCache{entries: map[string]any{jenkinsKey: "fooJenkins"}}
	store := fakeStore{}
	r, err := New(Config{Catalog: cat, Datasets: datasets, Cache: cache, Store: store})
	require.NoError(t, err)

	instances, err := r.Resolve(context.Background(), product.MustParse("/data1/win/win"))
	require.NoError(t, err)

	// foo is still needed directly by win/win, but jenkins' own subtree is
	// never expanded through jenkins.
	assert.Equal(t, []string{"/data1/win/win", "/data1/foo"}, products(instances))
	assert.Equal(t, []product.Path{"/data1/jenkins"}, r.CacheHits())
	assert.Equal(t, "fooJenkins", store["/data1/jenkins"])
	assert.Equal(t, []string{jenkinsKey}, cache.gets)
	assert.NotEmpty(t, instances[0].CacheKey)
}

func TestResolve_CachedTargetRunsNothing(t *testing.T) {
	cat := exampleCatalog(t, "")
	cache := &fakeCache{entries: map[string]any{"data1__win__win": "WinFooFoojenkins"}}
	store := fakeStore{}
	r, err := New(Config{Catalog: cat, Datasets: []string{"data1"}, Cache: cache, Store: store, Keys: KeyPath})
	require.NoError(t, err)

	instances, err := r.Resolve(context.Background(), product.MustParse("/data1/win/win"))
	require.NoError(t, err)
	assert.Empty(t, instances)
	assert.Equal(t, "WinFooFoojenkins", store["/data1/win/win"])
}

func TestKey_ContentInvalidation(t *testing.T) {
	target := product.MustParse("/data1/win/win")

	key := func(version string) string {
		r, err := New(Config{Catalog: exampleCatalog(t, version), Datasets: []string{"/data1"}})
		require.NoError(t, err)
		k, err := r.Key(target)
		require.NoError(t, err)
		return k
	}

	assert.Equal(t, key("1"), key("1"))
	// d is two levels below win/win; changing it must still invalidate.
	assert.NotEqual(t, key("1"), key("2"))

	r, err := New(Config{Catalog: exampleCatalog(t, "1"), Keys: KeyPath})
	require.NoError(t, err)
	k, err := r.Key(target)
	require.NoError(t, err)
	assert.Equal(t, "data1__win__win", k)
}

func TestResolve_MultiRequirementOrder(t *testing.T) {
	c := catalog.MustNew(
		catalog.Declaration{Name: "count", Product: "count", Body: noop},
		catalog.Declaration{
			Name: "total", Product: "total",
			Requires: []catalog.Requirement{{Name: "counts", Pattern: "*/count"}},
			Body:     noop,
		},
	)
	r, err := New(Config{Catalog: c, Datasets: []string{"/beta", "/Alpha", "/2016/mc", "/alpha2"}})
	require.NoError(t, err)

	instances, err := r.Resolve(context.Background(), product.MustParse("/total"))
	require.NoError(t, err)
	require.NotEmpty(t, instances)

	req := instances[0].Requirements[0]
	assert.True(t, req.Multi)
	assert.Equal(t, []string{"/2016/mc", "/Alpha", "/alpha2", "/beta"}, req.Datasets)
	assert.Equal(t, []product.Path{"/2016/mc/count", "/Alpha/count", "/alpha2/count", "/beta/count"}, req.Paths)
	assert.Len(t, instances, 5)
}

func TestExpandTargets(t *testing.T) {
	r, err := New(Config{Catalog: exampleCatalog(t, "")})
	require.NoError(t, err)

	_, err = r.ExpandTargets("*/foo")
	assert.Error(t, err)

	_, err = r.ExpandTargets("<x>/foo")
	assert.ErrorIs(t, err, product.ErrInvalidPath)

	paths, err := r.ExpandTargets("/data/foo", "data/foo", "/data/lin")
	require.NoError(t, err)
	assert.Equal(t, []product.Path{"/data/foo", "/data/lin"}, paths)
}

func TestParseKeyMode(t *testing.T) {
	m, err := ParseKeyMode("")
	require.NoError(t, err)
	assert.Equal(t, KeyContent, m)

	m, err = ParseKeyMode("PATH")
	require.NoError(t, err)
	assert.Equal(t, KeyPath, m)

	_, err = ParseKeyMode("sha")
	assert.Error(t, err)
}
