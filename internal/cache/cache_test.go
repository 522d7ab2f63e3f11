package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/internal/stream"
	"github.com/guitargeek/geeksw/internal/testutil"
	"github.com/guitargeek/geeksw/pkg/product"
	"github.com/guitargeek/geeksw/pkg/values"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(Config{Dir: t.TempDir(), Index: NewMemoryIndex(), Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return c
}

func meta(p string) Meta {
	return Meta{Product: product.MustParse(p), Producer: "test", Fingerprint: "fp"}
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	table, err := values.NewTable([]string{"pt"}, [][]float64{{1}, {2}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		product string
		value   any
		tag     string
		prefix  string
		suffix  string
	}{
		{name: "string", product: "/data1/win/win", value: "WinFooFoojenkins", tag: "str", prefix: "data1__win__win.", suffix: ".str.msgpack"},
		{name: "array", product: "/d/m4l", value: values.Array{1.5, 2.5}, tag: "array", prefix: "d__m4l.", suffix: ".array.bin"},
		{name: "jagged", product: "/d/jets", value: values.Jagged{{1, 2}, {}}, tag: "jagged", prefix: "d__jets.", suffix: ".jagged.json"},
		{name: "table", product: "/d/events", value: table, tag: "table", prefix: "d__events.", suffix: ".table.json"},
		{
			name: "cutflow", product: "/d/cutflow",
			value: &values.Cutflow{Labels: []string{"a"}, Efficiencies: []float64{0.5}, Events: []int{4, 2}},
			tag:   "cutflow", prefix: "d__cutflow.", suffix: ".cutflow.yaml",
		},
		{name: "figure", product: "/d/plot", value: values.Figure{Format: "png", Data: []byte{0x89, 'P'}}, tag: "figure", prefix: "d__plot.", suffix: ".figure.msgpack"},
		{name: "stream", product: "/d/units", value: stream.MustList("a", values.Array{1}), tag: "stream", prefix: "d__units.", suffix: ".stream.msgpack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "key-" + tt.name
			e, err := c.Put(ctx, key, tt.value, meta(tt.product))
			require.NoError(t, err)
			assert.Equal(t, tt.tag, e.Tag)
			assert.True(t, strings.HasPrefix(e.File, tt.prefix), e.File)
			assert.True(t, strings.HasSuffix(e.File, tt.suffix), e.File)
			assert.Positive(t, e.Size)
			assert.FileExists(t, filepath.Join(c.Dir(), e.File))

			assert.True(t, c.Contains(ctx, key))
			got, err := c.Get(ctx, key)
			require.NoError(t, err)
			if l, ok := tt.value.(*stream.List); ok {
				assert.Equal(t, l.Items(), got.(*stream.List).Items())
				return
			}
			assert.Equal(t, tt.value, got)
		})
	}
}

type handle struct{ fd int }

func (handle) Uncacheable() {}

func TestCache_PutFailures(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	_, err := c.Put(ctx, "k1", make(chan int), meta("/d/chan"))
	var werr *WriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, product.Path("/d/chan"), werr.Product)
	assert.ErrorIs(t, err, ErrWrite)

	_, err = c.Put(ctx, "k2", handle{fd: 3}, meta("/d/handle"))
	assert.ErrorIs(t, err, ErrWrite)

	_, err = c.Put(ctx, "k3", stream.MustList(handle{}), meta("/d/handles"))
	assert.ErrorIs(t, err, ErrWrite)

	assert.False(t, c.Contains(ctx, "k1"))
	entries, err := c.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCache_SupersedesOlderKeyForSameProduct(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	old, err := c.Put(ctx, "old", values.Array{1}, meta("/d/x"))
	require.NoError(t, err)
	_, err = c.Put(ctx, "new", "now a string", meta("/d/x"))
	require.NoError(t, err)

	assert.False(t, c.Contains(ctx, "old"))
	assert.True(t, c.Contains(ctx, "new"))
	assert.NoFileExists(t, filepath.Join(c.Dir(), old.File))

	entries, err := c.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Key)
}

func TestCache_MissingFileIsAMiss(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	e, err := c.Put(ctx, "k", "v", meta("/d/v"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(c.Dir(), e.File)))

	assert.False(t, c.Contains(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.Error(t, err)

	_, err = c.Get(ctx, "unknown")
	assert.Error(t, err)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	_, err := c.Put(ctx, "a", "a", meta("/a"))
	require.NoError(t, err)
	_, err = c.Put(ctx, "b", "b", meta("/b"))
	require.NoError(t, err)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, c.Contains(ctx, "a"))
	assert.NoFileExists(t, filepath.Join(c.Dir(), "a.str.msgpack"))
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Config{Index: NewMemoryIndex()})
	assert.Error(t, err)
	_, err = Open(Config{Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestPolicy(t *testing.T) {
	p := Policy{Threshold: time.Second}

	assert.False(t, p.ShouldPersist(catalog.CacheAuto, time.Second))
	assert.True(t, p.ShouldPersist(catalog.CacheAuto, 2*time.Second))
	assert.True(t, p.ShouldPersist(catalog.CacheAlways, 0))
	assert.False(t, p.ShouldPersist(catalog.CacheNever, time.Hour))

	p.Disabled = true
	assert.False(t, p.ShouldPersist(catalog.CacheAlways, time.Hour))
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "1.5 KiB", HumanSize(1536))
	assert.Equal(t, "0 B", HumanSize(-1))
}

func TestCache_ProductsWithUnderscoresKeepSeparateFiles(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	nested := product.MustParse("/a/b/c")
	flat := product.MustParse("/a__b/c")
	for _, p := range []product.Path{nested, flat} {
		_, err := c.Put(ctx, p.Escape(), p.Prefix(p.Len()-1).String(), meta(p.String()))
		require.NoError(t, err)
	}

	got, err := c.Get(ctx, flat.Escape())
	require.NoError(t, err)
	assert.Equal(t, "/a__b", got)
	got, err = c.Get(ctx, nested.Escape())
	require.NoError(t, err)
	assert.Equal(t, "/a/b", got)

	entries, err := c.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].File, entries[1].File)
}

func TestCache_KeysGetTheirOwnFile(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	e1, err := c.Put(ctx, "k1", "first", meta("/d/x"))
	require.NoError(t, err)
	e2, err := c.Put(ctx, "k2", "second", meta("/d/x"))
	require.NoError(t, err)

	assert.NotEqual(t, e1.File, e2.File)
	assert.NoFileExists(t, filepath.Join(c.Dir(), e1.File))

	again, err := c.Put(ctx, "k2", "second", meta("/d/x"))
	require.NoError(t, err)
	assert.Equal(t, e2.File, again.File)
	assert.FileExists(t, filepath.Join(c.Dir(), again.File))
}

// failingIndex accepts lookups but refuses to record entries.
type failingIndex struct{ *MemoryIndex }

func (failingIndex) Record(context.Context, Entry) ([]string, error) {
	return nil, errors.New("index is read-only")
}

func TestCache_FailedRecordKeepsPreviousEntry(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryIndex()
	c, err := Open(Config{Dir: t.TempDir(), Index: mem, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)

	prev, err := c.Put(ctx, "old", "old value", meta("/d/x"))
	require.NoError(t, err)

	broken, err := Open(Config{Dir: c.Dir(), Index: failingIndex{mem}, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	_, err = broken.Put(ctx, "new", "new value", meta("/d/x"))
	assert.ErrorIs(t, err, ErrWrite)

	got, err := c.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "old value", got)

	files, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, prev.File, files[0].Name())
}
