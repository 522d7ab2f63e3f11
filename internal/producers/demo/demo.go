// Package demo bundles a small producer catalog used by the geeksw binary
// and in examples.
//
// Two families are included. The string producers (foo, jenkins, lin,
// win/win) form the minimal dependency chain used in documentation. The
// event producers simulate a chunked dataset: events is a stream of tables,
// selection/* fans out over it, and histogram/<column> and summary/cutflow
// consume the aggregated results.
package demo

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/internal/stream"
	"github.com/guitargeek/geeksw/pkg/values"
)

const (
	// Chunks is the number of stream units per dataset.
	Chunks = 4
	// EventsPerChunk is the number of rows in each events table.
	EventsPerChunk = 250

	PtCut  = 20.0
	EtaCut = 2.4
)

// Columns of the events tables.
var Columns = []string{"pt", "eta"}

// CutLabels names the selection steps in order.
var CutLabels = []string{fmt.Sprintf("pt > %g", PtCut), fmt.Sprintf("abs(eta) < %g", EtaCut)}

// Declarations returns the demo producer declarations.
func Declarations() []catalog.Declaration {
	return []catalog.Declaration{
		{
			Name:    "d",
			Product: "foo",
			Body: func(context.Context, catalog.Inputs) (any, error) {
				return "foo", nil
			},
		},
		{
			Name:     "b",
			Product:  "jenkins",
			Requires: []catalog.Requirement{catalog.Require("foo")},
			Body: func(_ context.Context, in catalog.Inputs) (any, error) {
				foo, err := catalog.Input[string](in, "foo")
				if err != nil {
					return nil, err
				}
				return foo + "Jenkins", nil
			},
		},
		{
			Name:     "a",
			Product:  "lin",
			Requires: []catalog.Requirement{catalog.Require("foo"), catalog.Require("jenkins")},
			Body:     joinTitled("Lin"),
		},
		{
			Name:     "c",
			Product:  "win/win",
			Requires: []catalog.Requirement{catalog.Require("foo"), catalog.Require("jenkins")},
			Body:     joinTitled("Win"),
		},
		{
			Name:    "events",
			Product: "events",
			Version: "1",
			Body:    loadEvents,
		},
		{
			Name:     "cutflow",
			Product:  "selection/cutflow",
			Requires: []catalog.Requirement{catalog.Require("events")},
			Kind:     catalog.Stream,
			Version:  "1",
			Body:     selectCutflow,
		},
		{
			Name:     "select",
			Product:  "selection/<column>",
			Requires: []catalog.Requirement{catalog.Require("events")},
			Kind:     catalog.Stream,
			Version:  "1",
			Body:     selectColumn,
		},
		{
			Name:     "histogram",
			Product:  "histogram/<column>",
			Requires: []catalog.Requirement{{Name: "values", Pattern: "selection/<column>"}},
			Cache:    catalog.CacheAlways,
			Version:  "1",
			Body:     histogram,
		},
		{
			Name:     "summary",
			Product:  "summary/cutflow",
			Requires: []catalog.Requirement{{Name: "cutflows", Pattern: "*/selection/cutflow"}},
			Cache:    catalog.CacheAlways,
			Version:  "1",
			Body:     summarize,
		},
	}
}

// Catalog builds the demo catalog.
func Catalog() (*catalog.Catalog, error) {
	return catalog.New(Declarations()...)
}

func joinTitled(prefix string) catalog.Body {
	return func(_ context.Context, in catalog.Inputs) (any, error) {
		foo, err := catalog.Input[string](in, "foo")
		if err != nil {
			return nil, err
		}
		jenkins, err := catalog.Input[string](in, "jenkins")
		if err != nil {
			return nil, err
		}
		title := cases.Title(language.English)
		return prefix + title.String(foo) + title.String(jenkins), nil
	}
}

// loadEvents returns one table per chunk. Values are pseudo-random but
// depend only on the dataset and chunk index.
func loadEvents(_ context.Context, in catalog.Inputs) (any, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(in.Meta().WorkingDir.String()))
	seed := h.Sum64()

	chunks := make([]any, Chunks)
	for c := range chunks {
		rng := rand.New(rand.NewPCG(seed, uint64(c)))
		rows := make([][]float64, EventsPerChunk)
		for i := range rows {
			rows[i] = []float64{rng.ExpFloat64() * 25, rng.NormFloat64() * 2}
		}
		t, err := values.NewTable(slices.Clone(Columns), rows)
		if err != nil {
			return nil, err
		}
		chunks[c] = t
	}
	return stream.NewList(chunks...)
}

func masks(t *values.Table) ([][]bool, error) {
	pt, ok := t.Column("pt")
	if !ok {
		return nil, fmt.Errorf("events table has no pt column")
	}
	eta, ok := t.Column("eta")
	if !ok {
		return nil, fmt.Errorf("events table has no eta column")
	}
	ptMask := make([]bool, len(pt))
	etaMask := make([]bool, len(eta))
	for i := range pt {
		ptMask[i] = pt[i] > PtCut
		etaMask[i] = math.Abs(eta[i]) < EtaCut
	}
	return [][]bool{ptMask, etaMask}, nil
}

func selectCutflow(_ context.Context, in catalog.Inputs) (any, error) {
	t, err := catalog.Input[*values.Table](in, "events")
	if err != nil {
		return nil, err
	}
	m, err := masks(t)
	if err != nil {
		return nil, err
	}
	return values.NewCutflow(CutLabels, m)
}

func selectColumn(_ context.Context, in catalog.Inputs) (any, error) {
	column := in.Meta().Substitution["column"]
	t, err := catalog.Input[*values.Table](in, "events")
	if err != nil {
		return nil, err
	}
	col, ok := t.Column(column)
	if !ok {
		return nil, fmt.Errorf("unknown column %q, have %s", column, strings.Join(t.Columns, ", "))
	}
	m, err := masks(t)
	if err != nil {
		return nil, err
	}
	out := values.Array{}
	for i, v := range col {
		if m[0][i] && m[1][i] {
			out = append(out, v)
		}
	}
	return out, nil
}

// HistogramBins is the number of bins drawn by the histogram producer.
const HistogramBins = 10

// histogram renders the selected values as a text bar chart.
// Figures are returned by value, the form the cache stores them in.
func histogram(_ context.Context, in catalog.Inputs) (any, error) {
	vals, err := catalog.Input[values.Array](in, "values")
	if err != nil {
		return nil, err
	}
	column := in.Meta().Substitution["column"]

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d entries)\n", in.Meta().Product, len(vals))
	if len(vals) == 0 {
		return values.Figure{Format: "txt", Data: []byte(b.String())}, nil
	}

	lo, hi := slices.Min(vals), slices.Max(vals)
	width := (hi - lo) / HistogramBins
	if width == 0 {
		width = 1
	}
	counts := make([]int, HistogramBins)
	for _, v := range vals {
		i := min(int((v-lo)/width), HistogramBins-1)
		counts[i]++
	}
	peak := slices.Max(counts)
	for i, n := range counts {
		bar := 0
		if peak > 0 {
			bar = n * 40 / peak
		}
		fmt.Fprintf(&b, "%s %8.2f | %-40s %d\n", column, lo+float64(i)*width, strings.Repeat("#", bar), n)
	}
	return values.Figure{Format: "txt", Data: []byte(b.String())}, nil
}

// summarize averages the per-dataset cutflows.
func summarize(_ context.Context, in catalog.Inputs) (any, error) {
	m, ok := in.Multi("cutflows")
	if !ok {
		return nil, fmt.Errorf("cutflows is not a multi input")
	}
	cfs := make([]*values.Cutflow, 0, m.Len())
	for _, ds := range m.Keys() {
		v, _ := m.Get(ds)
		cf, ok := v.(*values.Cutflow)
		if !ok {
			return nil, fmt.Errorf("cutflow of %s is %T", ds, v)
		}
		cfs = append(cfs, cf)
	}
	return values.AverageCutflows(cfs)
}
