package values

import (
	"fmt"
	"slices"
)

// Table is a column-oriented table with a row index.
type Table struct {
	Columns []string    `json:"columns" msgpack:"columns"`
	Rows    [][]float64 `json:"rows" msgpack:"rows"`
	Index   []int       `json:"index" msgpack:"index"`
}

// NewTable builds a table with a fresh 0..n-1 index.
func NewTable(columns []string, rows [][]float64) (*Table, error) {
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, table has %d columns", i, len(r), len(columns))
		}
	}
	return &Table{Columns: columns, Rows: rows, Index: freshIndex(len(rows))}, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Column returns the values of one column.
func (t *Table) Column(name string) (Array, bool) {
	idx := slices.Index(t.Columns, name)
	if idx < 0 {
		return nil, false
	}
	out := make(Array, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[idx]
	}
	return out, true
}

// MergeUnits concatenates the rows of every unit. Columns must agree. The
// merged table gets a fresh index rather than the unit-local ones.
func (t *Table) MergeUnits(units []any) (any, error) {
	out := &Table{Columns: slices.Clone(t.Columns)}
	for i, u := range units {
		ut, ok := u.(*Table)
		if !ok {
			return nil, fmt.Errorf("unit %d is %T, want *values.Table", i, u)
		}
		if !slices.Equal(ut.Columns, t.Columns) {
			return nil, fmt.Errorf("unit %d has columns %v, want %v", i, ut.Columns, t.Columns)
		}
		out.Rows = append(out.Rows, ut.Rows...)
	}
	out.Index = freshIndex(len(out.Rows))
	return out, nil
}

func freshIndex(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
