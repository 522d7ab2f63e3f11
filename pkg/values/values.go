// Package values defines the product value kinds the engine knows how to
// aggregate across stream units and persist in the cache.
package values

import (
	"fmt"
)

// Array is a flat numeric array. Stream units concatenate.
type Array []float64

// MergeUnits concatenates the units in order.
func (a Array) MergeUnits(units []any) (any, error) {
	n := 0
	for _, u := range units {
		if arr, ok := u.(Array); ok {
			n += len(arr)
		}
	}
	out := make(Array, 0, n)
	for i, u := range units {
		arr, ok := u.(Array)
		if !ok {
			return nil, fmt.Errorf("unit %d is %T, want values.Array", i, u)
		}
		out = append(out, arr...)
	}
	return out, nil
}

// Jagged is a ragged array: one variable-length row per event. Stream units
// concatenate row-wise, so every row keeps its own grouping.
type Jagged [][]float64

// MergeUnits concatenates the rows of every unit in order.
func (j Jagged) MergeUnits(units []any) (any, error) {
	var out Jagged
	for i, u := range units {
		rows, ok := u.(Jagged)
		if !ok {
			return nil, fmt.Errorf("unit %d is %T, want values.Jagged", i, u)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Counts returns the length of every row.
func (j Jagged) Counts() []int {
	out := make([]int, len(j))
	for i, row := range j {
		out[i] = len(row)
	}
	return out
}

// Flatten returns all elements in row order.
func (j Jagged) Flatten() Array {
	var out Array
	for _, row := range j {
		out = append(out, row...)
	}
	return out
}

// Figure is a rendered figure. Figures cannot be merged.
type Figure struct {
	Format string `json:"format" msgpack:"format"`
	Data   []byte `json:"data" msgpack:"data"`
}
