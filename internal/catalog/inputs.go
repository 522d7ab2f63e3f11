package catalog

import (
	"fmt"

	"github.com/guitargeek/geeksw/pkg/product"
)

// Meta describes the instance a body is invoked for.
type Meta struct {
	Producer     string
	Product      product.Path
	WorkingDir   product.Path
	Substitution Substitution
	// Unit is the stream unit index, or -1 outside a stream fan-out.
	Unit int
}

// Multi is the value of a wildcard requirement: one value per dataset,
// keyed by the dataset name as configured (e.g. "/data1") and ordered
// case-insensitively by name.
type Multi struct {
	keys   []string
	values map[string]any
}

// NewMulti returns an empty Multi.
func NewMulti() *Multi {
	return &Multi{values: make(map[string]any)}
}

// Set stores the value for a dataset, appending the dataset on first use.
func (m *Multi) Set(dataset string, v any) {
	if _, ok := m.values[dataset]; !ok {
		m.keys = append(m.keys, dataset)
	}
	m.values[dataset] = v
}

// Get returns the value for a dataset.
func (m *Multi) Get(dataset string) (any, bool) {
	v, ok := m.values[dataset]
	return v, ok
}

// Keys returns the datasets in order.
func (m *Multi) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns the values in dataset order.
func (m *Multi) Values() []any {
	out := make([]any, len(m.keys))
	for i, k := range m.keys {
		out[i] = m.values[k]
	}
	return out
}

// Len returns the number of datasets.
func (m *Multi) Len() int {
	return len(m.keys)
}

// Inputs carries the resolved requirement values into a body.
type Inputs struct {
	values map[string]any
	meta   Meta
}

// NewInputs builds an Inputs value. The map is not copied.
func NewInputs(values map[string]any, meta Meta) Inputs {
	if values == nil {
		values = map[string]any{}
	}
	return Inputs{values: values, meta: meta}
}

// Lookup returns the value bound to a requirement name.
func (in Inputs) Lookup(name string) (any, bool) {
	v, ok := in.values[name]
	return v, ok
}

// Get returns the value bound to a requirement name, or nil.
func (in Inputs) Get(name string) any {
	return in.values[name]
}

// Multi returns the value of a wildcard requirement.
func (in Inputs) Multi(name string) (*Multi, bool) {
	m, ok := in.values[name].(*Multi)
	return m, ok
}

// Meta returns the instance metadata.
func (in Inputs) Meta() Meta {
	return in.meta
}

// Len returns the number of bound requirements.
func (in Inputs) Len() int {
	return len(in.values)
}

// With returns a copy of in with name rebound to v.
func (in Inputs) With(name string, v any) Inputs {
	values := make(map[string]any, len(in.values))
	for k, old := range in.values {
		values[k] = old
	}
	values[name] = v
	return Inputs{values: values, meta: in.meta}
}

// WithUnit returns a copy of in whose metadata carries a stream unit index.
func (in Inputs) WithUnit(unit int) Inputs {
	meta := in.meta
	meta.Unit = unit
	return Inputs{values: in.values, meta: meta}
}

// Input returns the requirement value converted to T.
func Input[T any](in Inputs, name string) (T, error) {
	var zero T
	v, ok := in.values[name]
	if !ok {
		return zero, fmt.Errorf("input %q is not bound for %s", name, in.meta.Producer)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("input %q for %s has type %T, want %T", name, in.meta.Producer, v, zero)
	}
	return t, nil
}
