// Package stream implements per-unit product lists, their fan-out over an
// executor, and type-directed aggregation back into a single value.
package stream

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/guitargeek/geeksw/internal/executor"
)

// MaxUnits bounds the length of a List.
const MaxUnits = 10000

var (
	// ErrTooManyUnits is returned when a list would exceed MaxUnits.
	ErrTooManyUnits = errors.New("stream list too long")
	// ErrLengthMismatch is returned when stream inputs of one invocation
	// have different lengths.
	ErrLengthMismatch = errors.New("stream inputs differ in length")
	// ErrAggregation is the sentinel wrapped by *AggregationError.
	ErrAggregation = errors.New("cannot aggregate stream")
	// ErrEmptyList is wrapped by the *AggregationError of an empty list.
	ErrEmptyList = errors.New("list has no units")
)

// List is an ordered sequence of per-unit values. Lists are not modified
// after creation.
type List struct {
	items []any
}

// NewList creates a list from items. The slice is not copied.
func NewList(items ...any) (*List, error) {
	if len(items) > MaxUnits {
		return nil, fmt.Errorf("%w: %d units, limit is %d", ErrTooManyUnits, len(items), MaxUnits)
	}
	return &List{items: items}, nil
}

// MustList is like NewList but panics on error.
func MustList(items ...any) *List {
	l, err := NewList(items...)
	if err != nil {
		panic(err)
	}
	return l
}

// Len returns the number of units.
func (l *List) Len() int { return len(l.items) }

// At returns the value of unit i.
func (l *List) At(i int) any { return l.items[i] }

// Items returns a copy of the unit values.
func (l *List) Items() []any {
	out := make([]any, len(l.items))
	copy(out, l.items)
	return out
}

// Map invokes fn once per unit index in [0, n) through exec and collects the
// results in index order. The first failure cancels the remaining units.
func Map(ctx context.Context, exec executor.Executor, n int, fn func(ctx context.Context, unit int) (any, error)) (*List, error) {
	if n > MaxUnits {
		return nil, fmt.Errorf("%w: %d units, limit is %d", ErrTooManyUnits, n, MaxUnits)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]any, n)
	var submitErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			submitErr = err
			break
		}
		err := exec.Submit(ctx, func(ctx context.Context) error {
			v, err := fn(ctx, i)
			if err != nil {
				cancel()
				return err
			}
			results[i] = v
			return nil
		})
		if err != nil {
			submitErr = err
			break
		}
	}

	if err := exec.Await(); err != nil {
		return nil, err
	}
	if submitErr != nil {
		return nil, submitErr
	}
	return &List{items: results}, nil
}

// CommonLength returns the shared length of the lists. Lists of different
// lengths yield ErrLengthMismatch.
func CommonLength(lists map[string]*List) (int, error) {
	n := -1
	var first string
	for name, l := range lists {
		if n < 0 {
			n, first = l.Len(), name
			continue
		}
		if l.Len() != n {
			return 0, fmt.Errorf("%w: %s has %d units, %s has %d", ErrLengthMismatch, first, n, name, l.Len())
		}
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Merger is implemented by values that know how to combine the per-unit
// values of a stream into one.
type Merger interface {
	// MergeUnits merges units, which includes the receiver, in order.
	MergeUnits(units []any) (any, error)
}

// AggregationError reports a list whose values cannot be merged.
type AggregationError struct {
	Type string
	Err  error
}

func (e *AggregationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s of %s: %v", ErrAggregation.Error(), e.Type, e.Err)
	}
	return fmt.Sprintf("%s of %s: no merge defined", ErrAggregation.Error(), e.Type)
}

func (e *AggregationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAggregation, e.Err}
	}
	return []error{ErrAggregation}
}

// Aggregate merges the units of the list into one value.
//
// Values implementing Merger merge themselves. Slices concatenate in unit
// order. Anything else, including an empty list, is an *AggregationError.
func (l *List) Aggregate() (any, error) {
	if len(l.items) == 0 {
		return nil, &AggregationError{Type: "empty list", Err: ErrEmptyList}
	}
	first := l.items[0]
	typeName := fmt.Sprintf("%T", first)

	if m, ok := first.(Merger); ok {
		v, err := m.MergeUnits(l.items)
		if err != nil {
			return nil, &AggregationError{Type: typeName, Err: err}
		}
		return v, nil
	}

	rv := reflect.ValueOf(first)
	if first == nil || rv.Kind() != reflect.Slice {
		return nil, &AggregationError{Type: typeName}
	}

	out := reflect.MakeSlice(rv.Type(), 0, rv.Len()*len(l.items))
	for i, item := range l.items {
		iv := reflect.ValueOf(item)
		if item == nil || iv.Type() != rv.Type() {
			return nil, &AggregationError{Type: typeName, Err: fmt.Errorf("unit %d has type %T", i, item)}
		}
		out = reflect.AppendSlice(out, iv)
	}
	return out.Interface(), nil
}
