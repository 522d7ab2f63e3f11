// Package record implements the per-run, auto-pruning store of computed
// products.
package record

import (
	"sort"
	"sync"

	"github.com/guitargeek/geeksw/pkg/product"
)

// Store maps concrete product paths to computed values for one run.
// It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[product.Path]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[product.Path]any)}
}

// Put stores a value, replacing any previous one.
func (s *Store) Put(path product.Path, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[path] = value
}

// Get returns the value stored for path.
func (s *Store) Get(path product.Path) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	return v, ok
}

// Has reports whether path is stored.
func (s *Store) Has(path product.Path) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[path]
	return ok
}

// HasAll reports whether every path is stored.
func (s *Store) HasAll(paths []product.Path) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range paths {
		if _, ok := s.values[p]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of stored values.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Keys returns the stored paths in sorted order.
func (s *Store) Keys() []product.Path {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]product.Path, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Snapshot returns a copy of the stored values restricted to paths. A nil
// paths slice copies everything.
func (s *Store) Snapshot(paths []product.Path) map[product.Path]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if paths == nil {
		out := make(map[product.Path]any, len(s.values))
		for k, v := range s.values {
			out[k] = v
		}
		return out
	}
	out := make(map[product.Path]any, len(paths))
	for _, p := range paths {
		if v, ok := s.values[p]; ok {
			out[p] = v
		}
	}
	return out
}

// Prune deletes every value whose path is not in keep and returns the
// deleted paths in sorted order.
func (s *Store) Prune(keep map[product.Path]struct{}) []product.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []product.Path
	for k := range s.values {
		if _, ok := keep[k]; !ok {
			delete(s.values, k)
			dropped = append(dropped, k)
		}
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	return dropped
}

// StillNeeded builds the keep set for Prune: the final targets plus the
// inputs of every instance that has not finished.
func StillNeeded(targets []product.Path, pendingInputs ...[]product.Path) map[product.Path]struct{} {
	keep := make(map[product.Path]struct{}, len(targets))
	for _, t := range targets {
		keep[t] = struct{}{}
	}
	for _, inputs := range pendingInputs {
		for _, p := range inputs {
			keep[p] = struct{}{}
		}
	}
	return keep
}
