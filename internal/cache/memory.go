package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex is an Index kept in memory. It does not survive the process
// and is meant for tests and throwaway runs.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func (m *MemoryIndex) Lookup(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryIndex) Record(_ context.Context, e Entry) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var superseded []string
	for k, old := range m.entries {
		if old.Product == e.Product || k == e.Key {
			superseded = append(superseded, old.File)
			delete(m.entries, k)
		}
	}
	m.entries[e.Key] = e
	return superseded, nil
}

func (m *MemoryIndex) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryIndex) Entries(_ context.Context) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	return out, nil
}

func (m *MemoryIndex) Clear(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		files = append(files, e.File)
	}
	m.entries = make(map[string]Entry)
	sort.Strings(files)
	return files, nil
}
