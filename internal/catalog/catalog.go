// Package catalog holds the compiled set of producer declarations and maps
// concrete product paths to the producer responsible for them.
//
// A Catalog is assembled once from an explicit list of declarations and is
// read-only afterwards, so it can be shared between goroutines.
package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maps producer names and product patterns to compiled producers.
type Catalog struct {
	mu sync.RWMutex

	// byName maps producer names to producers: "win" → *Producer
	byName map[string]*Producer

	// byPattern maps canonical product patterns to producer names:
	// "<dist>/hist" → "hist"
	byPattern map[string]string

	// ordered keeps declaration order for listings and matching
	ordered []*Producer
}

// New compiles the declarations into a catalog. It fails on the first
// malformed declaration, duplicate name, or duplicate product pattern.
func New(decls ...Declaration) (*Catalog, error) {
	c := &Catalog{
		byName:    make(map[string]*Producer, len(decls)),
		byPattern: make(map[string]string, len(decls)),
		ordered:   make([]*Producer, 0, len(decls)),
	}
	for _, d := range decls {
		if err := c.register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(decls ...Declaration) *Catalog {
	c, err := New(decls...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) register(d Declaration) error {
	p, err := compile(d)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byName[p.name]; ok {
		return fmt.Errorf("%w: name %q is declared twice", ErrDuplicate, p.name)
	}
	key := p.product.String()
	if other, ok := c.byPattern[key]; ok {
		return fmt.Errorf("%w: %s and %s both produce %q", ErrDuplicate, other, p.name, key)
	}

	c.byName[p.name] = p
	c.byPattern[key] = p.name
	c.ordered = append(c.ordered, p)
	return nil
}

// Get returns the producer with the given name.
func (c *Catalog) Get(name string) (*Producer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byName[name]
	return p, ok
}

// Producers returns all producers in declaration order.
func (c *Catalog) Producers() []*Producer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Producer, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Names returns the sorted producer names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of producers.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ordered)
}
