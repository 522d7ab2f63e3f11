// Package resolver expands requested products into the deduplicated set of
// producer instances needed to compute them.
//
// Resolution consults the persistent cache first: a product whose cache
// entry exists is loaded into the record store and its requirement subtree
// is never expanded.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/pkg/product"
)

// KeyMode selects how cache keys are derived.
type KeyMode string

const (
	// KeyContent hashes the producer fingerprint, the product path, and the
	// provenance of every input. Default.
	KeyContent KeyMode = "content"
	// KeyPath uses the escaped product path. Entries are never invalidated
	// by logic changes.
	KeyPath KeyMode = "path"
)

// ParseKeyMode validates a key mode name. The empty string selects KeyContent.
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(strings.ToLower(s)) {
	case "", KeyContent:
		return KeyContent, nil
	case KeyPath:
		return KeyPath, nil
	default:
		return "", fmt.Errorf("unknown cache key mode %q (want content or path)", s)
	}
}

// Cache is the part of the persistent cache the resolver needs.
type Cache interface {
	Contains(ctx context.Context, key string) bool
	Get(ctx context.Context, key string) (any, error)
}

// Store receives values loaded from the cache.
type Store interface {
	Put(path product.Path, value any)
}

// Config holds resolver configuration.
type Config struct {
	Catalog *catalog.Catalog
	// Datasets are substituted for wildcard segments, in order.
	Datasets []string
	// Cache is optional. Without it nothing is pruned and no keys are
	// computed.
	Cache Cache
	// Store is required when Cache is set.
	Store Store
	Keys  KeyMode
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Resolver turns targets into instances. It is not safe for concurrent use.
type Resolver struct {
	catalog  *catalog.Catalog
	datasets []string
	cache    Cache
	store    Store
	keys     KeyMode
	logger   *slog.Logger

	instances  map[product.Path]*Instance
	provenance map[product.Path]string
	hits       []product.Path
}

// New creates a resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("resolver: catalog is required")
	}
	if cfg.Cache != nil && cfg.Store == nil {
		return nil, errors.New("resolver: a store is required when a cache is configured")
	}
	keys, err := ParseKeyMode(string(cfg.Keys))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		catalog:    cfg.Catalog,
		datasets:   cfg.Datasets,
		cache:      cfg.Cache,
		store:      cfg.Store,
		keys:       keys,
		logger:     logger,
		instances:  make(map[product.Path]*Instance),
		provenance: make(map[product.Path]string),
	}, nil
}

// ExpandTargets parses target patterns and expands their wildcards over the
// configured datasets. Duplicates are dropped, keeping first-seen order.
func (r *Resolver) ExpandTargets(targets ...string) ([]product.Path, error) {
	seen := make(map[product.Path]bool)
	var out []product.Path
	for _, t := range targets {
		pat, err := product.ParsePattern(t)
		if err != nil {
			return nil, fmt.Errorf("invalid target: %w", err)
		}
		if len(pat.Placeholders()) > 0 {
			return nil, fmt.Errorf("%w: target %q contains a placeholder", product.ErrInvalidPath, t)
		}
		if pat.Count(product.Wildcard) > 0 && len(r.datasets) == 0 {
			return nil, fmt.Errorf("target %q contains a wildcard but no datasets are configured", t)
		}
		paths, err := pat.Expand(r.datasets)
		if err != nil {
			return nil, fmt.Errorf("invalid target: %w", err)
		}
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Resolve expands a single target.
func (r *Resolver) Resolve(ctx context.Context, target product.Path) ([]*Instance, error) {
	return r.ResolveAll(ctx, []product.Path{target})
}

// ResolveAll expands every target and returns the instances that must run,
// deduplicated by product and in first-seen order. Targets served from the
// cache are loaded into the store and reported by CacheHits.
func (r *Resolver) ResolveAll(ctx context.Context, targets []product.Path) ([]*Instance, error) {
	seen := make(map[product.Path]bool)
	var out []*Instance
	for _, t := range targets {
		if err := r.resolve(ctx, t, seen, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CacheHits returns the products loaded from the cache so far.
func (r *Resolver) CacheHits() []product.Path {
	out := make([]product.Path, len(r.hits))
	copy(out, r.hits)
	return out
}

func (r *Resolver) resolve(ctx context.Context, target product.Path, seen map[product.Path]bool, out *[]*Instance) error {
	if seen[target] {
		return nil
	}
	seen[target] = true

	if err := ctx.Err(); err != nil {
		return err
	}

	var key string
	if r.cache != nil {
		var err error
		key, err = r.Key(target)
		if err != nil {
			return err
		}
		if r.cache.Contains(ctx, key) {
			value, err := r.cache.Get(ctx, key)
			if err == nil {
				r.logger.Debug("loaded product from cache", "product", target.String(), "key", key)
				r.store.Put(target, value)
				r.hits = append(r.hits, target)
				return nil
			}
			r.logger.Warn("failed to load cached product, recomputing",
				"product", target.String(), "key", key, "error", err)
		}
	}

	inst, err := r.instance(target)
	if err != nil {
		return err
	}
	inst.CacheKey = key
	*out = append(*out, inst)

	r.logger.Debug("resolved instance", "product", target.String(), "producer", inst.Producer.Name())

	for _, req := range inst.Requirements {
		for _, p := range req.Paths {
			if err := r.resolve(ctx, p, seen, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// instance matches path and binds the producer, memoized per path.
func (r *Resolver) instance(path product.Path) (*Instance, error) {
	if inst, ok := r.instances[path]; ok {
		return inst, nil
	}

	m, err := r.catalog.Match(path)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		Producer:     m.Producer,
		Product:      path,
		WorkingDir:   m.WorkingDir,
		Substitution: m.Substitution,
	}
	for _, cr := range m.Producer.Requirements() {
		req, err := r.bind(cr, m)
		if err != nil {
			return nil, fmt.Errorf("producer %s for %s: %w", m.Producer.Name(), path, err)
		}
		inst.Requirements = append(inst.Requirements, req)
	}

	r.instances[path] = inst
	return inst, nil
}

func (r *Resolver) bind(cr catalog.CompiledRequirement, m catalog.Match) (Requirement, error) {
	pat, err := cr.Pattern.Substitute(m.Substitution)
	if err != nil {
		return Requirement{}, err
	}
	paths, err := pat.Under(m.WorkingDir).Expand(r.datasets)
	if err != nil {
		return Requirement{}, err
	}
	req := Requirement{Name: cr.Name, Paths: paths, Multi: cr.Multi}
	if !cr.Multi {
		return req, nil
	}

	// Values are keyed by the dataset as configured and ordered by its
	// normalized form, ignoring case.
	type entry struct {
		dataset string
		sortKey string
		path    product.Path
	}
	entries := make([]entry, len(paths))
	for i, p := range paths {
		entries[i] = entry{
			dataset: r.datasets[i],
			sortKey: strings.Join(product.NormalizeDataset(r.datasets[i]), product.Separator),
			path:    p,
		}
	}
	col := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(entries, func(i, j int) bool {
		return col.CompareString(entries[i].sortKey, entries[j].sortKey) < 0
	})

	req.Paths = make([]product.Path, len(entries))
	req.Datasets = make([]string, len(entries))
	for i, e := range entries {
		req.Paths[i] = e.path
		req.Datasets[i] = e.dataset
	}
	return req, nil
}
