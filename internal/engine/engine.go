// Package engine executes producer instances to compute requested products.
// It resolves targets against a catalog, orders the resulting instances,
// runs them sequentially or concurrently, and keeps the record store and the
// persistent cache up to date as instances finish.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guitargeek/geeksw/internal/cache"
	"github.com/guitargeek/geeksw/internal/catalog"
	"github.com/guitargeek/geeksw/internal/metrics"
	"github.com/guitargeek/geeksw/internal/record"
	"github.com/guitargeek/geeksw/internal/resolver"
	"github.com/guitargeek/geeksw/internal/state"
	"github.com/guitargeek/geeksw/pkg/product"
)

// Mode selects how instances are scheduled.
type Mode string

const (
	// ModeSequential runs instances one at a time in topological order.
	ModeSequential Mode = "sequential"
	// ModeConcurrent starts every instance whose inputs are ready, up to
	// InstanceWorkers at a time.
	ModeConcurrent Mode = "concurrent"
)

// ParseMode validates a mode name. The empty string selects ModeSequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeConcurrent:
		return ModeConcurrent, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q (want sequential or concurrent)", s)
	}
}

// IndexFile is the name of the state database inside the cache directory.
const IndexFile = "index.db"

// Config holds engine configuration.
type Config struct {
	// Catalog is the set of producers. Required.
	Catalog *catalog.Catalog
	// Datasets are substituted for wildcard segments.
	Datasets []string
	// StreamWorkers bounds the fan-out of a single stream producer.
	StreamWorkers int
	// InstanceWorkers bounds the instances running at once in concurrent mode.
	InstanceWorkers int
	Mode            Mode
	// CacheTimeThreshold is the compute time above which results are cached.
	CacheTimeThreshold time.Duration
	// CacheDir enables the persistent cache. Empty disables it.
	CacheDir string
	// CacheKeys selects content or path cache keys.
	CacheKeys resolver.KeyMode
	// NoCache bypasses the cache for reads and writes.
	NoCache bool
	// InstanceTimeout bounds each instance. Zero means no limit.
	InstanceTimeout time.Duration
	// StatePath is the SQLite database for the cache index and run history.
	// Defaults to index.db in CacheDir.
	StatePath string
	// Metrics is optional.
	Metrics *metrics.Recorder
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Engine runs produce requests against one catalog.
type Engine struct {
	catalog         *catalog.Catalog
	datasets        []string
	streamWorkers   int
	instanceWorkers int
	mode            Mode
	keys            resolver.KeyMode
	timeout         time.Duration
	policy          cache.Policy

	cache   *cache.Cache
	state   *state.SQLiteStore
	metrics *metrics.Recorder
	logger  *slog.Logger

	// onStep is called after each executed instance with the record store
	// keys that survived pruning.
	onStep func(done product.Path, keys []product.Path)
}

// New creates an engine, opening the state database and the cache when
// configured.
func New(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("engine: catalog is required")
	}

	// Initialize logger (use discard handler if nil)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	keys, err := resolver.ParseKeyMode(string(cfg.CacheKeys))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		catalog:         cfg.Catalog,
		datasets:        cfg.Datasets,
		streamWorkers:   max(cfg.StreamWorkers, 1),
		instanceWorkers: max(cfg.InstanceWorkers, 1),
		mode:            mode,
		keys:            keys,
		timeout:         cfg.InstanceTimeout,
		policy:          cache.Policy{Threshold: cfg.CacheTimeThreshold, Disabled: cfg.NoCache},
		metrics:         cfg.Metrics,
		logger:          logger,
	}

	logger.Debug("initializing engine",
		"producers", cfg.Catalog.Count(),
		"datasets", len(cfg.Datasets),
		"mode", string(mode),
		"cache_dir", cfg.CacheDir)

	statePath := cfg.StatePath
	if statePath == "" && cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		statePath = filepath.Join(cfg.CacheDir, IndexFile)
	}

	if statePath != "" {
		store := state.NewSQLiteStore(logger)
		if err := store.Open(context.Background(), statePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		e.state = store
	}

	if cfg.CacheDir != "" && !cfg.NoCache {
		c, err := cache.Open(cache.Config{Dir: cfg.CacheDir, Index: e.state.CacheIndex(), Logger: logger})
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		e.cache = c
	}

	return e, nil
}

// Close releases all resources.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	var errs []error
	if e.state != nil {
		if err := e.state.Close(); err != nil {
			errs = append(errs, err)
		}
		e.state = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing engine: %w", err)
	}
	return nil
}

// Cache returns the persistent cache, or nil when caching is off.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// State returns the state store, or nil when none is configured.
func (e *Engine) State() *state.SQLiteStore {
	return e.state
}

// Mode returns the scheduling mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Produce computes targets and returns their values keyed by concrete path.
// Targets may contain wildcards, which expand over the configured datasets.
func (e *Engine) Produce(ctx context.Context, targets ...string) (map[product.Path]any, error) {
	rep, err := e.Run(ctx, targets...)
	if err != nil {
		return nil, err
	}
	return rep.Values, nil
}

// Produce builds a one-shot engine with a persistent cache in dir and
// computes targets with it. An empty dir disables the cache.
func Produce(
	ctx context.Context,
	targets []string,
	cat *catalog.Catalog,
	datasets []string,
	workers int,
	threshold time.Duration,
	dir string,
) (map[product.Path]any, error) {
	e, err := New(Config{
		Catalog:            cat,
		Datasets:           datasets,
		StreamWorkers:      workers,
		CacheTimeThreshold: threshold,
		CacheDir:           dir,
	})
	if err != nil {
		return nil, err
	}
	values, err := e.Produce(ctx, targets...)
	if cerr := e.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return values, err
}

func (e *Engine) newResolver(store resolver.Store, c resolver.Cache) (*resolver.Resolver, error) {
	cfg := resolver.Config{
		Catalog:  e.catalog,
		Datasets: e.datasets,
		Keys:     e.keys,
		Logger:   e.logger,
	}
	if c != nil {
		cfg.Cache = c
		cfg.Store = store
	}
	return resolver.New(cfg)
}

var (
	_ resolver.Cache = (*cache.Cache)(nil)
	_ resolver.Store = (*record.Store)(nil)
)

// resolverCache returns the engine cache as a resolver.Cache, or a nil
// interface when caching is off.
func (e *Engine) resolverCache() resolver.Cache {
	if e.cache == nil {
		return nil
	}
	return e.cache
}
