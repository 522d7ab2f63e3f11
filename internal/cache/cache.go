// Package cache implements the persistent, type-aware product cache.
//
// Every entry is one file in the cache directory, named after the escaped
// product path, a digest of the cache key, the codec tag and extension, and
// one row in an Index that maps the cache key to the file and its type tag.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/guitargeek/geeksw/pkg/product"
)

// Entry describes one persisted product.
type Entry struct {
	Key         string
	Product     product.Path
	Producer    string
	Fingerprint string
	Tag         string
	File        string
	Size        int64
	CreatedAt   time.Time
}

// Index records which key maps to which file.
type Index interface {
	// Lookup returns the entry for key, or nil when there is none.
	Lookup(ctx context.Context, key string) (*Entry, error)
	// Record stores e, superseding any entry for the same product. It returns
	// the file names of superseded entries.
	Record(ctx context.Context, e Entry) ([]string, error)
	Remove(ctx context.Context, key string) error
	Entries(ctx context.Context) ([]*Entry, error)
	// Clear removes all entries and returns their file names.
	Clear(ctx context.Context) ([]string, error)
}

// Meta describes the product being written.
type Meta struct {
	Product     product.Path
	Producer    string
	Fingerprint string
}

// Config holds cache configuration.
type Config struct {
	// Dir is the cache directory. It is created if missing.
	Dir   string
	Index Index
	// Codecs defaults to DefaultRegistry.
	Codecs *Registry
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Cache is a directory of encoded products plus an index.
type Cache struct {
	dir    string
	index  Index
	codecs *Registry
	logger *slog.Logger
}

// Open prepares the cache directory.
func Open(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("cache: index is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	codecs := cfg.Codecs
	if codecs == nil {
		codecs = DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{dir: cfg.Dir, index: cfg.Index, codecs: codecs, logger: logger}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Contains reports whether key has an entry whose file is present.
func (c *Cache) Contains(ctx context.Context, key string) bool {
	e, err := c.index.Lookup(ctx, key)
	if err != nil {
		c.logger.Warn("cache index lookup failed", "key", key, "error", err)
		return false
	}
	if e == nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(c.dir, e.File)); err != nil {
		c.logger.Debug("cache file missing", "key", key, "file", e.File)
		return false
	}
	return true
}

// Get decodes the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	e, err := c.index.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up cache key %s: %w", key, err)
	}
	if e == nil {
		return nil, fmt.Errorf("cache key %s not found", key)
	}
	codec, ok := c.codecs.ByTag(e.Tag)
	if !ok {
		return nil, fmt.Errorf("cache entry %s has unknown type tag %q", key, e.Tag)
	}
	data, err := os.ReadFile(filepath.Join(c.dir, e.File))
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	v, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s as %s: %w", e.File, e.Tag, err)
	}
	return v, nil
}

// Put encodes value and stores it under key. Failures come back as
// *WriteError; callers log them and continue.
func (c *Cache) Put(ctx context.Context, key string, value any, meta Meta) (*Entry, error) {
	if _, ok := value.(Uncacheable); ok {
		return nil, &WriteError{Product: meta.Product, Err: fmt.Errorf("%T is not cacheable", value)}
	}
	codec, ok := c.codecs.For(value)
	if !ok {
		return nil, &WriteError{Product: meta.Product, Err: fmt.Errorf("%w: %T", errNoCodec, value)}
	}

	var buf bytes.Buffer
	if err := codec.Encode(&buf, value); err != nil {
		return nil, &WriteError{Product: meta.Product, Err: err}
	}

	name := FileName(meta.Product, key, codec)
	previous, err := c.index.Lookup(ctx, key)
	if err != nil {
		return nil, &WriteError{Product: meta.Product, Err: err}
	}
	if err := writeFileAtomic(filepath.Join(c.dir, name), buf.Bytes()); err != nil {
		return nil, &WriteError{Product: meta.Product, Err: err}
	}

	e := Entry{
		Key:         key,
		Product:     meta.Product,
		Producer:    meta.Producer,
		Fingerprint: meta.Fingerprint,
		Tag:         codec.Tag(),
		File:        name,
		Size:        int64(buf.Len()),
		CreatedAt:   time.Now().UTC(),
	}
	superseded, err := c.index.Record(ctx, e)
	if err != nil {
		if previous == nil || previous.File != name {
			_ = os.Remove(filepath.Join(c.dir, name))
		}
		return nil, &WriteError{Product: meta.Product, Err: err}
	}
	for _, old := range superseded {
		if old == name {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, old)); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove superseded cache file", "file", old, "error", err)
		}
	}

	c.logger.Info("cached product",
		"product", meta.Product.String(),
		"tag", e.Tag,
		"size", humanize.IBytes(uint64(e.Size)))
	return &e, nil
}

// Entries lists the index.
func (c *Cache) Entries(ctx context.Context) ([]*Entry, error) {
	return c.index.Entries(ctx)
}

// Clear removes every entry and its file. It returns the number of entries
// removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	files, err := c.index.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache index: %w", err)
	}
	var errs []error
	for _, f := range files {
		if err := os.Remove(filepath.Join(c.dir, f)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return len(files), errors.Join(errs...)
}

// keyDigestLen is the number of hex digits of the key digest in file names.
const keyDigestLen = 12

// FileName renders the file name of a product stored under key and encoded
// with codec. Entries under different keys never share a file.
func FileName(p product.Path, key string, codec Codec) string {
	sum := sha256.Sum256([]byte(key))
	return p.Escape() + "." + hex.EncodeToString(sum[:])[:keyDigestLen] + "." + codec.Tag() + "." + codec.Ext()
}

// HumanSize formats a byte count for listings.
func HumanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
