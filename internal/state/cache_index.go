package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/guitargeek/geeksw/internal/cache"
	"github.com/guitargeek/geeksw/pkg/product"
)

// CacheIndex is a cache.Index backed by the cache_entries table.
type CacheIndex struct {
	store *SQLiteStore
}

var _ cache.Index = (*CacheIndex)(nil)

// CacheIndex returns the cache index view of the store.
func (s *SQLiteStore) CacheIndex() *CacheIndex {
	return &CacheIndex{store: s}
}

const cacheEntryColumns = `key, product, producer, fingerprint, tag, file, size, created_at`

func scanEntry(row rowScanner) (*cache.Entry, error) {
	e := &cache.Entry{}
	var p string
	if err := row.Scan(&e.Key, &p, &e.Producer, &e.Fingerprint, &e.Tag, &e.File, &e.Size, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Product = product.Path(p)
	return e, nil
}

func (c *CacheIndex) Lookup(ctx context.Context, key string) (*cache.Entry, error) {
	if c.store.db == nil {
		return nil, errNotOpened
	}
	e, err := scanEntry(c.store.db.QueryRowContext(ctx,
		`SELECT `+cacheEntryColumns+` FROM cache_entries WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cache entry: %w", err)
	}
	return e, nil
}

// Record replaces any entry with the same key or product.
func (c *CacheIndex) Record(ctx context.Context, e cache.Entry) ([]string, error) {
	if c.store.db == nil {
		return nil, errNotOpened
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT file FROM cache_entries WHERE product = ? OR key = ?`, e.Product.String(), e.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to find superseded entries: %w", err)
	}
	var superseded []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan superseded entry: %w", err)
		}
		superseded = append(superseded, f)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE product = ? OR key = ?`, e.Product.String(), e.Key); err != nil {
		return nil, fmt.Errorf("failed to remove superseded entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_entries (`+cacheEntryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Product.String(), e.Producer, e.Fingerprint, e.Tag, e.File, e.Size, e.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert cache entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return superseded, nil
}

func (c *CacheIndex) Remove(ctx context.Context, key string) error {
	if c.store.db == nil {
		return errNotOpened
	}
	if _, err := c.store.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

func (c *CacheIndex) Entries(ctx context.Context) ([]*cache.Entry, error) {
	if c.store.db == nil {
		return nil, errNotOpened
	}
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT `+cacheEntryColumns+` FROM cache_entries ORDER BY product`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*cache.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *CacheIndex) Clear(ctx context.Context) ([]string, error) {
	if c.store.db == nil {
		return nil, errNotOpened
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT file FROM cache_entries ORDER BY file`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache files: %w", err)
	}
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			_ = rows.Close()
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return nil, fmt.Errorf("failed to clear cache entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return files, nil
}
