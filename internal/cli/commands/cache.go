package commands

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/guitargeek/geeksw/internal/cache"
	"github.com/guitargeek/geeksw/internal/cli/output"
)

var errCacheDisabled = errors.New("the persistent cache is disabled\nHint: set cache_dir and leave no_cache unset")

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(catalogFn CatalogFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persistent cache",
	}
	cmd.AddCommand(newCacheListCommand(catalogFn), newCacheClearCommand(catalogFn))
	return cmd
}

func newCacheListCommand(catalogFn CatalogFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached products",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd, catalogFn)
			if err != nil {
				return err
			}
			defer cleanup()

			c := cmdCtx.Engine.Cache()
			if c == nil {
				return errCacheDisabled
			}
			entries, err := c.Entries(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list cache: %w", err)
			}
			return cacheList(cmdCtx.Renderer, c.Dir(), entries)
		},
	}
}

func cacheList(r *output.Renderer, dir string, entries []*cache.Entry) error {
	out := output.CacheListOutput{Dir: dir, Entries: make([]output.CacheEntryInfo, 0, len(entries))}
	for _, e := range entries {
		out.TotalSize += e.Size
		out.Entries = append(out.Entries, output.CacheEntryInfo{
			Key:       e.Key,
			Product:   e.Product.String(),
			Producer:  e.Producer,
			Tag:       e.Tag,
			File:      e.File,
			Size:      e.Size,
			SizeHuman: cache.HumanSize(e.Size),
			CreatedAt: e.CreatedAt,
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, "Cache")
	if len(out.Entries) == 0 {
		r.Println(r.Muted("No cached products in " + dir))
		return nil
	}
	rows := make([][]string, 0, len(out.Entries))
	for _, e := range out.Entries {
		rows = append(rows, []string{e.Product, e.Producer, e.Tag, e.SizeHuman, humanize.Time(e.CreatedAt)})
	}
	r.Table([]string{"Product", "Producer", "Type", "Size", "Created"}, rows)
	r.Println("")
	r.Println(r.Muted(fmt.Sprintf("%d entries, %s in %s", len(out.Entries), cache.HumanSize(out.TotalSize), dir)))
	return nil
}

func newCacheClearCommand(catalogFn CatalogFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd, catalogFn)
			if err != nil {
				return err
			}
			defer cleanup()

			c := cmdCtx.Engine.Cache()
			if c == nil {
				return errCacheDisabled
			}
			n, err := c.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			cmdCtx.Renderer.Success(fmt.Sprintf("Removed %d cached %s", n, plural(n, "product", "products")))
			return nil
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
