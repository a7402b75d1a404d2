// Package metacache is the TTL-backed metadata cache described in spec.md
// §4.1/§9: a read-mostly decorator in front of the real metadata collaborator
// (a database's information_schema, a config file, …) that never returns a
// torn snapshot. It implements metadata.Source so it can be handed straight
// to metadata.New in place of the uncached collaborator.
package metacache

import (
	"context"
	"fmt"
	"time"

	"github.com/omniqueryio/polyspec/pkg/cache"
	"github.com/omniqueryio/polyspec/pkg/logger"
	"github.com/omniqueryio/polyspec/pkg/metadata"
)

// Cache wraps a metadata.Source with a pkg/cache.Provider-backed TTL cache
// of *metadata.Table snapshots, keyed by table name. ListTables is always
// served from the underlying source: the table-name set changes only on
// schema migration, far rarer than the per-table lookups this cache exists
// to absorb, so caching it would add an invalidation path for no measured
// benefit.
type Cache struct {
	source metadata.Source
	cache  *cache.Cache
	ttl    time.Duration
}

var _ metadata.Source = (*Cache)(nil)

// New builds a Cache over source, storing snapshots through provider with
// the given ttl (spec.md §6 "metadata.ttl").
func New(source metadata.Source, provider cache.Provider, ttl time.Duration) *Cache {
	return &Cache{source: source, cache: cache.NewCache(provider), ttl: ttl}
}

func tableKey(name string) string {
	return fmt.Sprintf("metadata:table:%s", name)
}

// GetTable returns table's metadata, serving a cached snapshot when present
// and unexpired, refreshing from source and repopulating the cache
// otherwise. A concurrent refresh never hands back a half-written value:
// the cache provider's Set is the only mutation, and readers either see the
// old snapshot (cache hit) or load their own fresh one (cache miss) — never
// a partially written one.
func (c *Cache) GetTable(ctx context.Context, name string) (*metadata.Table, error) {
	var table metadata.Table
	key := tableKey(name)

	if err := c.cache.Get(ctx, key, &table); err == nil {
		return &table, nil
	}

	fresh, err := c.source.GetTable(ctx, name)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, nil
	}

	if err := c.cache.Set(ctx, key, fresh, c.ttl); err != nil {
		logger.Warn("metacache: failed to cache table %q: %v", name, err)
	}
	return fresh, nil
}

// ListTables always delegates to the underlying source (see Cache doc).
func (c *Cache) ListTables(ctx context.Context) ([]string, error) {
	return c.source.ListTables(ctx)
}

// Invalidate drops the cached snapshot for name, forcing the next GetTable
// to refresh from source. Callers that manage schema migrations out of band
// should invalidate the tables they changed.
func (c *Cache) Invalidate(ctx context.Context, name string) error {
	return c.cache.Delete(ctx, tableKey(name))
}
