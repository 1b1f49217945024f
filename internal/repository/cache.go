package repository

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"detectionapi/internal/model"
)

const latestKey = "latest"

// CachedCatalog serves Latest and Get from memory and invalidates on Commit.
// Exists always goes to the underlying catalog.
type CachedCatalog struct {
	Catalog
	cache *gocache.Cache

	mu         sync.Mutex
	generation uint64
}

// NewCachedCatalog wraps inner; ttl <= 0 disables caching.
func NewCachedCatalog(inner Catalog, ttl time.Duration) Catalog {
	if ttl <= 0 {
		return inner
	}
	return &CachedCatalog{
		Catalog: inner,
		cache:   gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedCatalog) Commit(ctx context.Context, record *model.ResultRecord) error {
	err := c.Catalog.Commit(ctx, record)

	c.mu.Lock()
	c.generation++
	c.cache.Delete(latestKey)
	c.cache.Delete(idKey(record.ID))
	c.mu.Unlock()

	return err
}

func (c *CachedCatalog) Latest(ctx context.Context) (*model.ResultRecord, error) {
	return c.cached(ctx, latestKey, func() (*model.ResultRecord, error) {
		return c.Catalog.Latest(ctx)
	})
}

func (c *CachedCatalog) Get(ctx context.Context, id string) (*model.ResultRecord, error) {
	return c.cached(ctx, idKey(id), func() (*model.ResultRecord, error) {
		return c.Catalog.Get(ctx, id)
	})
}

// cached loads through fetch on a miss. A result fetched while a commit was in flight is not stored.
func (c *CachedCatalog) cached(_ context.Context, key string, fetch func() (*model.ResultRecord, error)) (*model.ResultRecord, error) {
	if v, ok := c.cache.Get(key); ok {
		rec := *v.(*model.ResultRecord)
		return &rec, nil
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	rec, err := fetch()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if gen == c.generation {
		stored := *rec
		c.cache.SetDefault(key, &stored)
	}
	c.mu.Unlock()
	return rec, nil
}

func idKey(id string) string {
	return "id:" + id
}
