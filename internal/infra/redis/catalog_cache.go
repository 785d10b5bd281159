package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
)

const catalogKey = "progression:catalog"

// CatalogCache shares the decoded catalog across instances. It stores the
// catalog document as JSON under a single key and falls back to the wrapped
// loader on a miss. It is itself an app.CatalogLoader, so it sits between the
// in-process TTL cache and the source of truth.
type CatalogCache struct {
	client *redis.Client
	loader app.CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewCatalogCache(client *redis.Client, loader app.CatalogLoader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CatalogCache) LoadCatalog(ctx context.Context) (*domain.Catalog, error) {
	if cat, ok := c.cached(ctx); ok {
		return cat, nil
	}

	result, err, _ := c.sf.Do(catalogKey, func() (interface{}, error) {
		// Re-check in case another instance filled it.
		if cat, ok := c.cached(ctx); ok {
			return cat, nil
		}
		cat, err := c.loader.LoadCatalog(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(cat)
		if err != nil {
			return nil, fmt.Errorf("encode catalog: %w", err)
		}
		// best-effort fill; the loaded catalog is still served on failure
		_ = c.client.Set(ctx, catalogKey, raw, c.ttlWithJitter()).Err()
		return cat, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Catalog), nil
}

// Invalidate removes the shared copy, e.g. after a content publish.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, catalogKey).Err()
}

// cached treats unreadable or invalid entries as a miss.
func (c *CatalogCache) cached(ctx context.Context) (*domain.Catalog, bool) {
	raw, err := c.client.Get(ctx, catalogKey).Bytes()
	if err != nil {
		return nil, false
	}
	var cat domain.Catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return nil, false
	}
	if err := cat.Normalize(); err != nil {
		return nil, false
	}
	return &cat, true
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
