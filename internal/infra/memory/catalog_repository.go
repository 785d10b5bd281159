package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
)

const catalogKey = "catalog"

// CatalogRepository caches the catalog with a TTL to avoid repeated loads.
type CatalogRepository struct {
	loader app.CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	catalog   *domain.Catalog
	expiresAt time.Time
}

func NewCatalogRepository(loader app.CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *CatalogRepository) fresh(now time.Time) (*domain.Catalog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.catalog != nil && r.expiresAt.After(now) {
		return r.catalog, true
	}
	return nil, false
}

func (r *CatalogRepository) Catalog(ctx context.Context) (*domain.Catalog, error) {
	if c, ok := r.fresh(r.clock()); ok {
		return c, nil
	}

	result, err, _ := r.sf.Do(catalogKey, func() (interface{}, error) {
		now := r.clock()
		if c, ok := r.fresh(now); ok {
			return c, nil
		}
		c, err := r.loader.LoadCatalog(ctx)
		if err != nil {
			return nil, err
		}
		expiresAt := now.Add(r.ttlWithJitter())
		r.mu.Lock()
		r.catalog = c
		r.expiresAt = expiresAt
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Catalog), nil
}

// Invalidate drops the cached catalog so the next read reloads it.
func (r *CatalogRepository) Invalidate() {
	r.mu.Lock()
	r.catalog = nil
	r.mu.Unlock()
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticCatalogLoader serves a fixed catalog (useful for tests/demos).
type StaticCatalogLoader struct {
	catalog *domain.Catalog
	err     error
}

// NewStaticCatalogLoader normalizes c once; a validation failure is returned
// by every load.
func NewStaticCatalogLoader(c domain.Catalog) *StaticCatalogLoader {
	err := c.Normalize()
	return &StaticCatalogLoader{catalog: &c, err: err}
}

func (l *StaticCatalogLoader) LoadCatalog(_ context.Context) (*domain.Catalog, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.catalog, nil
}
