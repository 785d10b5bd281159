package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
	"course-progression-engine/internal/infra/memory"
)

func TestCatalogCacheStoresInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{CatalogLoader: memory.NewStaticCatalogLoader(sampleCatalog())}
	cache := NewCatalogCache(newClient(mr), loader, time.Minute)

	cat, err := cache.LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.count())
	}
	if !mr.Exists(catalogKey) {
		t.Fatalf("expected catalog key to be set")
	}
	if ttl := mr.TTL(catalogKey); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("expected ttl with jitter, got %v", ttl)
	}

	// A second instance reads the shared copy with its indexes rebuilt.
	other := NewCatalogCache(newClient(mr), loader, time.Minute)
	cached, err := other.LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("load cached catalog: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.count())
	}
	m, err := cached.ModuleBySlug("intro")
	if err != nil {
		t.Fatalf("lookup by slug: %v", err)
	}
	if m.ID != cat.Modules[0].ID {
		t.Fatalf("unexpected module %q", m.ID)
	}
}

func TestCatalogCacheInvalidate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{CatalogLoader: memory.NewStaticCatalogLoader(sampleCatalog())}
	cache := NewCatalogCache(newClient(mr), loader, time.Minute)
	ctx := context.Background()

	if _, err := cache.LoadCatalog(ctx); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.LoadCatalog(ctx); err != nil {
		t.Fatalf("reload catalog: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.count())
	}
}

func TestCatalogCacheIgnoresCorruptEntry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	if err := mr.Set(catalogKey, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	loader := &countingLoader{CatalogLoader: memory.NewStaticCatalogLoader(sampleCatalog())}
	cache := NewCatalogCache(newClient(mr), loader, time.Minute)
	if _, err := cache.LoadCatalog(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected fallback to loader, calls=%d", loader.count())
	}
}

type countingLoader struct {
	app.CatalogLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadCatalog(ctx context.Context) (*domain.Catalog, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.CatalogLoader.LoadCatalog(ctx)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleCatalog() domain.Catalog {
	return domain.Catalog{
		Version: "test",
		Modules: []domain.Module{
			{
				ID: "m1", Title: "Intro", Order: 1, XPReward: 10,
				Lessons: []domain.Lesson{{ID: "l1"}},
				Questions: []domain.Question{{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
					},
					Points: 1,
				}},
			},
		},
		Days: []domain.Day{{Number: 0, Items: []domain.ChecklistItem{{ID: "a"}}}},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
