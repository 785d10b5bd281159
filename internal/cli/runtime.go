package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/config"
	"course-progression-engine/internal/infra/catalogfile"
	"course-progression-engine/internal/infra/memory"
	"course-progression-engine/internal/infra/payment"
	"course-progression-engine/internal/infra/postgres"
	infraredis "course-progression-engine/internal/infra/redis"
	"course-progression-engine/internal/logger"
	"course-progression-engine/internal/retry"
	transport "course-progression-engine/internal/transport/http"
)

// runtime holds the wired object graph for one process.
type runtime struct {
	services   transport.Services
	reconciler *app.Reconciler
	closers    []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime picks Postgres/Redis adapters when configured and falls back to
// in-memory ones otherwise.
func buildRuntime(ctx context.Context, cfg config.Config, log *logger.Logger) (*runtime, error) {
	rt := &runtime{}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var (
		pool  *pgxpool.Pool
		store app.Store = memory.NewStore()
		pings []func(context.Context) error
	)
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)

		db := postgres.Open(cfg.Postgres.URL)
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		pgStore := postgres.NewStore(db)
		store = pgStore
		pings = append(pings, pgStore.Ping)
	} else {
		log.Warn("postgres not configured, progress is kept in memory")
	}

	var loader app.CatalogLoader
	switch {
	case cfg.Catalog.Path != "":
		loader = catalogfile.NewLoader(cfg.Catalog.Path)
	case pool != nil:
		loader = postgres.NewCatalogLoader(pool)
	default:
		loader = catalogfile.NewLoader("")
	}

	var checklists app.ChecklistStore = memory.NewChecklistStore()
	if redisClient != nil {
		loader = infraredis.NewCatalogCache(redisClient, loader, redisTTL)
		checklists = infraredis.NewChecklistStore(redisClient)
		pings = append(pings, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)

	deps := app.Deps{
		Store:      store,
		Checklists: checklists,
		Catalog:    memory.NewCatalogRepository(loader, catalogTTL),
		Feed:       app.NewFeed(),
		Logger:     log,
		Location:   loc,
	}

	var gateway app.PaymentGateway
	if cfg.Payment.BaseURL != "" {
		gateway = payment.NewClient(payment.ClientConfig{
			BaseURL: cfg.Payment.BaseURL,
			Token:   cfg.Payment.Token,
			Timeout: config.TTLDuration(cfg.Payment.Timeout, 10*time.Second),
			Logger:  log.With("component", "payment"),
		})
	} else {
		log.Warn("payment api not configured, no checkout will ever confirm")
		gateway = payment.NewStaticGateway()
	}

	rt.reconciler = app.NewReconciler(deps, gateway, retryOptions(cfg)...)
	rt.services = transport.Services{
		Progress:     app.NewProgressService(deps),
		Quizzes:      app.NewQuizService(deps),
		Achievements: app.NewAchievementService(deps),
		Unlocks:      app.NewUnlockResolver(deps),
		Reconciler:   rt.reconciler,
		Feed:         deps.Feed,
		Logger:       log,
		Ping: func(ctx context.Context) error {
			for _, ping := range pings {
				if err := ping(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return rt, nil
}

func retryOptions(cfg config.Config) []retry.Option {
	e := cfg.Enrollment
	opts := []retry.Option{retry.WithInitialDelay(config.TTLDuration(e.BaseDelay, 500*time.Millisecond))}
	if e.MaxAttempts > 0 {
		opts = append(opts, retry.WithMaxAttempts(e.MaxAttempts))
	}
	if e.Multiplier > 0 {
		opts = append(opts, retry.WithMultiplier(e.Multiplier))
	}
	return opts
}
