package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-progression-engine/internal/domain"
)

// CatalogLoader loads the most recently published catalog JSONB from Postgres.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) LoadCatalog(ctx context.Context) (*domain.Catalog, error) {
	var (
		version string
		raw     []byte
	)
	err := l.pool.QueryRow(ctx, `SELECT version, data FROM catalogs ORDER BY published_at DESC LIMIT 1`).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no catalog published", domain.ErrCatalogNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	var catalog domain.Catalog
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}
	if catalog.Version == "" {
		catalog.Version = version
	}
	if err := catalog.Normalize(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Publish stores c as the newest catalog version. Republishing a version
// replaces its document.
func (l *CatalogLoader) Publish(ctx context.Context, c *domain.Catalog) error {
	if c.Version == "" {
		return fmt.Errorf("publish catalog: version required")
	}
	if err := c.Normalize(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO catalogs (version, data, published_at) VALUES ($1, $2::jsonb, now())
		ON CONFLICT (version) DO UPDATE SET data = EXCLUDED.data, published_at = EXCLUDED.published_at`,
		c.Version, string(data))
	if err != nil {
		return fmt.Errorf("publish catalog: %w", err)
	}
	return nil
}
