// Package catalogfile loads the content catalog from YAML.
package catalogfile

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"course-progression-engine/internal/domain"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Loader reads a YAML catalog from disk on every load; wrap it in a caching
// repository.
type Loader struct {
	path string
}

// NewLoader returns a loader for path. An empty path serves the built-in catalog.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

func (l *Loader) LoadCatalog(_ context.Context) (*domain.Catalog, error) {
	if l.path == "" {
		return Default()
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", l.path, domain.ErrCatalogNotFound)
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and normalizes a YAML catalog. Unknown fields are rejected.
func Parse(raw []byte) (*domain.Catalog, error) {
	var c domain.Catalog
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the catalog bundled with the binary.
func Default() (*domain.Catalog, error) {
	return Parse(defaultCatalog)
}
