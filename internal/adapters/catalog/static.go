package catalog

import (
	"context"
	"fmt"

	"github.com/toolvault/download-gateway/internal/domain"
)

// StaticCatalog serves a fixed entry list. Used by tests and by deployments
// that bake the catalog into configuration.
type StaticCatalog struct {
	entries map[string]domain.CatalogEntry
}

// NewStaticCatalog creates a catalog from a fixed entry list.
func NewStaticCatalog(entries []domain.CatalogEntry) *StaticCatalog {
	byID := make(map[string]domain.CatalogEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	return &StaticCatalog{entries: byID}
}

func (c *StaticCatalog) Resolve(_ context.Context, toolID string) (domain.CatalogEntry, error) {
	if e, ok := c.entries[toolID]; ok {
		return e, nil
	}
	return domain.CatalogEntry{}, fmt.Errorf("%w: unknown tool id %q", domain.ErrNotFound, toolID)
}
