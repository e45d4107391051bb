package ports

import (
	"context"

	"github.com/toolvault/download-gateway/internal/domain"
)

// Catalog resolves a tool id to its published entry. Implementations are
// read-only; the gateway never mutates catalog data.
type Catalog interface {
	Resolve(ctx context.Context, toolID string) (domain.CatalogEntry, error)
}
