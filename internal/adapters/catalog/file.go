package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/toolvault/download-gateway/internal/domain"
)

// catalogFile mirrors the published tools.json schema.
type catalogFile struct {
	Tools []struct {
		ID   string `json:"id"`
		Path string `json:"path"`
		Name string `json:"name"`
	} `json:"tools"`
}

// FileCatalog resolves tool ids against a JSON catalog file. The file is
// re-read on every resolve so catalog edits go live without a restart; the
// file is small and the OS page cache makes this cheap.
type FileCatalog struct {
	path string
}

// NewFileCatalog creates a catalog backed by the given JSON file.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

func (c *FileCatalog) Resolve(_ context.Context, toolID string) (domain.CatalogEntry, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("%w: read catalog: %v", domain.ErrUnavailable, err)
	}

	var f catalogFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("%w: parse catalog: %v", domain.ErrUnavailable, err)
	}

	for _, tool := range f.Tools {
		if tool.ID == toolID {
			return domain.CatalogEntry{
				ID:          tool.ID,
				Path:        tool.Path,
				DisplayName: tool.Name,
			}, nil
		}
	}
	return domain.CatalogEntry{}, fmt.Errorf("%w: unknown tool id %q", domain.ErrNotFound, toolID)
}
