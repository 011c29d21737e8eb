package health

import (
	"context"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
)

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// CatalogReader loads the top-region catalog.
type CatalogReader interface {
	Catalog(ctx context.Context) (*region.Catalog, error)
}
