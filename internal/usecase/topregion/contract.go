package topregion

import (
	"context"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
)

// Repository defines the storage contract for the top-region catalog.
type Repository interface {
	Load(ctx context.Context) (*region.Catalog, error)
	Save(ctx context.Context, regions []region.TopRegion) error
}
