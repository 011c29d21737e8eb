package topregion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/db"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/wire"
)

// DefaultKey is where the catalog document lives.
const DefaultKey = domain.KeyPrefix + "top_regions"

// store is the consumer interface for the catalog (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
}

// document is the stored shape of the catalog.
type document struct {
	Regions []wire.TopRegion `json:"regions"`
}

// Repo persists the top-region catalog as one JSON document.
type Repo struct {
	store store
	key   string
}

// New creates a catalog repository. An empty key selects DefaultKey.
func New(s store, key string) *Repo {
	if key == "" {
		key = DefaultKey
	}
	return &Repo{store: s, key: key}
}

// Load returns the stored catalog. A missing document is an empty catalog.
func (r *Repo) Load(ctx context.Context) (*region.Catalog, error) {
	data, err := r.store.JSONGet(ctx, r.key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return region.NewCatalog(nil), nil
		}
		return nil, fmt.Errorf("get top regions: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode top regions: %w", err)
	}
	regions, err := wire.ToTopRegions(doc.Regions)
	if err != nil {
		return nil, fmt.Errorf("decode top regions: %w", err)
	}
	return region.NewCatalog(regions), nil
}

// Save replaces the stored catalog.
func (r *Repo) Save(ctx context.Context, regions []region.TopRegion) error {
	data, err := json.Marshal(document{Regions: wire.FromTopRegions(regions)})
	if err != nil {
		return fmt.Errorf("encode top regions: %w", err)
	}
	if err := r.store.JSONSet(ctx, r.key, "$", data); err != nil {
		return fmt.Errorf("set top regions: %w", err)
	}
	return nil
}
