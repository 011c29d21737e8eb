package topregion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
)

// DefaultRefresh is how long a loaded catalog is served before reloading.
const DefaultRefresh = 30 * time.Second

// Service serves the top-region catalog from memory, reloading it from the
// repository after the refresh interval.
type Service struct {
	repo    Repository
	refresh time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	catalog  *region.Catalog
	loadedAt time.Time
}

// New creates a catalog service. A non-positive refresh selects DefaultRefresh.
func New(repo Repository, refresh time.Duration) *Service {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Service{repo: repo, refresh: refresh, now: time.Now}
}

// Catalog returns the current catalog. When a reload fails and an older
// catalog is at hand, the older one is served.
func (s *Service) Catalog(ctx context.Context) (*region.Catalog, error) {
	s.mu.RLock()
	c, fresh := s.catalog, s.catalog != nil && s.now().Sub(s.loadedAt) < s.refresh
	s.mu.RUnlock()
	if fresh {
		return c, nil
	}

	loaded, err := s.repo.Load(ctx)
	if err != nil {
		if c != nil {
			return c, nil
		}
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	s.mu.Lock()
	s.catalog, s.loadedAt = loaded, s.now()
	s.mu.Unlock()
	return loaded, nil
}

// Replace validates and stores a new catalog.
func (s *Service) Replace(ctx context.Context, regions []region.TopRegion) (*region.Catalog, error) {
	seen := make(map[uint32]struct{}, len(regions))
	for _, r := range regions {
		if _, dup := seen[r.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate top region %d", domain.ErrInvalidRequest, r.ID())
		}
		seen[r.ID()] = struct{}{}
	}

	if err := s.repo.Save(ctx, regions); err != nil {
		return nil, fmt.Errorf("save catalog: %w", err)
	}

	c := region.NewCatalog(regions)
	s.mu.Lock()
	s.catalog, s.loadedAt = c, s.now()
	s.mu.Unlock()
	return c, nil
}
