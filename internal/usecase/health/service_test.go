package health

import (
	"context"
	"errors"
	"testing"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
)

// --- Mocks ---

type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping(_ context.Context) error { return m.err }

type mockCatalogReader struct {
	catalog *region.Catalog
	err     error
}

func (m *mockCatalogReader) Catalog(_ context.Context) (*region.Catalog, error) {
	return m.catalog, m.err
}

func oneRegion(t *testing.T) *region.Catalog {
	t.Helper()
	r, err := region.New(1, "Sverige", nil)
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	return region.NewCatalog([]region.TopRegion{r})
}

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockDBPinger{}, &mockCatalogReader{catalog: oneRegion(t)})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if r.Checks[CheckDatabase] != CheckOK {
		t.Errorf("expected database %q, got %q", CheckOK, r.Checks[CheckDatabase])
	}
	if r.Checks[CheckTopRegions] != CheckOK {
		t.Errorf("expected top_regions %q, got %q", CheckOK, r.Checks[CheckTopRegions])
	}
	if r.TopRegions != 1 {
		t.Errorf("expected 1 top region, got %d", r.TopRegions)
	}
}

func TestCheck_DBError(t *testing.T) {
	svc := New(&mockDBPinger{err: errors.New("conn refused")}, &mockCatalogReader{catalog: oneRegion(t)})
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks[CheckDatabase] != CheckError {
		t.Errorf("expected database %q, got %q", CheckError, r.Checks[CheckDatabase])
	}
}

func TestCheck_EmptyCatalogIsHealthy(t *testing.T) {
	svc := New(&mockDBPinger{}, &mockCatalogReader{catalog: region.NewCatalog(nil)})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if r.Checks[CheckTopRegions] != CheckEmpty {
		t.Errorf("expected top_regions %q, got %q", CheckEmpty, r.Checks[CheckTopRegions])
	}
}

func TestCheck_BothFail(t *testing.T) {
	svc := New(
		&mockDBPinger{err: errors.New("db down")},
		&mockCatalogReader{err: errors.New("db down")},
	)
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
}

func TestCheck_NoCatalog(t *testing.T) {
	svc := New(&mockDBPinger{}, nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if _, ok := r.Checks[CheckTopRegions]; ok {
		t.Error("top_regions check should be absent when catalog is nil")
	}
}

func TestCheck_NoCatalog_DBError(t *testing.T) {
	svc := New(&mockDBPinger{err: errors.New("fail")}, nil)
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
}
