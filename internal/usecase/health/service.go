package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates that every check failed.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckEmpty indicates a reachable component without data.
	CheckEmpty CheckResult = "empty"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Check names.
const (
	CheckDatabase   = "database"
	CheckTopRegions = "top_regions"
)

// Report aggregates health check results.
type Report struct {
	Status     Status
	Checks     map[string]CheckResult
	TopRegions int
}

// Service coordinates health checks.
type Service struct {
	db      DBPinger
	catalog CatalogReader
}

// New creates a Service. catalog can be nil.
func New(db DBPinger, catalog CatalogReader) *Service {
	return &Service{db: db, catalog: catalog}
}

// Check runs health checks against all components. An empty catalog is not
// a failure: handlers then fetch the top regions from the map service.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	var r Report

	if err := s.db.Ping(ctx); err != nil {
		checks[CheckDatabase] = CheckError
	} else {
		checks[CheckDatabase] = CheckOK
	}

	if s.catalog != nil {
		c, err := s.catalog.Catalog(ctx)
		switch {
		case err != nil:
			checks[CheckTopRegions] = CheckError
		case c.Len() == 0:
			checks[CheckTopRegions] = CheckEmpty
		default:
			checks[CheckTopRegions] = CheckOK
			r.TopRegions = c.Len()
		}
	}

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}

	r.Status = Healthy
	switch {
	case failed == len(checks):
		r.Status = Unhealthy
	case failed > 0:
		r.Status = Degraded
	}
	r.Checks = checks
	return r
}
