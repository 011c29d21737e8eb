package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match/sorting"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/answer"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/request"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
	logpkg "github.com/wayfinder/Wayfinder-Server-sub021/internal/logger"
	healthuc "github.com/wayfinder/Wayfinder-Server-sub021/internal/usecase/health"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/wire"
)

// RightsHeader carries the caller's capability token, forwarded to shards.
const RightsHeader = "X-Wayfinder-Rights"

// Searcher runs a search to completion.
type Searcher interface {
	Search(ctx context.Context, req request.Request) (answer.Answer, error)
}

// Catalog reads and replaces the top region catalog.
type Catalog interface {
	Catalog(ctx context.Context) (*region.Catalog, error)
	Replace(ctx context.Context, regions []region.TopRegion) (*region.Catalog, error)
}

// Defaults fill search parameters the caller left out.
type Defaults struct {
	Sorting       sorting.Policy
	Hits          int
	NbrSortedHits int
	UniqueOrFull  bool
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the search API.
type Server struct {
	search        Searcher
	catalog       Catalog
	health        *healthuc.Service
	defaults      Defaults
	allowed       map[string][]shard.ID
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	search Searcher,
	catalog Catalog,
	health *healthuc.Service,
	defaults Defaults,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:   search,
		catalog:  catalog,
		health:   health,
		defaults: defaults,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrTopRegionNotFound, http.StatusNotFound, ErrorCodeNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, ErrorCodeRateLimited),
		sentinelHandler(domain.ErrShardUnreachable, http.StatusBadGateway, ErrorCodeShardUnavailable),
	}
	return s
}

// WithAllowedShards limits searches made with an API key to the given
// shards. Keys without an entry search everywhere.
func (s *Server) WithAllowedShards(byKey map[string][]shard.ID) *Server {
	s.allowed = byKey
	return s
}

// SearchPost handles POST /search.
func (s *Server) SearchPost(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	p, err := s.paramsFromBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, err.Error())
		return
	}
	s.runSearch(w, r, p)
}

// SearchGet handles GET /search. Repeated location and shard parameters
// add one entry each.
func (s *Server) SearchGet(w http.ResponseWriter, r *http.Request) {
	var (
		q         = r.URL.Query()
		body      SearchRequest
		sort      string
		hits      int
		lat, lon  float64
		topRegion uint32
	)
	binds := []struct {
		name string
		dest any
	}{
		{"q", &body.Query},
		{"location", &body.Locations},
		{"shard", &body.Shards},
		{"top_region", &topRegion},
		{"sort", &sort},
		{"hits", &hits},
		{"lat", &lat},
		{"lon", &lon},
		{"lang", &body.Language},
		{"coords", &body.LookupCoordinates},
		{"bbox", &body.LookupBBoxes},
		{"regions", &body.Regions},
		{"unique", &body.UniqueOrFull},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, q, b.dest); err != nil {
			writeError(w, http.StatusBadRequest, ErrorCodeBadRequest,
				fmt.Sprintf("Invalid format for parameter %s", b.name))
			return
		}
	}

	body.TopRegion = topRegion
	body.Sorting = sort
	if q.Has("hits") {
		body.Hits = &hits
	}
	if q.Has("lat") != q.Has("lon") {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "lat and lon must be given together")
		return
	}
	if q.Has("lat") {
		body.Origin = &wire.Coordinate{Lat: lat, Lon: lon}
	}

	p, err := s.paramsFromBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, err.Error())
		return
	}
	s.runSearch(w, r, p)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, p request.Params) {
	p.Rights = r.Header.Get(RightsHeader)
	if ids, ok := s.allowed[APIKeyFromContext(r.Context())]; ok {
		p.AllowedShards = ids
	}
	req, err := request.New(p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	start := time.Now()
	ans, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, answerHTTPStatus(ans.Status()), SearchResponse{
		Answer: wire.FromAnswer(ans),
		TookMs: time.Since(start).Milliseconds(),
	})
}

// answerHTTPStatus maps a finished answer to a response code. Empty results
// are still a successful search.
func answerHTTPStatus(code status.Code) int {
	switch code {
	case status.OK, status.NotFound:
		return http.StatusOK
	case status.OutsideAllowedArea:
		return http.StatusForbidden
	case status.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) paramsFromBody(body SearchRequest) (request.Params, error) {
	p := request.Params{
		Query:                    body.Query,
		Locations:                body.Locations,
		TopRegion:                body.TopRegion,
		Sorting:                  s.defaults.Sorting,
		NbrHits:                  s.defaults.Hits,
		NbrSortedHits:            s.defaults.NbrSortedHits,
		UniqueOrFull:             body.UniqueOrFull || s.defaults.UniqueOrFull,
		SearchOnlyIfUniqueOrFull: body.SearchOnlyIfUniqueOrFull,
		LookupCoordinates:        body.LookupCoordinates,
		LookupBBoxes:             body.LookupBBoxes,
		DisableCityCenter:        body.DisableCityCenter,
		Regions:                  body.Regions,
		Language:                 body.Language,
		EditDistanceCutoff:       body.EditDistanceCutoff,
	}
	if body.Sorting != "" {
		policy, err := sorting.ParsePolicy(body.Sorting)
		if err != nil {
			return request.Params{}, fmt.Errorf("sorting: %w", err)
		}
		p.Sorting = policy
	}
	if body.Hits != nil {
		p.NbrHits = *body.Hits
	}
	if body.SortedHits != nil {
		p.NbrSortedHits = *body.SortedHits
	}
	if body.Origin != nil {
		p.Origin = &request.GeoQuery{Latitude: body.Origin.Lat, Longitude: body.Origin.Lon}
	}
	for _, raw := range body.Shards {
		id, err := shard.Parse(raw)
		if err != nil {
			return request.Params{}, err
		}
		p.Shards = append(p.Shards, id)
	}
	for _, m := range body.Masks {
		id, err := shard.Parse(m.Shard)
		if err != nil {
			return request.Params{}, fmt.Errorf("mask: %w", err)
		}
		p.Masks = append(p.Masks, request.Mask{Shard: id, Item: m.Item, Name: m.Name})
	}
	return p, nil
}

// ListTopRegions handles GET /top-regions.
func (s *Server) ListTopRegions(w http.ResponseWriter, r *http.Request) {
	cat, err := s.catalog.Catalog(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TopRegionsResponse{Regions: wire.FromTopRegions(cat.All())})
}

// ReplaceTopRegions handles PUT /top-regions.
func (s *Server) ReplaceTopRegions(w http.ResponseWriter, r *http.Request) {
	var body TopRegionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	regions, err := wire.ToTopRegions(body.Regions)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, err.Error())
		return
	}

	cat, err := s.catalog.Replace(r.Context(), regions)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	logpkg.FromContext(r.Context()).Info("top regions replaced", zap.Int("count", cat.Len()))
	writeJSON(w, http.StatusOK, TopRegionsResponse{Regions: wire.FromTopRegions(cat.All())})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:     string(report.Status),
		Checks:     checks,
		TopRegions: report.TopRegions,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrTopRegionNotFound,
		domain.ErrNotFound,
		domain.ErrRateLimited,
		domain.ErrShardUnreachable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			if errors.Is(err, domain.ErrInvalidRequest) {
				// validation messages are built from caller input
				return err.Error()
			}
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	logpkg.FromContextOr(r.Context(), s.logger).Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
