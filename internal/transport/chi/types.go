package chi

import "github.com/wayfinder/Wayfinder-Server-sub021/internal/wire"

// ErrorCode is a machine-readable error class.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest       ErrorCode = "bad_request"
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeValidationFailed ErrorCode = "validation_failed"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeRateLimited      ErrorCode = "rate_limited"
	ErrorCodeShardUnavailable ErrorCode = "shard_unavailable"
	ErrorCodeInternalError    ErrorCode = "internal_error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// MaskRequest names an overview item found by an earlier search.
type MaskRequest struct {
	Shard string `json:"shard"`
	Item  uint32 `json:"item"`
	Name  string `json:"name,omitempty"`
}

// SearchRequest is the body of POST /search. Shard ids are decimal or
// 0x-prefixed hex strings.
type SearchRequest struct {
	Query                    string           `json:"query"`
	Locations                []string         `json:"locations,omitempty"`
	Shards                   []string         `json:"shards,omitempty"`
	Masks                    []MaskRequest    `json:"masks,omitempty"`
	TopRegion                uint32           `json:"top_region,omitempty"`
	Sorting                  string           `json:"sorting,omitempty"`
	Hits                     *int             `json:"hits,omitempty"`
	SortedHits               *int             `json:"sorted_hits,omitempty"`
	Origin                   *wire.Coordinate `json:"origin,omitempty"`
	UniqueOrFull             bool             `json:"unique_or_full,omitempty"`
	SearchOnlyIfUniqueOrFull bool             `json:"search_only_if_unique_or_full,omitempty"`
	LookupCoordinates        bool             `json:"lookup_coordinates,omitempty"`
	LookupBBoxes             bool             `json:"lookup_bboxes,omitempty"`
	DisableCityCenter        bool             `json:"disable_city_center,omitempty"`
	Regions                  bool             `json:"regions,omitempty"`
	Language                 string           `json:"language,omitempty"`
	EditDistanceCutoff       uint8            `json:"edit_distance_cutoff,omitempty"`
}

// SearchResponse is a finished search.
type SearchResponse struct {
	wire.Answer
	TookMs int64 `json:"took_ms"`
}

// TopRegionsRequest is the body of PUT /top-regions.
type TopRegionsRequest struct {
	Regions []wire.TopRegion `json:"regions"`
}

// TopRegionsResponse lists the catalog.
type TopRegionsResponse struct {
	Regions []wire.TopRegion `json:"regions"`
}

// HealthResponse reports component health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Checks     map[string]string `json:"checks"`
	TopRegions int               `json:"top_regions"`
}
