package request

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/geo"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match/sorting"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 255
	MaxLocations   = 8
	DefaultHits    = 20
	MaxHits        = 500
	// DefaultEditCutoff is the edit distance above which shards drop a hit.
	DefaultEditCutoff = 2
)

// GeoQuery holds parsed latitude/longitude of the sort origin.
type GeoQuery struct {
	Latitude  float64
	Longitude float64
}

// Mask is an overview match already known from an earlier answer. Requests
// carrying masks refine that answer instead of searching the overview shards.
type Mask struct {
	Shard shard.ID
	Item  uint32
	Name  string
}

// Params are the raw search parameters, before validation.
type Params struct {
	Query     string
	Locations []string
	Shards    []shard.ID
	Masks     []Mask
	TopRegion uint32

	Sorting       sorting.Policy
	NbrHits       int
	NbrSortedHits int
	Origin        *GeoQuery

	UniqueOrFull             bool
	SearchOnlyIfUniqueOrFull bool
	LookupCoordinates        bool
	LookupBBoxes             bool
	DisableCityCenter        bool
	Regions                  bool

	Language           string
	EditDistanceCutoff uint8

	// AllowedShards limits the shards the caller may search. Empty allows all.
	AllowedShards []shard.ID
	// Rights is the caller's capability token, forwarded to every shard untouched.
	Rights string
}

// Request is a validated search.
type Request struct {
	p      Params
	origin geo.Coordinate
}

// New validates and normalizes search parameters.
// Defaults: hits=20, sorted hits=hits, edit cutoff=2.
func New(p Params) (Request, error) {
	p.Query = strings.TrimSpace(p.Query)
	if len(p.Query) > MaxQueryLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidRequest, MaxQueryLength)
	}
	locations := make([]string, 0, len(p.Locations))
	for _, l := range p.Locations {
		if l = strings.TrimSpace(l); l != "" {
			locations = append(locations, l)
		}
	}
	p.Locations = locations
	if len(p.Locations) > MaxLocations {
		return Request{}, fmt.Errorf("%w: too many locations (max %d)", domain.ErrInvalidRequest, MaxLocations)
	}
	if len(p.Locations) == 0 && len(p.Masks) == 0 && len(p.Shards) == 0 {
		return Request{}, fmt.Errorf("%w: location, shard or mask is required", domain.ErrInvalidRequest)
	}
	if len(p.Locations) > 0 && len(p.Masks) == 0 && p.TopRegion == 0 {
		return Request{}, fmt.Errorf("%w: top_region is required with locations", domain.ErrInvalidRequest)
	}
	for _, m := range p.Masks {
		if m.Shard == shard.Unknown || m.Item == match.UnknownItem {
			return Request{}, fmt.Errorf("%w: mask must name a shard and an item", domain.ErrInvalidRequest)
		}
	}
	if !p.Sorting.IsValid() {
		return Request{}, fmt.Errorf("%w: invalid sorting: %s", domain.ErrInvalidRequest, p.Sorting)
	}
	if p.NbrHits <= 0 {
		p.NbrHits = DefaultHits
	}
	if p.NbrHits > MaxHits {
		p.NbrHits = MaxHits
	}
	if p.NbrSortedHits <= 0 || p.NbrSortedHits > p.NbrHits {
		p.NbrSortedHits = p.NbrHits
	}
	if p.EditDistanceCutoff == 0 {
		p.EditDistanceCutoff = DefaultEditCutoff
	}

	var origin geo.Coordinate
	if p.Origin != nil {
		if !geo.ValidateCoordinates(p.Origin.Latitude, p.Origin.Longitude) {
			return Request{}, fmt.Errorf("%w: origin out of range", domain.ErrInvalidRequest)
		}
		origin = geo.NewCoordinate(p.Origin.Latitude, p.Origin.Longitude)
	}

	p.Shards = uniqueShards(p.Shards)
	p.AllowedShards = uniqueShards(p.AllowedShards)
	return Request{p: p, origin: origin}, nil
}

func uniqueShards(ids []shard.ID) []shard.ID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]shard.ID, 0, len(ids))
	for _, id := range ids {
		if id != shard.Unknown && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Query returns the search text.
func (r *Request) Query() string { return r.p.Query }

// Locations returns the free-text location terms.
func (r *Request) Locations() []string { return r.p.Locations }

// Shards returns the explicitly requested shards.
func (r *Request) Shards() []shard.ID { return r.p.Shards }

// Masks returns the known overview matches.
func (r *Request) Masks() []Mask { return r.p.Masks }

// TopRegion returns the id of the top region the locations belong to.
func (r *Request) TopRegion() uint32 { return r.p.TopRegion }

// Sorting returns the requested ordering.
func (r *Request) Sorting() sorting.Policy { return r.p.Sorting }

// NbrHits returns the maximum number of matches in the answer.
func (r *Request) NbrHits() int { return r.p.NbrHits }

// NbrSortedHits returns how many leading matches must be ordered.
func (r *Request) NbrSortedHits() int { return r.p.NbrSortedHits }

// Origin returns the sort origin, unresolved when none was given.
func (r *Request) Origin() geo.Coordinate { return r.origin }

// UniqueOrFull reports whether shards should only return unique or full hits.
func (r *Request) UniqueOrFull() bool { return r.p.UniqueOrFull }

// SearchOnlyIfUniqueOrFull reports whether the search phase requires a
// single overview match.
func (r *Request) SearchOnlyIfUniqueOrFull() bool { return r.p.SearchOnlyIfUniqueOrFull }

// LookupBBoxes reports whether bounding boxes are requested.
func (r *Request) LookupBBoxes() bool { return r.p.LookupBBoxes }

// NeedsCoordinates reports whether the coordinate phase must run.
func (r *Request) NeedsCoordinates() bool {
	return r.p.LookupCoordinates || r.p.LookupBBoxes ||
		(r.origin.Valid() && r.p.Sorting == sorting.Distance)
}

// ExpandCityCenter reports whether an empty search may fall back to the
// center of the single overview match.
func (r *Request) ExpandCityCenter() bool { return !r.p.DisableCityCenter }

// Regions reports whether matches should carry their enclosing regions.
func (r *Request) Regions() bool { return r.p.Regions }

// Language returns the preferred name language.
func (r *Request) Language() string { return r.p.Language }

// EditDistanceCutoff returns the maximum edit distance shards accept.
func (r *Request) EditDistanceCutoff() uint8 { return r.p.EditDistanceCutoff }

// Rights returns the caller's capability token.
func (r *Request) Rights() string { return r.p.Rights }

// Permits reports whether the caller may search id.
func (r *Request) Permits(id shard.ID) bool {
	return len(r.p.AllowedShards) == 0 || slices.Contains(r.p.AllowedShards, id)
}

// CacheKey returns a stable string identifying the request's semantics.
func (r *Request) CacheKey() string {
	var b strings.Builder
	field := func(k, v string) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(v))
		b.WriteByte(';')
	}
	field("q", strings.ToLower(r.p.Query))
	field("loc", strings.ToLower(strings.Join(r.p.Locations, "\x1f")))
	field("shards", joinShards(r.p.Shards))
	masks := make([]string, len(r.p.Masks))
	for i, m := range r.p.Masks {
		masks[i] = match.ID{Shard: m.Shard, Item: m.Item}.String()
	}
	field("masks", strings.Join(masks, ","))
	field("top", strconv.FormatUint(uint64(r.p.TopRegion), 10))
	field("sort", r.p.Sorting.String())
	field("hits", strconv.Itoa(r.p.NbrHits)+"/"+strconv.Itoa(r.p.NbrSortedHits))
	field("origin", r.origin.String())
	field("flags", fmt.Sprintf("%t%t%t%t%t%t",
		r.p.UniqueOrFull, r.p.SearchOnlyIfUniqueOrFull, r.p.LookupCoordinates,
		r.p.LookupBBoxes, r.p.DisableCityCenter, r.p.Regions))
	field("lang", r.p.Language)
	field("edit", strconv.Itoa(int(r.p.EditDistanceCutoff)))
	field("allowed", joinShards(r.p.AllowedShards))
	field("rights", r.p.Rights)
	return b.String()
}

func joinShards(ids []shard.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
