// Package shardmsg defines the requests sent to shard services and their replies.
//
// Both are closed sum types: every variant embeds Header (and replies also
// ReplyHeader) and implements an unexported marker method, so consumers can
// switch over the concrete pointer types exhaustively.
package shardmsg

import (
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/geo"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match/sorting"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
)

// Kind tags a request and the reply it produces.
type Kind string

// Message kinds.
const (
	KindOverviewSearch Kind = "overview_search"
	KindSearch         Kind = "search"
	KindExpandItem     Kind = "expand_item"
	KindMatchInfo      Kind = "match_info"
	KindCoordinate     Kind = "coordinate"
	KindTopRegion      Kind = "top_region"
)

// IsValid checks if the kind is one of the supported values.
func (k Kind) IsValid() bool {
	switch k {
	case KindOverviewSearch, KindSearch, KindExpandItem, KindMatchInfo, KindCoordinate, KindTopRegion:
		return true
	}
	return false
}

// Rights is an opaque capability token. Shards enforce it; the search core
// only forwards it.
type Rights string

// Header addresses a message to one shard of one service.
type Header struct {
	RequestID uint32
	QueryID   uint64
	Shard     shard.ID
	Target    shard.Target
	Rights    Rights
}

// Head returns the header.
func (h Header) Head() Header { return h }

// Request is a per-shard request.
type Request interface {
	Head() Header
	Kind() Kind
	isRequest()
}

// ReplyHeader is the header plus the shard's outcome.
type ReplyHeader struct {
	Header
	Code status.Code
}

// Status returns the shard's outcome.
func (h ReplyHeader) Status() status.Code {
	if h.Code == "" {
		return status.OK
	}
	return h.Code
}

// Reply is a per-shard reply.
type Reply interface {
	Head() Header
	Kind() Kind
	Status() status.Code
	isReply()
}

// QueryParams is the part of a search request a shard needs to run it.
type QueryParams struct {
	Query              string
	Locations          []string
	Sorting            sorting.Policy
	NbrHits            int
	EditDistanceCutoff uint8
	UniqueOrFull       bool
	Regions            bool
	Language           string
}

// OverviewSearchRequest searches an overview shard for location candidates.
type OverviewSearchRequest struct {
	Header
	Params QueryParams
}

// SearchRequest searches an underview shard, limited to the given regions.
type SearchRequest struct {
	Header
	Params QueryParams
	// Regions are the expanded overview matches in this shard. Empty means
	// the whole shard.
	Regions []match.ID
	Origin  geo.Coordinate
}

// Direction selects the id space an expand request translates into.
type Direction string

// Directions.
const (
	// Expand translates overview ids into underview ids.
	Expand Direction = "expand"
	// Unexpand translates underview ids into overview ids.
	Unexpand Direction = "unexpand"
)

// SelfRegion in ExpandItem.Region addresses the match itself instead of one
// of its regions.
const SelfRegion = -1

// ExpandItem is one id to translate. Index and Region are opaque to the
// shard and echoed back.
type ExpandItem struct {
	Index  int
	Region int
	ID     match.ID
}

// ExpandItemRequest translates ids between overview and underview shards.
type ExpandItemRequest struct {
	Header
	Direction Direction
	Items     []ExpandItem
}

// MatchInfoRequest asks for house-number and region fixups of matches.
type MatchInfoRequest struct {
	Header
	Matches  []match.ID
	Regions  bool
	Language string
}

// CoordinateItem is one item whose position is wanted. Offset selects a
// point along a street; the maximum value asks for the best representative point.
type CoordinateItem struct {
	Index  int
	Item   uint32
	Offset uint16
}

// CoordinateRequest asks a map shard for item positions.
type CoordinateRequest struct {
	Header
	Items []CoordinateItem
	BBox  bool
}

// TopRegionRequest asks the map service for the top-region catalog.
type TopRegionRequest struct {
	Header
	Language string
}

func (*OverviewSearchRequest) Kind() Kind { return KindOverviewSearch }
func (*SearchRequest) Kind() Kind         { return KindSearch }
func (*ExpandItemRequest) Kind() Kind     { return KindExpandItem }
func (*MatchInfoRequest) Kind() Kind      { return KindMatchInfo }
func (*CoordinateRequest) Kind() Kind     { return KindCoordinate }
func (*TopRegionRequest) Kind() Kind      { return KindTopRegion }

func (*OverviewSearchRequest) isRequest() {}
func (*SearchRequest) isRequest()         {}
func (*ExpandItemRequest) isRequest()     {}
func (*MatchInfoRequest) isRequest()      {}
func (*CoordinateRequest) isRequest()     {}
func (*TopRegionRequest) isRequest()      {}

// OverviewSearchReply carries overview matches. Full and UniqueOrFull
// describe the reply as a whole.
type OverviewSearchReply struct {
	ReplyHeader
	Matches      []*match.Match
	Full         bool
	UniqueOrFull bool
}

// SearchReply carries the matches of one shard, sorted by the requested policy.
type SearchReply struct {
	ReplyHeader
	Matches []*match.Match
	// EmptyLocation is set when none of the location terms matched any name
	// inside the searched regions.
	EmptyLocation bool
}

// ExpandedItem is a translated id.
type ExpandedItem struct {
	Index  int
	Region int
	ID     match.ID
	Name   string
	Coord  geo.Coordinate
}

// ExpandItemReply carries translated ids. An item may expand into several.
type ExpandItemReply struct {
	ReplyHeader
	Items []ExpandedItem
}

// Fixup enriches one match after the search.
type Fixup struct {
	ID           match.ID
	LocationName string
	Coord        geo.Coordinate
	Street       *match.Street
	Regions      []*match.Match
}

// MatchInfoReply carries fixups for the matches of one search reply.
type MatchInfoReply struct {
	ReplyHeader
	Fixups []Fixup
}

// CoordinateResult is the position of one requested item.
type CoordinateResult struct {
	Index int
	Item  uint32
	Coord geo.Coordinate
	BBox  geo.BoundingBox
}

// CoordinateReply carries item positions.
type CoordinateReply struct {
	ReplyHeader
	Items []CoordinateResult
}

// TopRegionReply carries the top-region catalog.
type TopRegionReply struct {
	ReplyHeader
	Regions []region.TopRegion
}

func (*OverviewSearchReply) Kind() Kind { return KindOverviewSearch }
func (*SearchReply) Kind() Kind         { return KindSearch }
func (*ExpandItemReply) Kind() Kind     { return KindExpandItem }
func (*MatchInfoReply) Kind() Kind      { return KindMatchInfo }
func (*CoordinateReply) Kind() Kind     { return KindCoordinate }
func (*TopRegionReply) Kind() Kind      { return KindTopRegion }

func (*OverviewSearchReply) isReply() {}
func (*SearchReply) isReply()         {}
func (*ExpandItemReply) isReply()     {}
func (*MatchInfoReply) isReply()      {}
func (*CoordinateReply) isReply()     {}
func (*TopRegionReply) isReply()      {}

// Apply copies the fixups onto the matches with the same id and returns how
// many matches were changed.
func (r *MatchInfoReply) Apply(ms []*match.Match) int {
	if len(r.Fixups) == 0 {
		return 0
	}
	byID := make(map[match.ID]*Fixup, len(r.Fixups))
	for i := range r.Fixups {
		byID[r.Fixups[i].ID] = &r.Fixups[i]
	}
	n := 0
	for _, m := range ms {
		f, ok := byID[m.ID()]
		if !ok {
			continue
		}
		if f.LocationName != "" {
			m.SetLocationName(f.LocationName)
		}
		if f.Coord.Valid() && !m.HasCoordinate() {
			m.SetCoordinate(f.Coord)
		}
		if f.Street != nil && m.Kind() == match.KindStreet {
			m.SetStreet(*f.Street)
		}
		if m.HasRegions() {
			for _, reg := range f.Regions {
				m.AddRegion(reg.Clone())
			}
		}
		n++
	}
	return n
}

// FailureFor builds the reply a shard would have sent had req failed with code.
func FailureFor(req Request, code status.Code) Reply {
	h := ReplyHeader{Header: req.Head(), Code: code}
	switch req.(type) {
	case *OverviewSearchRequest:
		return &OverviewSearchReply{ReplyHeader: h}
	case *SearchRequest:
		return &SearchReply{ReplyHeader: h}
	case *ExpandItemRequest:
		return &ExpandItemReply{ReplyHeader: h}
	case *MatchInfoRequest:
		return &MatchInfoReply{ReplyHeader: h}
	case *CoordinateRequest:
		return &CoordinateReply{ReplyHeader: h}
	case *TopRegionRequest:
		return &TopRegionReply{ReplyHeader: h}
	default:
		return nil
	}
}

// IDSource allocates request ids within one query.
type IDSource interface {
	NextRequestID() uint32
	QueryID() uint64
}

// Sequence is an IDSource counting up from 1. It is owned by one query and
// not safe for concurrent use.
type Sequence struct {
	queryID uint64
	next    uint32
}

// NewSequence creates a sequence for queryID.
func NewSequence(queryID uint64) *Sequence {
	return &Sequence{queryID: queryID}
}

// NextRequestID returns the next request id.
func (s *Sequence) NextRequestID() uint32 {
	s.next++
	return s.next
}

// QueryID returns the id of the owning query.
func (s *Sequence) QueryID() uint64 { return s.queryID }
