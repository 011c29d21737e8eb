// Package match holds the hit records produced by shard searches.
package match

import (
	"fmt"
	"math"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/geo"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
)

// UnknownItem is the reserved "no item" value.
const UnknownItem = math.MaxUint32

// Kind discriminates the match variants.
type Kind uint8

// Match variants.
const (
	KindPlain Kind = iota
	KindOverview
	KindStreet
	KindRegion
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindOverview:
		return "overview"
	case KindStreet:
		return "street"
	case KindRegion:
		return "region"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a kind name back to its value.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "plain", "":
		return KindPlain, nil
	case "overview":
		return KindOverview, nil
	case "street":
		return KindStreet, nil
	case "region":
		return KindRegion, nil
	default:
		return KindPlain, fmt.Errorf("unknown match kind %q", s)
	}
}

// ID is the composite key of a match, unique within its shard.
type ID struct {
	Shard shard.ID
	Item  uint32
}

// Unknown is the sentinel id.
var Unknown = ID{Shard: shard.Unknown, Item: UnknownItem}

// Known reports whether both halves of the id are set.
func (id ID) Known() bool {
	return id.Shard != shard.Unknown && id.Item != UnknownItem
}

func (id ID) String() string {
	return fmt.Sprintf("%s:0x%x", id.Shard, id.Item)
}

// Overview is the extra data carried by an overview match.
type Overview struct {
	// Radius of the summarized area in meters.
	Radius uint32
	// EditCost is the number of characters removed to make the name match.
	EditCost uint8
	// OverviewID is the id of the match inside its overview shard. The zero
	// value is treated as Unknown since overview shards never have id 0.
	OverviewID ID
	// Full is set when the reply holding the match was a full match.
	Full bool
	// UniqueOrFull is set when the reply was a unique or full match.
	UniqueOrFull bool
}

// Street is the extra data carried by a street match.
type Street struct {
	HouseNumber uint32
	Offset      uint16
	SegmentID   uint32
}

// Match is a single hit. Kind decides which optional parts are meaningful.
type Match struct {
	kind         Kind
	id           ID
	name         string
	locationName string
	coord        geo.Coordinate
	bbox         geo.BoundingBox
	points       uint32
	restrictions uint8
	distance     uint32
	regions      []*Match
	overview     Overview
	street       Street
}

// New creates a plain match.
func New(id ID, name string) *Match {
	return &Match{kind: KindPlain, id: id, name: name, distance: geo.UnknownDistance}
}

// NewOverview creates an overview match.
func NewOverview(id ID, name string, ov Overview) *Match {
	m := New(id, name)
	m.kind = KindOverview
	m.SetOverview(ov)
	return m
}

// NewStreet creates a street match.
func NewStreet(id ID, name string, st Street) *Match {
	m := New(id, name)
	m.kind = KindStreet
	m.street = st
	return m
}

// NewRegion creates a region match.
func NewRegion(id ID, name string) *Match {
	m := New(id, name)
	m.kind = KindRegion
	return m
}

// Kind returns the match variant.
func (m *Match) Kind() Kind { return m.kind }

// ID returns the composite key.
func (m *Match) ID() ID { return m.id }

// Shard returns the shard half of the id.
func (m *Match) Shard() shard.ID { return m.id.Shard }

// Name returns the primary name.
func (m *Match) Name() string { return m.name }

// LocationName returns the name of the enclosing location.
func (m *Match) LocationName() string { return m.locationName }

// Coordinate returns the position, possibly unresolved.
func (m *Match) Coordinate() geo.Coordinate { return m.coord }

// BoundingBox returns the extent, possibly empty.
func (m *Match) BoundingBox() geo.BoundingBox { return m.bbox }

// Points returns the confidence points. Higher is better.
func (m *Match) Points() uint32 { return m.points }

// Restrictions returns the restriction mask. Zero is the best quality.
func (m *Match) Restrictions() uint8 { return m.restrictions }

// Distance returns the distance to the sort origin in meters.
func (m *Match) Distance() uint32 { return m.distance }

// Regions returns the enclosing regions.
func (m *Match) Regions() []*Match { return m.regions }

// Overview returns the overview data. Only meaningful for KindOverview.
func (m *Match) Overview() Overview { return m.overview }

// Street returns the street data. Only meaningful for KindStreet.
func (m *Match) Street() Street { return m.street }

// HasCoordinate reports whether the position is resolved.
func (m *Match) HasCoordinate() bool { return m.coord.Valid() }

// HasRegions reports whether the match may carry enclosing regions.
func (m *Match) HasRegions() bool { return m.kind != KindOverview }

// HasRestrictionMask reports whether the restriction mask is meaningful.
func (m *Match) HasRestrictionMask() bool { return m.kind == KindOverview }

// HasConfidencePoints reports whether the points are meaningful.
func (m *Match) HasConfidencePoints() bool { return m.kind != KindRegion }

// SetID replaces the composite key.
func (m *Match) SetID(id ID) { m.id = id }

// SetName sets the primary name.
func (m *Match) SetName(name string) { m.name = name }

// SetLocationName sets the enclosing location name.
func (m *Match) SetLocationName(name string) { m.locationName = name }

// SetCoordinate sets the position.
func (m *Match) SetCoordinate(c geo.Coordinate) { m.coord = c }

// SetBoundingBox sets the extent.
func (m *Match) SetBoundingBox(b geo.BoundingBox) { m.bbox = b }

// SetPoints sets the confidence points.
func (m *Match) SetPoints(p uint32) { m.points = p }

// SetRestrictions sets the restriction mask.
func (m *Match) SetRestrictions(r uint8) { m.restrictions = r }

// SetDistance sets the distance to the sort origin.
func (m *Match) SetDistance(d uint32) { m.distance = d }

// SetOverview replaces the overview data.
func (m *Match) SetOverview(ov Overview) {
	if ov.OverviewID == (ID{}) {
		ov.OverviewID = Unknown
	}
	m.overview = ov
}

// SetStreet replaces the street data.
func (m *Match) SetStreet(st Street) { m.street = st }

// AddRegion appends an enclosing region.
func (m *Match) AddRegion(r *Match) {
	if r == nil {
		return
	}
	m.regions = append(m.regions, r)
}

// DedupeRegions drops regions whose id already appeared earlier in the list.
// Returns the number of regions removed.
func (m *Match) DedupeRegions() int {
	if len(m.regions) < 2 {
		return 0
	}
	seen := make(map[ID]struct{}, len(m.regions))
	kept := m.regions[:0]
	for _, r := range m.regions {
		if _, dup := seen[r.id]; dup {
			continue
		}
		seen[r.id] = struct{}{}
		kept = append(kept, r)
	}
	removed := len(m.regions) - len(kept)
	for i := len(kept); i < len(m.regions); i++ {
		m.regions[i] = nil
	}
	m.regions = kept
	return removed
}

// Clone returns a deep copy, regions included.
func (m *Match) Clone() *Match {
	c := *m
	if len(m.regions) > 0 {
		c.regions = make([]*Match, len(m.regions))
		for i, r := range m.regions {
			c.regions[i] = r.Clone()
		}
	}
	return &c
}

func (m *Match) String() string {
	return fmt.Sprintf("%s %s %q", m.kind, m.id, m.name)
}
