// Package wire holds the JSON representations shared by the HTTP API, the
// shard services and the stores.
package wire

import (
	"fmt"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/geo"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/answer"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BBox is an axis-aligned box in degrees.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// ID is a match id.
type ID struct {
	Shard uint32 `json:"shard"`
	Item  uint32 `json:"item"`
}

// Overview is the overview part of a match.
type Overview struct {
	Radius       uint32 `json:"radius"`
	EditCost     uint8  `json:"edit_cost,omitempty"`
	OverviewID   *ID    `json:"overview_id,omitempty"`
	Full         bool   `json:"full,omitempty"`
	UniqueOrFull bool   `json:"unique_or_full,omitempty"`
}

// Street is the street part of a match.
type Street struct {
	HouseNumber uint32 `json:"house_number,omitempty"`
	Offset      uint16 `json:"offset,omitempty"`
	SegmentID   uint32 `json:"segment_id,omitempty"`
}

// Match is a single hit.
type Match struct {
	Kind         string      `json:"kind"`
	ID           ID          `json:"id"`
	Name         string      `json:"name"`
	LocationName string      `json:"location_name,omitempty"`
	Coord        *Coordinate `json:"coord,omitempty"`
	BBox         *BBox       `json:"bbox,omitempty"`
	Points       uint32      `json:"points,omitempty"`
	Restrictions uint8       `json:"restrictions,omitempty"`
	Distance     *uint32     `json:"distance,omitempty"`
	Regions      []Match     `json:"regions,omitempty"`
	Overview     *Overview   `json:"overview,omitempty"`
	Street       *Street     `json:"street,omitempty"`
}

// Answer is a finished search.
type Answer struct {
	Status          string  `json:"status"`
	Matches         []Match `json:"matches"`
	OverviewMatches []Match `json:"overview_matches,omitempty"`
}

// TreeShard is one shard of a region tree. Parent is absent for top-level shards.
type TreeShard struct {
	Shard  uint32  `json:"shard"`
	Parent *uint32 `json:"parent,omitempty"`
	Whole  bool    `json:"whole,omitempty"`
}

// TopRegion is a catalog entry.
type TopRegion struct {
	ID     uint32      `json:"id"`
	Name   string      `json:"name"`
	Shards []TreeShard `json:"shards"`
}

// FromID converts a match id.
func FromID(id match.ID) ID { return ID{Shard: uint32(id.Shard), Item: id.Item} }

// ToID converts back to a match id.
func (id ID) ToID() match.ID { return match.ID{Shard: shard.ID(id.Shard), Item: id.Item} }

// FromIDs converts a list of match ids.
func FromIDs(ids []match.ID) []ID {
	out := make([]ID, len(ids))
	for i, id := range ids {
		out[i] = FromID(id)
	}
	return out
}

// ToIDs converts a list back.
func ToIDs(ws []ID) []match.ID {
	if len(ws) == 0 {
		return nil
	}
	out := make([]match.ID, len(ws))
	for i, w := range ws {
		out[i] = w.ToID()
	}
	return out
}

// FromStreet converts street data.
func FromStreet(st match.Street) *Street {
	return &Street{HouseNumber: st.HouseNumber, Offset: st.Offset, SegmentID: st.SegmentID}
}

// ToStreet converts back; nil becomes zero street data.
func (w *Street) ToStreet() match.Street {
	if w == nil {
		return match.Street{}
	}
	return match.Street{HouseNumber: w.HouseNumber, Offset: w.Offset, SegmentID: w.SegmentID}
}

// FromCoordinate converts a coordinate; unresolved ones become nil.
func FromCoordinate(c geo.Coordinate) *Coordinate {
	if !c.Valid() {
		return nil
	}
	return &Coordinate{Lat: c.Lat, Lon: c.Lon}
}

// ToCoordinate converts back; nil becomes an unresolved coordinate.
func (c *Coordinate) ToCoordinate() geo.Coordinate {
	if c == nil {
		return geo.Coordinate{}
	}
	return geo.NewCoordinate(c.Lat, c.Lon)
}

// FromBBox converts a box; empty ones become nil.
func FromBBox(b geo.BoundingBox) *BBox {
	if !b.Valid() {
		return nil
	}
	return &BBox{MinLat: b.MinLat, MinLon: b.MinLon, MaxLat: b.MaxLat, MaxLon: b.MaxLon}
}

// ToBBox converts back; nil becomes an empty box.
func (b *BBox) ToBBox() geo.BoundingBox {
	if b == nil {
		return geo.BoundingBox{}
	}
	return geo.NewBoundingBox(b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// FromMatch converts a domain match.
func FromMatch(m *match.Match) Match {
	w := Match{
		Kind:         m.Kind().String(),
		ID:           FromID(m.ID()),
		Name:         m.Name(),
		LocationName: m.LocationName(),
		Coord:        FromCoordinate(m.Coordinate()),
		BBox:         FromBBox(m.BoundingBox()),
		Points:       m.Points(),
		Restrictions: m.Restrictions(),
		Regions:      FromMatches(m.Regions()),
	}
	if d := m.Distance(); d != geo.UnknownDistance {
		w.Distance = &d
	}
	switch m.Kind() {
	case match.KindOverview:
		ov := m.Overview()
		w.Overview = &Overview{
			Radius:       ov.Radius,
			EditCost:     ov.EditCost,
			Full:         ov.Full,
			UniqueOrFull: ov.UniqueOrFull,
		}
		if ov.OverviewID.Known() {
			id := FromID(ov.OverviewID)
			w.Overview.OverviewID = &id
		}
	case match.KindStreet:
		w.Street = FromStreet(m.Street())
	}
	return w
}

// ToMatch converts back to a domain match.
func (w Match) ToMatch() (*match.Match, error) {
	kind, err := match.ParseKind(w.Kind)
	if err != nil {
		return nil, err
	}
	id := w.ID.ToID()

	var m *match.Match
	switch kind {
	case match.KindOverview:
		ov := match.Overview{OverviewID: match.Unknown}
		if w.Overview != nil {
			ov.Radius = w.Overview.Radius
			ov.EditCost = w.Overview.EditCost
			ov.Full = w.Overview.Full
			ov.UniqueOrFull = w.Overview.UniqueOrFull
			if w.Overview.OverviewID != nil {
				ov.OverviewID = w.Overview.OverviewID.ToID()
			}
		}
		m = match.NewOverview(id, w.Name, ov)
	case match.KindStreet:
		m = match.NewStreet(id, w.Name, w.Street.ToStreet())
	case match.KindRegion:
		m = match.NewRegion(id, w.Name)
	default:
		m = match.New(id, w.Name)
	}

	m.SetLocationName(w.LocationName)
	m.SetCoordinate(w.Coord.ToCoordinate())
	m.SetBoundingBox(w.BBox.ToBBox())
	m.SetPoints(w.Points)
	m.SetRestrictions(w.Restrictions)
	if w.Distance != nil {
		m.SetDistance(*w.Distance)
	}
	for i, r := range w.Regions {
		rm, err := r.ToMatch()
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		m.AddRegion(rm)
	}
	return m, nil
}

// FromMatches converts a list of matches. Nil stays nil.
func FromMatches(ms []*match.Match) []Match {
	if ms == nil {
		return nil
	}
	out := make([]Match, len(ms))
	for i, m := range ms {
		out[i] = FromMatch(m)
	}
	return out
}

// ToMatches converts a list back.
func ToMatches(ws []Match) ([]*match.Match, error) {
	if ws == nil {
		return nil, nil
	}
	out := make([]*match.Match, len(ws))
	for i, w := range ws {
		m, err := w.ToMatch()
		if err != nil {
			return nil, fmt.Errorf("match %d: %w", i, err)
		}
		out[i] = m
	}
	return out, nil
}

// FromAnswer converts an answer.
func FromAnswer(a answer.Answer) Answer {
	matches := FromMatches(a.Matches())
	if matches == nil {
		matches = []Match{}
	}
	return Answer{
		Status:          string(a.Status()),
		Matches:         matches,
		OverviewMatches: FromMatches(a.OverviewMatches()),
	}
}

// ToAnswer converts back to a domain answer.
func (w Answer) ToAnswer() (answer.Answer, error) {
	code := status.Code(w.Status)
	if !code.IsValid() {
		return answer.Answer{}, fmt.Errorf("unknown status %q", w.Status)
	}
	matches, err := ToMatches(w.Matches)
	if err != nil {
		return answer.Answer{}, err
	}
	overview, err := ToMatches(w.OverviewMatches)
	if err != nil {
		return answer.Answer{}, fmt.Errorf("overview: %w", err)
	}
	return answer.New(code, matches, overview), nil
}

// FromTopRegion converts a catalog entry.
func FromTopRegion(r region.TopRegion) TopRegion {
	tree := r.Tree()
	out := TopRegion{ID: r.ID(), Name: r.Name(), Shards: []TreeShard{}}
	for _, id := range tree.Shards() {
		ts := TreeShard{Shard: uint32(id), Whole: tree.IsWhole(id)}
		if p, ok := tree.Parent(id); ok {
			parent := uint32(p)
			ts.Parent = &parent
		}
		out.Shards = append(out.Shards, ts)
	}
	return out
}

// ToTopRegion converts back to a catalog entry.
func (w TopRegion) ToTopRegion() (region.TopRegion, error) {
	tree := region.NewTree()
	for _, ts := range w.Shards {
		id := shard.ID(ts.Shard)
		if id == shard.Unknown {
			return region.TopRegion{}, fmt.Errorf("top region %d: reserved shard id", w.ID)
		}
		parent := shard.Unknown
		if ts.Parent != nil {
			parent = shard.ID(*ts.Parent)
		}
		tree.AddShard(id, parent)
		if ts.Whole {
			tree.MarkWhole(id)
		}
	}
	return region.New(w.ID, w.Name, tree)
}

// FromTopRegions converts a list of catalog entries.
func FromTopRegions(rs []region.TopRegion) []TopRegion {
	out := make([]TopRegion, len(rs))
	for i, r := range rs {
		out[i] = FromTopRegion(r)
	}
	return out
}

// ToTopRegions converts a list back.
func ToTopRegions(ws []TopRegion) ([]region.TopRegion, error) {
	out := make([]region.TopRegion, 0, len(ws))
	for _, w := range ws {
		r, err := w.ToTopRegion()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
