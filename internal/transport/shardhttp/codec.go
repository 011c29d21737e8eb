package shardhttp

import (
	"encoding/json"
	"fmt"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shardmsg"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/wire"
)

// envelope is sent with every request and echoed in every reply.
type envelope struct {
	RequestID uint32 `json:"request_id"`
	QueryID   uint64 `json:"query_id"`
	Shard     uint32 `json:"shard"`
	Rights    string `json:"rights,omitempty"`
}

type queryParams struct {
	Query        string   `json:"query"`
	Locations    []string `json:"locations,omitempty"`
	Sorting      string   `json:"sorting"`
	Hits         int      `json:"hits"`
	EditCutoff   uint8    `json:"edit_cutoff"`
	UniqueOrFull bool     `json:"unique_or_full,omitempty"`
	Regions      bool     `json:"regions,omitempty"`
	Language     string   `json:"language,omitempty"`
}

type overviewSearchBody struct {
	envelope
	Params queryParams `json:"params"`
}

type searchBody struct {
	envelope
	Params  queryParams      `json:"params"`
	Regions []wire.ID        `json:"regions,omitempty"`
	Origin  *wire.Coordinate `json:"origin,omitempty"`
}

type expandItem struct {
	Index  int     `json:"index"`
	Region int     `json:"region"`
	ID     wire.ID `json:"id"`
}

type expandBody struct {
	envelope
	Direction string       `json:"direction"`
	Items     []expandItem `json:"items"`
}

type matchInfoBody struct {
	envelope
	Matches  []wire.ID `json:"matches"`
	Regions  bool      `json:"regions,omitempty"`
	Language string    `json:"language,omitempty"`
}

type coordinateItem struct {
	Index  int    `json:"index"`
	Item   uint32 `json:"item"`
	Offset uint16 `json:"offset"`
}

type coordinateBody struct {
	envelope
	Items []coordinateItem `json:"items"`
	BBox  bool             `json:"bbox,omitempty"`
}

type topRegionBody struct {
	envelope
	Language string `json:"language,omitempty"`
}

// replyBody is the union of every reply payload.
type replyBody struct {
	envelope
	Status string `json:"status"`

	Matches       []wire.Match `json:"matches,omitempty"`
	Full          bool         `json:"full,omitempty"`
	UniqueOrFull  bool         `json:"unique_or_full,omitempty"`
	EmptyLocation bool         `json:"empty_location,omitempty"`

	Expanded    []expandedItem     `json:"expanded,omitempty"`
	Fixups      []fixup            `json:"fixups,omitempty"`
	Coordinates []coordinateResult `json:"coordinates,omitempty"`
	TopRegions  []wire.TopRegion   `json:"top_regions,omitempty"`
}

type expandedItem struct {
	Index  int              `json:"index"`
	Region int              `json:"region"`
	ID     wire.ID          `json:"id"`
	Name   string           `json:"name,omitempty"`
	Coord  *wire.Coordinate `json:"coord,omitempty"`
}

type fixup struct {
	ID           wire.ID          `json:"id"`
	LocationName string           `json:"location_name,omitempty"`
	Coord        *wire.Coordinate `json:"coord,omitempty"`
	Street       *wire.Street     `json:"street,omitempty"`
	Regions      []wire.Match     `json:"regions,omitempty"`
}

type coordinateResult struct {
	Index int              `json:"index"`
	Item  uint32           `json:"item"`
	Coord *wire.Coordinate `json:"coord,omitempty"`
	BBox  *wire.BBox       `json:"bbox,omitempty"`
}

func envelopeOf(h shardmsg.Header) envelope {
	return envelope{RequestID: h.RequestID, QueryID: h.QueryID, Shard: uint32(h.Shard), Rights: string(h.Rights)}
}

func paramsOf(p shardmsg.QueryParams) queryParams {
	return queryParams{
		Query:        p.Query,
		Locations:    p.Locations,
		Sorting:      p.Sorting.String(),
		Hits:         p.NbrHits,
		EditCutoff:   p.EditDistanceCutoff,
		UniqueOrFull: p.UniqueOrFull,
		Regions:      p.Regions,
		Language:     p.Language,
	}
}

// encodeRequest builds the JSON body of a request.
func encodeRequest(req shardmsg.Request) ([]byte, error) {
	env := envelopeOf(req.Head())
	var body any
	switch r := req.(type) {
	case *shardmsg.OverviewSearchRequest:
		body = overviewSearchBody{envelope: env, Params: paramsOf(r.Params)}
	case *shardmsg.SearchRequest:
		var regions []wire.ID
		if len(r.Regions) > 0 {
			regions = wire.FromIDs(r.Regions)
		}
		body = searchBody{envelope: env, Params: paramsOf(r.Params), Regions: regions, Origin: wire.FromCoordinate(r.Origin)}
	case *shardmsg.ExpandItemRequest:
		items := make([]expandItem, len(r.Items))
		for i, it := range r.Items {
			items[i] = expandItem{Index: it.Index, Region: it.Region, ID: wire.FromID(it.ID)}
		}
		body = expandBody{envelope: env, Direction: string(r.Direction), Items: items}
	case *shardmsg.MatchInfoRequest:
		body = matchInfoBody{envelope: env, Matches: wire.FromIDs(r.Matches), Regions: r.Regions, Language: r.Language}
	case *shardmsg.CoordinateRequest:
		items := make([]coordinateItem, len(r.Items))
		for i, it := range r.Items {
			items[i] = coordinateItem{Index: it.Index, Item: it.Item, Offset: it.Offset}
		}
		body = coordinateBody{envelope: env, Items: items, BBox: r.BBox}
	case *shardmsg.TopRegionRequest:
		body = topRegionBody{envelope: env, Language: r.Language}
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", req.Kind(), err)
	}
	return data, nil
}

// decodeReply parses a reply to req. The header comes from the request;
// the echoed envelope must match it.
func decodeReply(req shardmsg.Request, data []byte) (shardmsg.Reply, error) {
	var body replyBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("unmarshal %s reply: %w", req.Kind(), err)
	}
	head := req.Head()
	if body.RequestID != head.RequestID {
		return nil, fmt.Errorf("%s reply for request %d, want %d", req.Kind(), body.RequestID, head.RequestID)
	}

	code := status.OK
	if body.Status != "" {
		code = status.Code(body.Status)
		if !code.IsValid() {
			return nil, fmt.Errorf("%s reply: unknown status %q", req.Kind(), body.Status)
		}
	}
	h := shardmsg.ReplyHeader{Header: head, Code: code}

	switch req.(type) {
	case *shardmsg.OverviewSearchRequest:
		ms, err := wire.ToMatches(body.Matches)
		if err != nil {
			return nil, fmt.Errorf("overview search reply: %w", err)
		}
		return &shardmsg.OverviewSearchReply{ReplyHeader: h, Matches: ms, Full: body.Full, UniqueOrFull: body.UniqueOrFull}, nil
	case *shardmsg.SearchRequest:
		ms, err := wire.ToMatches(body.Matches)
		if err != nil {
			return nil, fmt.Errorf("search reply: %w", err)
		}
		return &shardmsg.SearchReply{ReplyHeader: h, Matches: ms, EmptyLocation: body.EmptyLocation}, nil
	case *shardmsg.ExpandItemRequest:
		rep := &shardmsg.ExpandItemReply{ReplyHeader: h}
		for _, it := range body.Expanded {
			rep.Items = append(rep.Items, shardmsg.ExpandedItem{
				Index:  it.Index,
				Region: it.Region,
				ID:     it.ID.ToID(),
				Name:   it.Name,
				Coord:  it.Coord.ToCoordinate(),
			})
		}
		return rep, nil
	case *shardmsg.MatchInfoRequest:
		rep := &shardmsg.MatchInfoReply{ReplyHeader: h}
		for _, f := range body.Fixups {
			regions, err := wire.ToMatches(f.Regions)
			if err != nil {
				return nil, fmt.Errorf("match info reply: %w", err)
			}
			fx := shardmsg.Fixup{
				ID:           f.ID.ToID(),
				LocationName: f.LocationName,
				Coord:        f.Coord.ToCoordinate(),
				Regions:      regions,
			}
			if f.Street != nil {
				st := f.Street.ToStreet()
				fx.Street = &st
			}
			rep.Fixups = append(rep.Fixups, fx)
		}
		return rep, nil
	case *shardmsg.CoordinateRequest:
		rep := &shardmsg.CoordinateReply{ReplyHeader: h}
		for _, c := range body.Coordinates {
			rep.Items = append(rep.Items, shardmsg.CoordinateResult{
				Index: c.Index,
				Item:  c.Item,
				Coord: c.Coord.ToCoordinate(),
				BBox:  c.BBox.ToBBox(),
			})
		}
		return rep, nil
	case *shardmsg.TopRegionRequest:
		regions, err := wire.ToTopRegions(body.TopRegions)
		if err != nil {
			return nil, fmt.Errorf("top region reply: %w", err)
		}
		return &shardmsg.TopRegionReply{ReplyHeader: h, Regions: regions}, nil
	}
	return nil, fmt.Errorf("unsupported request type %T", req)
}
