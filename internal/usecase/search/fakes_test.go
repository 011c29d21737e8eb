package search

import (
	"testing"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/geo"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shardmsg"
)

type hit struct {
	item         uint32
	name         string
	points       uint32
	restrictions uint8
	coord        geo.Coordinate
	regions      []match.ID
}

// fakeShards answers shard requests from static tables.
type fakeShards struct {
	overview      map[shard.ID][]*match.Match
	overviewFull  bool
	search        map[shard.ID][]hit
	emptyLocation bool
	expand        map[match.ID][]shardmsg.ExpandedItem
	unexpand      map[match.ID]match.ID
	coords        map[match.ID]geo.Coordinate
	fixups        map[match.ID]shardmsg.Fixup
	topRegions    []region.TopRegion
	fail          map[shardmsg.Kind]status.Code

	sent []shardmsg.Request
}

func (f *fakeShards) reply(req shardmsg.Request) shardmsg.Reply {
	f.sent = append(f.sent, req)
	if code, ok := f.fail[req.Kind()]; ok {
		return shardmsg.FailureFor(req, code)
	}
	h := shardmsg.ReplyHeader{Header: req.Head()}
	switch r := req.(type) {
	case *shardmsg.TopRegionRequest:
		return &shardmsg.TopRegionReply{ReplyHeader: h, Regions: f.topRegions}
	case *shardmsg.OverviewSearchRequest:
		var ms []*match.Match
		for _, m := range f.overview[r.Shard] {
			ms = append(ms, m.Clone())
		}
		return &shardmsg.OverviewSearchReply{ReplyHeader: h, Matches: ms, Full: f.overviewFull}
	case *shardmsg.SearchRequest:
		var ms []*match.Match
		for _, x := range f.search[r.Shard] {
			m := match.New(match.ID{Shard: r.Shard, Item: x.item}, x.name)
			m.SetPoints(x.points)
			m.SetRestrictions(x.restrictions)
			m.SetCoordinate(x.coord)
			for _, reg := range x.regions {
				m.AddRegion(match.NewRegion(reg, "region"))
			}
			ms = append(ms, m)
		}
		return &shardmsg.SearchReply{ReplyHeader: h, Matches: ms, EmptyLocation: f.emptyLocation}
	case *shardmsg.ExpandItemRequest:
		rep := &shardmsg.ExpandItemReply{ReplyHeader: h}
		for _, it := range r.Items {
			if r.Direction == shardmsg.Expand {
				for _, e := range f.expand[it.ID] {
					e.Index, e.Region = it.Index, it.Region
					rep.Items = append(rep.Items, e)
				}
				continue
			}
			if to, ok := f.unexpand[it.ID]; ok {
				rep.Items = append(rep.Items, shardmsg.ExpandedItem{Index: it.Index, Region: it.Region, ID: to})
			}
		}
		return rep
	case *shardmsg.MatchInfoRequest:
		rep := &shardmsg.MatchInfoReply{ReplyHeader: h}
		for _, id := range r.Matches {
			if fx, ok := f.fixups[id]; ok {
				rep.Fixups = append(rep.Fixups, fx)
			}
		}
		return rep
	case *shardmsg.CoordinateRequest:
		rep := &shardmsg.CoordinateReply{ReplyHeader: h}
		for _, it := range r.Items {
			c, ok := f.coords[match.ID{Shard: r.Shard, Item: it.Item}]
			if !ok {
				continue
			}
			rep.Items = append(rep.Items, shardmsg.CoordinateResult{Index: it.Index, Item: it.Item, Coord: c})
		}
		return rep
	}
	return nil
}

func (f *fakeShards) sentOf(kind shardmsg.Kind) []shardmsg.Request {
	var out []shardmsg.Request
	for _, r := range f.sent {
		if r.Kind() == kind {
			out = append(out, r)
		}
	}
	return out
}

// drive runs h against f until done, answering every batch in reverse order.
func drive(t *testing.T, h *Handler, f *fakeShards) {
	t.Helper()
	for range 100 {
		var batch []shardmsg.Request
		for {
			req, ok := h.NextRequest()
			if !ok {
				break
			}
			batch = append(batch, req)
		}
		if h.Done() {
			return
		}
		if len(batch) == 0 {
			t.Fatalf("handler stalled in %s", h.State())
		}
		for i := len(batch) - 1; i >= 0; i-- {
			if !h.OnReply(f.reply(batch[i])) {
				t.Fatalf("reply to %s rejected in %s", batch[i].Kind(), h.State())
			}
		}
	}
	t.Fatalf("handler did not finish, state %s", h.State())
}

type transitions []State

func (tr *transitions) record(_, to State) { *tr = append(*tr, to) }

func (tr transitions) contains(s State) bool {
	for _, x := range tr {
		if x == s {
			return true
		}
	}
	return false
}

// swedenCatalog: top region 1 with overview 0x80000001 over underview shards 1 and 2.
func swedenCatalog() *region.Catalog {
	tree := region.NewTree()
	tree.AddShard(0x80000001, shard.Unknown)
	tree.AddShard(1, 0x80000001)
	tree.AddShard(2, 0x80000001)
	se, _ := region.New(1, "Sverige", tree)
	return region.NewCatalog([]region.TopRegion{se})
}
