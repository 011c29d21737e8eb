package search

import (
	"errors"
	"slices"
	"testing"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/geo"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match/sorting"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/request"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shardmsg"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/usecase/search/coordinate"
)

func mustRequest(t *testing.T, p request.Params) request.Request {
	t.Helper()
	r, err := request.New(p)
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return r
}

func names(ms []*match.Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name()
	}
	return out
}

// lundOverview is the single overview hit for "Lund" in shard 0x80000001,
// expanding into item 50 of underview shard 1.
func lundShards() *fakeShards {
	lund := match.NewOverview(match.ID{Shard: 0x80000001, Item: 5}, "Lund", match.Overview{Radius: 5000})
	return &fakeShards{
		overview: map[shard.ID][]*match.Match{0x80000001: {lund}},
		expand: map[match.ID][]shardmsg.ExpandedItem{
			{Shard: 0x80000001, Item: 5}: {{ID: match.ID{Shard: 1, Item: 50}, Name: "Lund"}},
		},
		search: map[shard.ID][]hit{},
		coords: map[match.ID]geo.Coordinate{},
	}
}

func TestHandler_ScenarioA_ExplicitShards(t *testing.T) {
	var tr transitions
	req := mustRequest(t, request.Params{Query: "pizza", Shards: []shard.ID{1, 2}})
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(1), OnTransition: tr.record})

	if h.State() != StateSendSearch {
		t.Fatalf("entry state = %s, want SEND_SEARCH", h.State())
	}

	var first []shardmsg.Request
	for {
		r, ok := h.NextRequest()
		if !ok {
			break
		}
		first = append(first, r)
	}
	if len(first) != 2 {
		t.Fatalf("got %d requests before any reply, want 2", len(first))
	}
	for _, r := range first {
		if r.Kind() != shardmsg.KindSearch {
			t.Errorf("unexpected request kind %s", r.Kind())
		}
	}

	f := &fakeShards{search: map[shard.ID][]hit{
		1: {{item: 1, name: "Pizza Hut", points: 9}, {item: 2, name: "Pizzeria Roma", points: 3}},
		2: {{item: 7, name: "Pizza Express", points: 5}},
	}}
	for i := len(first) - 1; i >= 0; i-- {
		if !h.OnReply(f.reply(first[i])) {
			t.Fatal("search reply rejected")
		}
	}
	drive(t, h, f)

	want := transitions{StateSendSearch, StateAwaitSearch, StateUnexpandOverview, StateAlmostDone2, StateDone}
	if !slices.Equal(tr, want) {
		t.Errorf("transitions = %v, want %v", tr, want)
	}
	a, err := h.TakeAnswer()
	if err != nil {
		t.Fatalf("TakeAnswer: %v", err)
	}
	if a.Status() != status.OK {
		t.Errorf("status = %s", a.Status())
	}
	got := names(a.Matches())
	wantNames := []string{"Pizza Hut", "Pizza Express", "Pizzeria Roma"}
	if !slices.Equal(got, wantNames) {
		t.Errorf("matches = %v, want %v", got, wantNames)
	}
	if n := len(f.sentOf(shardmsg.KindMatchInfo)); n != 2 {
		t.Errorf("match info requests = %d, want 2", n)
	}
}

func TestHandler_ScenarioB_SingleOverviewSearches(t *testing.T) {
	var tr transitions
	req := mustRequest(t, request.Params{
		Query: "kebab", Locations: []string{"Lund"}, TopRegion: 1,
		SearchOnlyIfUniqueOrFull: true,
	})
	f := lundShards()
	f.search[1] = []hit{{item: 900, name: "Kebab Lund", points: 4}}
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(2), OnTransition: tr.record})

	drive(t, h, f)

	if !tr.contains(StateOverviewExpandThenOverviewCheck) || !tr.contains(StateSendSearch) {
		t.Fatalf("transitions = %v, want overview expansion then SEND_SEARCH", tr)
	}
	searches := f.sentOf(shardmsg.KindSearch)
	if len(searches) != 1 {
		t.Fatalf("search requests = %d, want 1", len(searches))
	}
	sr := searches[0].(*shardmsg.SearchRequest)
	if sr.Shard != 1 || !slices.Equal(sr.Regions, []match.ID{{Shard: 1, Item: 50}}) {
		t.Errorf("search request = shard %s regions %v", sr.Shard, sr.Regions)
	}
	a, _ := h.TakeAnswer()
	if got := names(a.Matches()); !slices.Equal(got, []string{"Kebab Lund"}) {
		t.Errorf("matches = %v", got)
	}
	if len(a.OverviewMatches()) != 1 {
		t.Errorf("overview matches = %d, want 1", len(a.OverviewMatches()))
	}
}

func TestHandler_SearchOnlyIfUniqueSkipsAmbiguous(t *testing.T) {
	req := mustRequest(t, request.Params{
		Query: "kebab", Locations: []string{"Lund"}, TopRegion: 1,
		SearchOnlyIfUniqueOrFull: true,
	})
	f := lundShards()
	other := match.NewOverview(match.ID{Shard: 0x80000001, Item: 6}, "Lund", match.Overview{})
	f.overview[0x80000001] = append(f.overview[0x80000001], other)
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(2)})

	drive(t, h, f)

	if n := len(f.sentOf(shardmsg.KindSearch)); n != 0 {
		t.Errorf("search requests = %d, want 0 for an ambiguous location", n)
	}
	if len(h.OverviewMatches()) != 2 {
		t.Errorf("overview matches = %d, want 2", len(h.OverviewMatches()))
	}
}

func TestHandler_ScenarioC_CityCenter(t *testing.T) {
	var tr transitions
	req := mustRequest(t, request.Params{Locations: []string{"Lund"}, TopRegion: 1})
	f := lundShards()
	f.coords[match.ID{Shard: 0x80000001, Item: 5}] = geo.NewCoordinate(55.70, 13.19)
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(3), OnTransition: tr.record})

	drive(t, h, f)

	if !tr.contains(StateSendExpandItem) || !tr.contains(StateAwaitExpandItem) {
		t.Fatalf("transitions = %v, want the expand item states", tr)
	}
	coords := f.sentOf(shardmsg.KindCoordinate)
	if len(coords) != 1 {
		t.Fatalf("coordinate requests = %d, want 1", len(coords))
	}
	cr := coords[0].(*shardmsg.CoordinateRequest)
	// resolved on the overview match, not on the expanded underview item
	if cr.Shard != 0x80000001 || cr.Items[0].Item != 5 || cr.Items[0].Offset != coordinate.BestOffset {
		t.Errorf("coordinate request = %+v", cr)
	}

	a, _ := h.TakeAnswer()
	if a.Len() != 1 {
		t.Fatalf("matches = %d, want 1 synthesized", a.Len())
	}
	m := a.Matches()[0]
	if m.Kind() != match.KindStreet || m.Name() != "Lund" || !m.HasCoordinate() {
		t.Errorf("synthesized match = %s coord %s", m, m.Coordinate())
	}
	if m.ID() != (match.ID{Shard: 0x80000001, Item: 5}) {
		t.Errorf("synthesized match id = %s, want the overview id", m.ID())
	}
}

func TestHandler_CityCenterDisabled(t *testing.T) {
	req := mustRequest(t, request.Params{Locations: []string{"Lund"}, TopRegion: 1, DisableCityCenter: true})
	f := lundShards()
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(3)})

	drive(t, h, f)

	a, _ := h.TakeAnswer()
	if a.Len() != 0 {
		t.Errorf("matches = %d, want 0", a.Len())
	}
}

func TestHandler_MasksEnterAtOverviewExpand(t *testing.T) {
	req := mustRequest(t, request.Params{
		Query: "bar",
		Masks: []request.Mask{{Shard: 0x80000001, Item: 5, Name: "Lund"}},
	})
	f := lundShards()
	f.search[1] = []hit{{item: 3, name: "Bar Lund"}}
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(4)})

	if h.State() != StateOverviewExpand {
		t.Fatalf("entry state = %s, want OVERVIEWEXPAND", h.State())
	}
	drive(t, h, f)
	if n := len(f.sentOf(shardmsg.KindOverviewSearch)); n != 0 {
		t.Errorf("overview searches = %d, want 0", n)
	}
	if got := names(h.Matches()); !slices.Equal(got, []string{"Bar Lund"}) {
		t.Errorf("matches = %v", got)
	}
	if ov := h.OverviewMatches()[0].Overview().OverviewID; ov != (match.ID{Shard: 0x80000001, Item: 5}) {
		t.Errorf("mask overview id = %s", ov)
	}
}

func TestHandler_TopRegionNotFound(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Locations: []string{"Oslo"}, TopRegion: 9})
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(5)})

	if _, ok := h.NextRequest(); ok {
		t.Fatal("expected no request")
	}
	if !h.Done() || h.Status() != status.NotOK {
		t.Errorf("state %s status %s, want DONE not_ok", h.State(), h.Status())
	}
}

func TestHandler_FetchesTopRegionsWhenCatalogEmpty(t *testing.T) {
	var tr transitions
	req := mustRequest(t, request.Params{Query: "kebab", Locations: []string{"Lund"}, TopRegion: 1})
	f := lundShards()
	f.topRegions = swedenCatalog().All()
	f.search[1] = []hit{{item: 1, name: "Kebab"}}
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(6), OnTransition: tr.record})

	drive(t, h, f)

	if !tr.contains(StateAwaitTopRegion) {
		t.Errorf("transitions = %v, want AWAIT_TOP_REGION", tr)
	}
	if h.Status() != status.OK || len(h.Matches()) != 1 {
		t.Errorf("status %s matches %d", h.Status(), len(h.Matches()))
	}
}

func TestHandler_TopRegionFetchEmpty(t *testing.T) {
	req := mustRequest(t, request.Params{Locations: []string{"Lund"}, TopRegion: 1})
	f := lundShards()
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(6)})

	drive(t, h, f)
	if h.Status() != status.NotOK {
		t.Errorf("status = %s, want not_ok", h.Status())
	}
}

func TestHandler_NoPermittedShards(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1, 2}, AllowedShards: []shard.ID{3}})
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(7)})

	if !h.Done() || h.Status() != status.OutsideAllowedArea {
		t.Errorf("state %s status %s, want DONE outside_allowed_area", h.State(), h.Status())
	}
	if _, ok := h.NextRequest(); ok {
		t.Error("no request may be sent")
	}
}

func TestHandler_NoPermittedExpandedShards(t *testing.T) {
	req := mustRequest(t, request.Params{
		Query: "x", Locations: []string{"Lund"}, TopRegion: 1,
		AllowedShards: []shard.ID{0x80000001, 2},
	})
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(7)})

	drive(t, h, lundShards())
	if h.Status() != status.OutsideAllowedArea {
		t.Errorf("status = %s, want outside_allowed_area", h.Status())
	}
}

func TestHandler_AllSearchesFailed(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1, 2}})
	f := &fakeShards{fail: map[shardmsg.Kind]status.Code{shardmsg.KindSearch: status.Timeout}}
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(8)})

	drive(t, h, f)
	if h.Status() != status.Timeout {
		t.Errorf("status = %s, want timeout", h.Status())
	}
}

func TestHandler_PartialSearchFailureKeepsOthers(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1, 2}})
	f := &fakeShards{search: map[shard.ID][]hit{1: {{item: 1, name: "A"}}}}
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(8)})

	var batch []shardmsg.Request
	for {
		r, ok := h.NextRequest()
		if !ok {
			break
		}
		batch = append(batch, r)
	}
	h.OnReply(f.reply(batch[0]))
	h.OnReply(shardmsg.FailureFor(batch[1], status.NotOK))
	drive(t, h, f)

	if h.Status() != status.OK || len(h.Matches()) != 1 {
		t.Errorf("status %s matches %d", h.Status(), len(h.Matches()))
	}
}

func TestHandler_MatchInfoAcceptedInAnyState(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1, 2}})
	f := &fakeShards{
		search: map[shard.ID][]hit{1: {{item: 1, name: "A"}}, 2: {{item: 2, name: "B"}}},
		fixups: map[match.ID]shardmsg.Fixup{{Shard: 1, Item: 1}: {ID: match.ID{Shard: 1, Item: 1}, LocationName: "Malmö"}},
	}
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(9)})

	s1, _ := h.NextRequest()
	s2, _ := h.NextRequest()
	h.OnReply(f.reply(s1))

	mi, ok := h.NextRequest()
	if !ok || mi.Kind() != shardmsg.KindMatchInfo {
		t.Fatalf("expected match info request, got %v", mi)
	}
	if !h.OnReply(f.reply(mi)) {
		t.Fatalf("match info rejected in %s", h.State())
	}
	if h.State() != StateAwaitSearch {
		t.Fatalf("state = %s, want AWAIT_SEARCH", h.State())
	}
	h.OnReply(f.reply(s2))
	drive(t, h, f)

	for _, m := range h.Matches() {
		if m.ID().Item == 1 && m.LocationName() != "Malmö" {
			t.Error("early fixup was not applied")
		}
	}
}

func TestHandler_UnexpectedReply(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1}})
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(10)})
	s, _ := h.NextRequest()

	stray := &shardmsg.OverviewSearchReply{ReplyHeader: shardmsg.ReplyHeader{Header: s.Head()}}
	if h.OnReply(stray) {
		t.Error("reply of the wrong kind must be rejected")
	}
	unknown := &shardmsg.SearchReply{ReplyHeader: shardmsg.ReplyHeader{Header: shardmsg.Header{RequestID: 999}}}
	if h.OnReply(unknown) {
		t.Error("reply for an unknown request must be rejected")
	}
	if h.OnReply(nil) {
		t.Error("nil reply must be rejected")
	}
	if h.State() != StateAwaitSearch {
		t.Errorf("state = %s, rejected replies must not move the handler", h.State())
	}
}

func TestHandler_TakeAnswerOnce(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1}})
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(11)})

	if _, err := h.TakeAnswer(); !errors.Is(err, domain.ErrSearchNotDone) {
		t.Errorf("TakeAnswer before done: %v", err)
	}
	drive(t, h, &fakeShards{})
	if _, err := h.TakeAnswer(); err != nil {
		t.Fatalf("TakeAnswer: %v", err)
	}
	if _, err := h.TakeAnswer(); !errors.Is(err, domain.ErrAnswerTaken) {
		t.Errorf("second TakeAnswer: %v", err)
	}
	h.Close()
}

func TestHandler_CoordinatesAndDistanceSort(t *testing.T) {
	var tr transitions
	req := mustRequest(t, request.Params{
		Query: "cafe", Shards: []shard.ID{1},
		Sorting: sorting.Distance,
		Origin:  &request.GeoQuery{Latitude: 55.60, Longitude: 13.00},
	})
	f := &fakeShards{
		search: map[shard.ID][]hit{1: {
			{item: 1, name: "Far", points: 9},
			{item: 2, name: "Near", points: 1},
			{item: 3, name: "Lost", points: 5},
		}},
		coords: map[match.ID]geo.Coordinate{
			{Shard: 1, Item: 1}: geo.NewCoordinate(59.33, 18.06),
			{Shard: 1, Item: 2}: geo.NewCoordinate(55.61, 13.01),
		},
	}
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(12), OnTransition: tr.record})

	drive(t, h, f)

	if !tr.contains(StateCoordinates) {
		t.Fatalf("transitions = %v, want COORDINATES", tr)
	}
	if n := len(f.sentOf(shardmsg.KindCoordinate)); n != 1 {
		t.Errorf("coordinate requests = %d, want 1", n)
	}
	got := names(h.Matches())
	if !slices.Equal(got, []string{"Near", "Far", "Lost"}) {
		t.Errorf("matches = %v, want unresolved last", got)
	}
}

func TestHandler_UnexpandDedupesRegions(t *testing.T) {
	var tr transitions
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1, 2}, TopRegion: 1, Regions: true})
	f := &fakeShards{
		search: map[shard.ID][]hit{
			1: {{item: 1, name: "A", regions: []match.ID{{Shard: 1, Item: 70}, {Shard: 2, Item: 71}}}},
		},
		unexpand: map[match.ID]match.ID{
			{Shard: 1, Item: 70}: {Shard: 0x80000001, Item: 700},
			{Shard: 2, Item: 71}: {Shard: 0x80000001, Item: 700},
		},
	}
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(13), OnTransition: tr.record})

	drive(t, h, f)

	if !tr.contains(StateAwaitUnexpandOverview) {
		t.Fatalf("transitions = %v, want AWAIT_UNEXPAND_OVERVIEW", tr)
	}
	regions := h.Matches()[0].Regions()
	if len(regions) != 1 || regions[0].ID() != (match.ID{Shard: 0x80000001, Item: 700}) {
		t.Errorf("regions = %v, want one region in overview space", regions)
	}
}

func TestHandler_UnexpandTranslatesMatchIDs(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "pizza", Shards: []shard.ID{1}, TopRegion: 1})
	f := &fakeShards{
		search: map[shard.ID][]hit{1: {{item: 5, name: "Pizza Hut"}}},
		unexpand: map[match.ID]match.ID{
			{Shard: 1, Item: 5}: {Shard: 0x80000001, Item: 500},
		},
		fixups: map[match.ID]shardmsg.Fixup{
			{Shard: 1, Item: 5}: {ID: match.ID{Shard: 1, Item: 5}, LocationName: "Lund"},
		},
	}
	h := NewHandler(req, Deps{Catalog: swedenCatalog(), IDs: shardmsg.NewSequence(16)})

	drive(t, h, f)

	sent := f.sentOf(shardmsg.KindExpandItem)
	if len(sent) != 1 {
		t.Fatalf("unexpand requests = %d, want 1 for a match without regions", len(sent))
	}
	ur := sent[0].(*shardmsg.ExpandItemRequest)
	if ur.Shard != 0x80000001 || ur.Direction != shardmsg.Unexpand {
		t.Errorf("unexpand request = shard %s direction %s", ur.Shard, ur.Direction)
	}
	want := []shardmsg.ExpandItem{{Index: 0, Region: shardmsg.SelfRegion, ID: match.ID{Shard: 1, Item: 5}}}
	if !slices.Equal(ur.Items, want) {
		t.Errorf("unexpand items = %v, want %v", ur.Items, want)
	}

	if len(h.Matches()) != 1 {
		t.Fatalf("matches = %d, want 1", len(h.Matches()))
	}
	m := h.Matches()[0]
	if m.ID() != (match.ID{Shard: 0x80000001, Item: 500}) {
		t.Errorf("match id = %s, want it in overview space", m.ID())
	}
	if m.LocationName() != "Lund" {
		t.Errorf("location name = %q, fixup keyed by the underview id was lost", m.LocationName())
	}
}

func TestHandler_RestrictionFloorAcrossShards(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1, 2}})
	f := &fakeShards{search: map[shard.ID][]hit{
		1: {{item: 1, name: "exact", restrictions: 0}},
		2: {{item: 2, name: "loose", restrictions: 2, points: 9}},
	}}
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(14)})

	drive(t, h, f)
	if got := names(h.Matches()); !slices.Equal(got, []string{"exact"}) {
		t.Errorf("matches = %v, want only the lowest restriction", got)
	}
}

func TestHandler_NbrHitsTruncates(t *testing.T) {
	req := mustRequest(t, request.Params{Query: "x", Shards: []shard.ID{1}, NbrHits: 2})
	f := &fakeShards{search: map[shard.ID][]hit{1: {
		{item: 1, name: "a", points: 1}, {item: 2, name: "b", points: 3}, {item: 3, name: "c", points: 2},
	}}}
	h := NewHandler(req, Deps{IDs: shardmsg.NewSequence(15)})

	drive(t, h, f)
	if got := names(h.Matches()); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("matches = %v", got)
	}
}

func TestState_String(t *testing.T) {
	if len(States()) != 16 {
		t.Fatalf("States() = %d, want 16", len(States()))
	}
	if StateOverviewExpandThenOverviewCheck.String() != "OVERVIEWEXPAND_THEN_OVERVIEW_CHECK" {
		t.Errorf("got %q", StateOverviewExpandThenOverviewCheck.String())
	}
	if State(99).String() != "State(99)" {
		t.Errorf("got %q", State(99).String())
	}
}
