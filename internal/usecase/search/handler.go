package search

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match/sorting"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/answer"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/request"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shardmsg"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/usecase/search/coordinate"
)

// overviewOffset asks for the middle of an overview item.
const overviewOffset = 0x7fff

// Deps are the collaborators of a Handler.
type Deps struct {
	// Catalog is the top-region catalog. Nil or empty makes the handler
	// fetch it from the map service.
	Catalog *region.Catalog
	IDs     shardmsg.IDSource
	Logger  *zap.Logger
	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)
}

// Handler orchestrates one search over the shards. It is a pull-driven
// state machine: the owner calls NextRequest until it returns false, sends
// the requests, and feeds every reply to OnReply until Done holds.
// A Handler is not safe for concurrent use.
type Handler struct {
	req          request.Request
	catalog      *region.Catalog
	top          region.TopRegion
	hasTop       bool
	ids          shardmsg.IDSource
	logger       *zap.Logger
	onTransition func(from, to State)

	state       State
	queue       []shardmsg.Request
	searchQueue []shardmsg.Request
	outstanding map[uint32]shardmsg.Kind

	pendingOverview  int
	pendingExpand    int
	pendingSearch    int
	pendingUnexpand  int
	expectedInfos    int
	overviewReplies  int
	overviewFailures int
	searchReplies    int
	searchFailures   int
	firstFailure     status.Code
	expandSent       bool

	unexpanded  []*match.Match
	expandedBy  [][]*match.Match
	expanded    []*match.Match
	searchLists [][]*match.Match
	nbrHits     int
	allEmptyLoc bool
	noPermitted bool
	matchInfos  []*shardmsg.MatchInfoReply
	ownIDs      []shardmsg.ExpandedItem
	matches     []*match.Match
	lookup      *coordinate.Lookup
	lookupFor   []*match.Match
	answer      answer.Answer
	answerTaken bool
}

// NewHandler creates a handler for req and decides its entry route:
// known masks go straight to expansion, locations start with the top
// region, explicit shards start with the search.
func NewHandler(req request.Request, deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := deps.IDs
	if ids == nil {
		ids = shardmsg.NewSequence(0)
	}
	h := &Handler{
		req:          req,
		catalog:      deps.Catalog,
		ids:          ids,
		logger:       logger.With(zap.Uint64("query_id", ids.QueryID())),
		onTransition: deps.OnTransition,
		state:        StateStart,
		outstanding:  make(map[uint32]shardmsg.Kind),
		allEmptyLoc:  true,
		answer:       answer.Empty(),
	}
	if top, ok := h.catalog.Find(req.TopRegion()); ok {
		h.top, h.hasTop = top, true
	}

	switch {
	case len(req.Masks()) > 0:
		for _, mask := range req.Masks() {
			id := match.ID{Shard: mask.Shard, Item: mask.Item}
			ov := match.Overview{OverviewID: match.Unknown}
			if mask.Shard.IsOverview() {
				ov.OverviewID = id
			}
			h.unexpanded = append(h.unexpanded, match.NewOverview(id, mask.Name, ov))
		}
		h.transition(StateOverviewExpand)
	case len(req.Locations()) > 0:
		h.transition(StateSendTopRegion)
	case len(req.Shards()) > 0:
		var direct []*match.Match
		for _, s := range req.Shards() {
			direct = append(direct, match.New(match.ID{Shard: s, Item: match.UnknownItem}, ""))
		}
		if h.makeSearchRequests(direct) == 0 {
			h.finish(status.OutsideAllowedArea)
			return h
		}
		h.transition(StateSendSearch)
	default:
		h.transition(StateUnexpandOverview)
	}
	return h
}

// State returns the current state.
func (h *Handler) State() State { return h.state }

// Done reports whether the answer is final.
func (h *Handler) Done() bool { return h.state == StateDone }

// Status returns the answer status. Meaningful once Done holds.
func (h *Handler) Status() status.Code { return h.answer.Status() }

// Matches returns the current matches. The slice is owned by the handler.
func (h *Handler) Matches() []*match.Match { return h.matches }

// OverviewMatches returns the overview matches the search was narrowed to.
func (h *Handler) OverviewMatches() []*match.Match { return h.unexpanded }

// TakeAnswer hands the final answer over to the caller. It may be called once.
func (h *Handler) TakeAnswer() (answer.Answer, error) {
	if h.answerTaken {
		return answer.Answer{}, domain.ErrAnswerTaken
	}
	if !h.Done() {
		return answer.Answer{}, fmt.Errorf("%w: state %s", domain.ErrSearchNotDone, h.state)
	}
	h.answerTaken = true
	a := h.answer
	h.answer = answer.Failed(a.Status())
	return a, nil
}

// Close releases queued requests and buffered replies.
func (h *Handler) Close() {
	clear(h.queue)
	h.queue = nil
	clear(h.searchQueue)
	h.searchQueue = nil
	h.matchInfos = nil
	clear(h.outstanding)
	h.searchLists = nil
	h.lookup = nil
	h.lookupFor = nil
}

// NextRequest returns the next request to send. False means the handler is
// waiting for replies or done.
func (h *Handler) NextRequest() (shardmsg.Request, bool) {
	for {
		if len(h.queue) > 0 {
			req := h.queue[0]
			h.queue[0] = nil
			h.queue = h.queue[1:]
			return req, true
		}
		before := h.state
		h.enterState()
		if len(h.queue) == 0 && h.state == before {
			return nil, false
		}
	}
}

func (h *Handler) enterState() {
	switch h.state {
	case StateSendTopRegion:
		h.sendTopRegion()
	case StateSendOverview:
		h.sendOverview()
	case StateSendSearch:
		h.sendSearch()
	case StateSendExpandItem:
		h.sendCityCenter()
	case StateCoordinates:
		h.stepCoordinates()
	case StateOverviewExpand, StateOverviewExpandThenOverviewCheck:
		if !h.expandSent {
			h.sendExpand()
		}
	case StateUnexpandOverview:
		h.sendUnexpand()
	}
}

// OnReply consumes a reply. It returns false when the reply was not
// expected; such replies are logged and otherwise ignored.
func (h *Handler) OnReply(rep shardmsg.Reply) bool {
	if rep == nil {
		h.logger.Error("nil reply")
		return false
	}
	head := rep.Head()
	kind, ok := h.outstanding[head.RequestID]
	if !ok || kind != rep.Kind() {
		return h.unexpected(rep)
	}

	if h.state == StateDone {
		delete(h.outstanding, head.RequestID)
		h.logger.Debug("reply after done dropped",
			zap.String("kind", string(rep.Kind())),
			zap.Stringer("shard", head.Shard),
		)
		return true
	}
	if mi, ok := rep.(*shardmsg.MatchInfoReply); ok {
		delete(h.outstanding, head.RequestID)
		return h.onMatchInfo(mi)
	}

	accepted := false
	switch r := rep.(type) {
	case *shardmsg.TopRegionReply:
		if h.state == StateAwaitTopRegion {
			h.onTopRegion(r)
			accepted = true
		}
	case *shardmsg.OverviewSearchReply:
		if h.state == StateAwaitOverview {
			h.onOverview(r)
			accepted = true
		}
	case *shardmsg.SearchReply:
		if h.state == StateAwaitSearch {
			h.onSearch(r)
			accepted = true
		}
	case *shardmsg.ExpandItemReply:
		switch {
		case h.expandSent && (h.state == StateOverviewExpand || h.state == StateOverviewExpandThenOverviewCheck):
			h.onExpand(r)
			accepted = true
		case h.state == StateAwaitUnexpandOverview:
			h.onUnexpand(r)
			accepted = true
		}
	case *shardmsg.CoordinateReply:
		switch {
		case h.state == StateAwaitExpandItem:
			h.onCityCenter(r)
			accepted = true
		case h.state == StateCoordinates && h.lookup != nil:
			if accepted = h.lookup.OnReply(r); accepted && h.lookup.Done() {
				h.finishCoordinates()
			}
		}
	}
	if !accepted {
		return h.unexpected(rep)
	}
	delete(h.outstanding, head.RequestID)
	return true
}

func (h *Handler) unexpected(rep shardmsg.Reply) bool {
	h.logger.Error("unexpected reply",
		zap.String("kind", string(rep.Kind())),
		zap.Uint32("request_id", rep.Head().RequestID),
		zap.Stringer("shard", rep.Head().Shard),
		zap.Stringer("state", h.state),
	)
	return false
}

func (h *Handler) transition(to State) {
	if to == h.state {
		return
	}
	from := h.state
	h.state = to
	h.logger.Debug("search state transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if h.onTransition != nil {
		h.onTransition(from, to)
	}
}

func (h *Handler) header(s shard.ID, target shard.Target) shardmsg.Header {
	return shardmsg.Header{
		RequestID: h.ids.NextRequestID(),
		QueryID:   h.ids.QueryID(),
		Shard:     s,
		Target:    target,
		Rights:    shardmsg.Rights(h.req.Rights()),
	}
}

func (h *Handler) params() shardmsg.QueryParams {
	return shardmsg.QueryParams{
		Query:              h.req.Query(),
		Locations:          h.req.Locations(),
		Sorting:            h.req.Sorting(),
		NbrHits:            h.req.NbrHits(),
		EditDistanceCutoff: h.req.EditDistanceCutoff(),
		UniqueOrFull:       h.req.UniqueOrFull(),
		Regions:            h.req.Regions(),
		Language:           h.req.Language(),
	}
}

func (h *Handler) enqueue(req shardmsg.Request) {
	h.outstanding[req.Head().RequestID] = req.Kind()
	h.queue = append(h.queue, req)
}

func (h *Handler) noteFailure(code status.Code) {
	if h.firstFailure == "" {
		h.firstFailure = code
	}
}

// finish ends the search with a failure status, dropping unsent requests.
func (h *Handler) finish(code status.Code) {
	h.logger.Info("search finished early", zap.String("status", string(code)))
	clear(h.queue)
	h.queue = nil
	h.searchQueue = nil
	h.answer = answer.Failed(code)
	h.transition(StateDone)
}

// complete ends the search with the current matches.
func (h *Handler) complete() {
	if len(h.matches) > h.req.NbrHits() {
		clear(h.matches[h.req.NbrHits():])
		h.matches = h.matches[:h.req.NbrHits()]
	}
	h.answer = answer.New(status.OK, h.matches, h.unexpanded)
	h.transition(StateDone)
}

// Top region.

func (h *Handler) sendTopRegion() {
	if h.catalog.Len() == 0 {
		h.enqueue(&shardmsg.TopRegionRequest{
			Header:   h.header(shard.Unknown, shard.TargetMap),
			Language: h.req.Language(),
		})
		h.transition(StateAwaitTopRegion)
		return
	}
	h.resolveTopRegion()
}

func (h *Handler) onTopRegion(r *shardmsg.TopRegionReply) {
	if !r.Status().IsOK() || len(r.Regions) == 0 {
		h.logger.Warn("top region fetch failed",
			zap.String("status", string(r.Status())),
			zap.Int("regions", len(r.Regions)),
		)
		h.finish(status.NotOK)
		return
	}
	h.catalog = region.NewCatalog(r.Regions)
	h.resolveTopRegion()
}

func (h *Handler) resolveTopRegion() {
	top, ok := h.catalog.Find(h.req.TopRegion())
	if !ok {
		h.logger.Warn("top region not found", zap.Uint32("top_region", h.req.TopRegion()))
		h.finish(status.NotOK)
		return
	}
	h.top, h.hasTop = top, true
	h.transition(StateSendOverview)
}

// Overview search.

func (h *Handler) sendOverview() {
	var shards []shard.ID
	for _, s := range h.top.Tree().TopLevelShards() {
		if s.IsOverview() {
			shards = append(shards, s)
		}
	}
	if len(shards) == 0 {
		h.logger.Warn("top region has no overview shard, using the first one",
			zap.Uint32("top_region", h.top.ID()),
		)
		shards = []shard.ID{shard.FirstOverview}
	}

	sent := 0
	for _, s := range shards {
		if !h.req.Permits(s) {
			continue
		}
		h.enqueue(&shardmsg.OverviewSearchRequest{
			Header: h.header(s, shard.TargetSearch),
			Params: h.params(),
		})
		sent++
	}
	if sent == 0 {
		h.finish(status.OutsideAllowedArea)
		return
	}
	h.pendingOverview = sent
	h.transition(StateAwaitOverview)
}

func (h *Handler) onOverview(r *shardmsg.OverviewSearchReply) {
	h.pendingOverview--
	h.overviewReplies++
	if r.Status().IsOK() {
		for _, m := range r.Matches {
			ov := m.Overview()
			ov.Full = r.Full
			ov.UniqueOrFull = r.UniqueOrFull
			if !ov.OverviewID.Known() && m.Shard().IsOverview() {
				ov.OverviewID = m.ID()
			}
			m.SetOverview(ov)
			h.unexpanded = append(h.unexpanded, m)
		}
	} else {
		h.overviewFailures++
		h.noteFailure(r.Status())
		h.logger.Warn("overview search failed",
			zap.Stringer("shard", r.Shard),
			zap.String("status", string(r.Status())),
		)
	}
	if h.pendingOverview > 0 {
		return
	}
	if h.overviewFailures == h.overviewReplies {
		h.finish(h.firstFailure)
		return
	}

	raw := len(h.unexpanded)
	h.unexpanded = ReduceOverviewMatches(h.unexpanded, h.top.Tree())
	if h.overviewReplies > 1 {
		sorting.Sort(h.unexpanded, h.req.Sorting(), 0)
	}
	h.logger.Debug("overview matches reduced",
		zap.Int("raw", raw),
		zap.Int("kept", len(h.unexpanded)),
	)
	h.transition(StateOverviewExpandThenOverviewCheck)
}

// Expansion of overview matches into underview ids.

func (h *Handler) sendExpand() {
	h.expandSent = true
	h.expandedBy = make([][]*match.Match, len(h.unexpanded))

	var order []shard.ID
	byShard := make(map[shard.ID][]shardmsg.ExpandItem)
	for i, m := range h.unexpanded {
		if m.Shard().IsUnderview() {
			h.expandedBy[i] = []*match.Match{m.Clone()}
			continue
		}
		if _, ok := byShard[m.Shard()]; !ok {
			order = append(order, m.Shard())
		}
		byShard[m.Shard()] = append(byShard[m.Shard()], shardmsg.ExpandItem{Index: i, Region: shardmsg.SelfRegion, ID: m.ID()})
	}
	for _, s := range order {
		h.enqueue(&shardmsg.ExpandItemRequest{
			Header:    h.header(s, shard.TargetSearch),
			Direction: shardmsg.Expand,
			Items:     byShard[s],
		})
	}
	h.pendingExpand = len(order)
	if h.pendingExpand == 0 {
		h.afterExpand()
	}
}

func (h *Handler) onExpand(r *shardmsg.ExpandItemReply) {
	h.pendingExpand--
	if r.Status().IsOK() {
		for _, it := range r.Items {
			if it.Index < 0 || it.Index >= len(h.unexpanded) {
				h.logger.Warn("expand result for unknown item", zap.Int("index", it.Index))
				continue
			}
			h.expandedBy[it.Index] = append(h.expandedBy[it.Index], expandedMatch(h.unexpanded[it.Index], it))
		}
	} else {
		h.logger.Warn("overview expansion failed",
			zap.Stringer("shard", r.Shard),
			zap.String("status", string(r.Status())),
		)
	}
	if h.pendingExpand == 0 {
		h.afterExpand()
	}
}

func expandedMatch(src *match.Match, it shardmsg.ExpandedItem) *match.Match {
	name := it.Name
	if name == "" {
		name = src.Name()
	}
	ov := src.Overview()
	ov.OverviewID = src.ID()
	if known := src.Overview().OverviewID; known.Known() {
		ov.OverviewID = known
	}
	m := match.NewOverview(it.ID, name, ov)
	m.SetLocationName(src.LocationName())
	m.SetPoints(src.Points())
	m.SetRestrictions(src.Restrictions())
	if it.Coord.Valid() {
		m.SetCoordinate(it.Coord)
	} else {
		m.SetCoordinate(src.Coordinate())
	}
	return m
}

func (h *Handler) afterExpand() {
	h.expanded = h.expanded[:0]
	for _, ms := range h.expandedBy {
		h.expanded = append(h.expanded, ms...)
	}
	h.expandedBy = nil

	search := true
	if h.state == StateOverviewExpandThenOverviewCheck {
		search = !h.req.SearchOnlyIfUniqueOrFull() || h.singleOverview()
	}
	if search && h.makeSearchRequests(h.expanded) > 0 {
		h.transition(StateSendSearch)
		return
	}
	if h.noPermitted {
		h.finish(status.OutsideAllowedArea)
		return
	}
	h.afterSearchPhase()
}

func (h *Handler) singleOverview() bool { return len(h.unexpanded) == 1 }

func (h *Handler) uniqueOrFullHit() bool {
	if len(h.unexpanded) == 0 {
		return false
	}
	for _, m := range h.unexpanded {
		if ov := m.Overview(); !ov.Full && !ov.UniqueOrFull {
			return false
		}
	}
	return true
}

// Search.

// makeSearchRequests builds one search request per distinct permitted shard
// of ms. Matches with a known item limit the search to that region.
func (h *Handler) makeSearchRequests(ms []*match.Match) int {
	var order []shard.ID
	regions := make(map[shard.ID][]match.ID)
	for _, m := range ms {
		s := m.Shard()
		if _, ok := regions[s]; !ok {
			order = append(order, s)
			regions[s] = nil
		}
		if m.ID().Item != match.UnknownItem {
			regions[s] = append(regions[s], m.ID())
		}
	}

	built := 0
	for _, s := range order {
		if !h.req.Permits(s) {
			h.logger.Debug("shard not permitted", zap.Stringer("shard", s))
			continue
		}
		h.searchQueue = append(h.searchQueue, &shardmsg.SearchRequest{
			Header:  h.header(s, shard.TargetSearch),
			Params:  h.params(),
			Regions: regions[s],
			Origin:  h.req.Origin(),
		})
		built++
	}
	h.noPermitted = len(order) > 0 && built == 0
	return built
}

func (h *Handler) sendSearch() {
	for _, req := range h.searchQueue {
		h.enqueue(req)
	}
	h.pendingSearch = len(h.searchQueue)
	h.searchQueue = nil
	if h.pendingSearch == 0 {
		h.afterSearchPhase()
		return
	}
	h.transition(StateAwaitSearch)
}

func (h *Handler) onSearch(r *shardmsg.SearchReply) {
	h.pendingSearch--
	h.searchReplies++
	if r.Status().IsOK() {
		if !r.EmptyLocation {
			h.allEmptyLoc = false
		}
		if len(r.Matches) > 0 {
			h.searchLists = append(h.searchLists, r.Matches)
			h.nbrHits += len(r.Matches)
			ids := make([]match.ID, len(r.Matches))
			for i, m := range r.Matches {
				ids[i] = m.ID()
			}
			h.enqueue(&shardmsg.MatchInfoRequest{
				Header:   h.header(r.Shard, shard.TargetMap),
				Matches:  ids,
				Regions:  h.req.Regions(),
				Language: h.req.Language(),
			})
			h.expectedInfos++
		}
	} else {
		h.allEmptyLoc = false
		h.searchFailures++
		h.noteFailure(r.Status())
		h.logger.Warn("search failed",
			zap.Stringer("shard", r.Shard),
			zap.String("status", string(r.Status())),
		)
	}
	if h.pendingSearch > 0 {
		return
	}
	if h.searchFailures == h.searchReplies {
		h.finish(h.firstFailure)
		return
	}

	if h.nbrHits == 0 && h.req.ExpandCityCenter() && len(h.expanded) > 0 &&
		(h.singleOverview() || h.uniqueOrFullHit()) &&
		(h.req.Query() == "" || h.allEmptyLoc) {
		h.transition(StateSendExpandItem)
		return
	}

	h.matches = h.mergeReplies()
	h.afterSearchPhase()
}

// mergeReplies merges the per-shard sorted lists. When more than one shard
// replied only the matches with the lowest restriction value are kept.
func (h *Handler) mergeReplies() []*match.Match {
	policy := h.req.Sorting()
	if policy == sorting.Distance && !h.req.Origin().Valid() {
		policy = sorting.Confidence
	}
	links := sorting.NewLinks(h.logger)
	heads := make([]int, len(h.searchLists))
	for i, l := range h.searchLists {
		heads[i] = links.Append(l)
	}
	merged := links.Collect(links.MergeAll(heads, policy.Less()))
	h.searchLists = nil

	if h.searchReplies <= 1 || len(merged) == 0 {
		return merged
	}
	floor := merged[0].Restrictions()
	for _, m := range merged[1:] {
		floor = min(floor, m.Restrictions())
	}
	kept := merged[:0]
	for _, m := range merged {
		if m.Restrictions() == floor {
			kept = append(kept, m)
		}
	}
	return kept
}

func (h *Handler) afterSearchPhase() {
	if h.req.NeedsCoordinates() {
		h.transition(StateCoordinates)
		return
	}
	h.transition(StateUnexpandOverview)
}

// City center synthesis.

// cityCenterID is the overview match that src was expanded from. The
// representative point is resolved there so no finer shard is loaded.
func cityCenterID(src *match.Match) match.ID {
	if id := src.Overview().OverviewID; id.Known() {
		return id
	}
	return src.ID()
}

func (h *Handler) sendCityCenter() {
	id := cityCenterID(h.expanded[0])
	h.enqueue(&shardmsg.CoordinateRequest{
		Header: h.header(id.Shard, shard.TargetMap),
		Items:  []shardmsg.CoordinateItem{{Index: 0, Item: id.Item, Offset: coordinate.BestOffset}},
		BBox:   h.req.LookupBBoxes(),
	})
	h.transition(StateAwaitExpandItem)
}

func (h *Handler) onCityCenter(r *shardmsg.CoordinateReply) {
	src := h.expanded[0]
	id := cityCenterID(src)
	if !r.Status().IsOK() || len(r.Items) == 0 {
		h.logger.Warn("city center lookup failed",
			zap.Stringer("match", id),
			zap.String("status", string(r.Status())),
		)
		h.afterSearchPhase()
		return
	}
	res := r.Items[0]
	item := res.Item
	if item == match.UnknownItem {
		item = id.Item
	}
	m := match.NewStreet(match.ID{Shard: id.Shard, Item: item}, src.Name(), match.Street{
		Offset:    coordinate.BestOffset,
		SegmentID: match.UnknownItem,
	})
	m.SetLocationName(src.Name())
	m.SetPoints(src.Points())
	m.SetRestrictions(src.Restrictions())
	if res.Coord.Valid() {
		m.SetCoordinate(res.Coord)
	} else {
		m.SetCoordinate(src.Coordinate())
	}
	if res.BBox.Valid() {
		m.SetBoundingBox(res.BBox)
	}
	h.matches = []*match.Match{m}
	h.afterSearchPhase()
}

// Coordinates.

func (h *Handler) stepCoordinates() {
	if h.lookup == nil {
		h.lookup = coordinate.New(h.ids, shardmsg.Rights(h.req.Rights()), h.req.LookupBBoxes(), h.logger)
		for _, m := range h.unexpanded {
			h.addCoordinate(m)
		}
		for _, m := range h.matches {
			h.addCoordinate(m)
		}
	}
	for {
		req, ok := h.lookup.NextRequest()
		if !ok {
			break
		}
		h.enqueue(req)
	}
	if h.lookup.Done() {
		h.finishCoordinates()
	}
}

func (h *Handler) addCoordinate(m *match.Match) {
	if m.HasCoordinate() && !h.req.LookupBBoxes() {
		return
	}
	var idx int
	switch m.Kind() {
	case match.KindOverview:
		id := m.Overview().OverviewID
		if !id.Known() {
			id = m.ID()
		}
		idx = h.lookup.Add(id.Shard, id.Item, overviewOffset)
	case match.KindStreet:
		st := m.Street()
		if st.HouseNumber != 0 && st.SegmentID != match.UnknownItem {
			idx = h.lookup.Add(m.Shard(), st.SegmentID, st.Offset)
		} else {
			idx = h.lookup.Add(m.Shard(), m.ID().Item, overviewOffset)
		}
	default:
		idx = h.lookup.Add(m.Shard(), m.ID().Item, overviewOffset)
	}
	if idx >= 0 {
		h.lookupFor = append(h.lookupFor, m)
	}
}

func (h *Handler) finishCoordinates() {
	if h.lookup.Failed() {
		h.logger.Warn("coordinate lookup failed, positions stay unresolved",
			zap.Int("items", h.lookup.NbrItems()),
		)
	} else {
		unresolved := 0
		for i, m := range h.lookupFor {
			res, err := h.lookup.Result(i)
			if err != nil {
				h.logger.Error("coordinate result missing", zap.Int("index", i), zap.Error(err))
				continue
			}
			if res.HasCoord() {
				m.SetCoordinate(res.Coord)
			} else if !m.HasCoordinate() {
				unresolved++
			}
			if res.BBox.Valid() {
				m.SetBoundingBox(res.BBox)
			}
		}
		if unresolved > 0 {
			h.logger.Warn("coordinates unresolved", zap.Int("count", unresolved))
		}
	}
	h.lookup = nil
	h.lookupFor = nil

	if origin := h.req.Origin(); origin.Valid() {
		policy := h.req.Sorting()
		if policy == sorting.Distance || policy == sorting.Confidence {
			sorting.CalcDistancesAndSort(h.unexpanded, origin, policy, 0)
			sorting.CalcDistancesAndSort(h.matches, origin, policy, h.req.NbrSortedHits())
		}
	}
	h.transition(StateUnexpandOverview)
}

// Unexpansion of region ids into overview id space.

func (h *Handler) overviewFor(s shard.ID) (shard.ID, bool) {
	if h.hasTop {
		if ov, ok := h.top.Tree().TopOverviewFor(s); ok {
			return ov, true
		}
	}
	return h.catalog.TopOverviewFor(s)
}

func (h *Handler) sendUnexpand() {
	var order []shard.ID
	byShard := make(map[shard.ID][]shardmsg.ExpandItem)
	add := func(id match.ID, mi, ri int) {
		if !id.Shard.IsUnderview() {
			return
		}
		ov, ok := h.overviewFor(id.Shard)
		if !ok {
			return
		}
		if _, seen := byShard[ov]; !seen {
			order = append(order, ov)
		}
		byShard[ov] = append(byShard[ov], shardmsg.ExpandItem{Index: mi, Region: ri, ID: id})
	}
	for mi, m := range h.matches {
		add(m.ID(), mi, shardmsg.SelfRegion)
		for ri, r := range m.Regions() {
			add(r.ID(), mi, ri)
		}
	}
	for _, s := range order {
		h.enqueue(&shardmsg.ExpandItemRequest{
			Header:    h.header(s, shard.TargetSearch),
			Direction: shardmsg.Unexpand,
			Items:     byShard[s],
		})
	}
	h.pendingUnexpand = len(order)
	if h.pendingUnexpand == 0 {
		h.afterUnexpand()
		return
	}
	h.transition(StateAwaitUnexpandOverview)
}

func (h *Handler) onUnexpand(r *shardmsg.ExpandItemReply) {
	h.pendingUnexpand--
	if r.Status().IsOK() {
		for _, it := range r.Items {
			if it.Index < 0 || it.Index >= len(h.matches) {
				h.logger.Warn("unexpand result for unknown match", zap.Int("index", it.Index))
				continue
			}
			if !it.ID.Known() {
				continue
			}
			if it.Region == shardmsg.SelfRegion {
				// applied after the match info fixups, which are keyed by the old id
				h.ownIDs = append(h.ownIDs, it)
				continue
			}
			regions := h.matches[it.Index].Regions()
			if it.Region < 0 || it.Region >= len(regions) {
				continue
			}
			regions[it.Region].SetID(it.ID)
		}
	} else {
		h.logger.Warn("region unexpansion failed",
			zap.Stringer("shard", r.Shard),
			zap.String("status", string(r.Status())),
		)
	}
	if h.pendingUnexpand == 0 {
		h.afterUnexpand()
	}
}

func (h *Handler) afterUnexpand() {
	h.dedupeRegions()
	h.transition(StateAlmostDone2)
	h.checkMatchInfos()
}

func (h *Handler) dedupeRegions() {
	removed := 0
	for _, m := range h.matches {
		removed += m.DedupeRegions()
	}
	if removed > 0 {
		h.logger.Debug("duplicate regions removed", zap.Int("count", removed))
	}
}

// Match info side channel.

func (h *Handler) onMatchInfo(r *shardmsg.MatchInfoReply) bool {
	h.matchInfos = append(h.matchInfos, r)
	if h.state == StateAlmostDone2 {
		h.checkMatchInfos()
	}
	return true
}

// checkMatchInfos finishes the search once every match info reply arrived.
// Fixups can change names and points after the merge; the final sort below
// runs on the merged list, and cross-shard points are not normalized.
func (h *Handler) checkMatchInfos() {
	if len(h.matchInfos) < h.expectedInfos {
		return
	}
	for _, r := range h.matchInfos {
		if !r.Status().IsOK() {
			h.logger.Warn("match info failed",
				zap.Stringer("shard", r.Shard),
				zap.String("status", string(r.Status())),
			)
			continue
		}
		r.Apply(h.matches)
	}
	h.matchInfos = nil
	for _, it := range h.ownIDs {
		h.matches[it.Index].SetID(it.ID)
	}
	h.ownIDs = nil
	h.dedupeRegions()

	origin := h.req.Origin()
	if origin.Valid() {
		sorting.CalcDistancesAndSort(h.unexpanded, origin, h.req.Sorting(), 0)
	}
	sorting.CalcDistancesAndSort(h.matches, origin, h.req.Sorting(), h.req.NbrSortedHits())
	h.complete()
}
