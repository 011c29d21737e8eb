// Package coordinate resolves item positions by batching one request per shard.
package coordinate

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/geo"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shardmsg"
)

// BestOffset asks the shard for the most representative point of an item.
const BestOffset = 0xffff

var (
	// ErrNotDone is returned by Result before every reply arrived.
	ErrNotDone = errors.New("coordinate lookup not done")
	// ErrNoItem is returned by Result for an index that was never added.
	ErrNoItem = errors.New("no such coordinate item")
)

// State is the lookup's position in its lifecycle.
type State int

// Lookup states.
const (
	AddingItems State = iota
	Sending
	Awaiting
	Done
	Error
)

func (s State) String() string {
	switch s {
	case AddingItems:
		return "ADDING_ITEMS"
	case Sending:
		return "SENDING"
	case Awaiting:
		return "AWAITING"
	case Done:
		return "DONE"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the resolved position of one item.
type Result struct {
	Coord geo.Coordinate
	BBox  geo.BoundingBox
}

// HasCoord reports whether the shard returned a position for the item.
func (r Result) HasCoord() bool { return r.Coord.Valid() }

type entry struct {
	shard  shard.ID
	item   uint32
	offset uint16
	res    Result
}

// Lookup is the coordinate sub-machine. Items are added first; the first
// NextRequest call freezes the set and emits one request per distinct shard.
type Lookup struct {
	state  State
	items  []entry
	ids    shardmsg.IDSource
	rights shardmsg.Rights
	bbox   bool
	logger *zap.Logger

	queue    []shardmsg.Request
	pending  map[uint32]shard.ID
	expected int
	received int
}

// New creates a lookup. bbox asks the shards for bounding boxes as well.
func New(ids shardmsg.IDSource, rights shardmsg.Rights, bbox bool, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{
		ids:     ids,
		rights:  rights,
		bbox:    bbox,
		logger:  logger,
		pending: make(map[uint32]shard.ID),
	}
}

// Add queues an item and returns its index, or -1 once sending has started.
func (l *Lookup) Add(s shard.ID, item uint32, offset uint16) int {
	if l.state != AddingItems {
		l.logger.Error("coordinate item added after sending started",
			zap.Stringer("state", l.state),
			zap.Stringer("shard", s),
		)
		return -1
	}
	l.items = append(l.items, entry{shard: s, item: item, offset: offset})
	return len(l.items) - 1
}

// NbrItems returns the number of items added.
func (l *Lookup) NbrItems() int { return len(l.items) }

// State returns the current state.
func (l *Lookup) State() State { return l.state }

// Done reports whether the lookup has finished, successfully or not.
func (l *Lookup) Done() bool { return l.state == Done || l.state == Error }

// Failed reports whether the lookup could not be built.
func (l *Lookup) Failed() bool { return l.state == Error }

// NextRequest returns the next coordinate request to send, or false when
// nothing is left to send.
func (l *Lookup) NextRequest() (shardmsg.Request, bool) {
	if l.state == AddingItems {
		l.build()
	}
	if l.state != Sending || len(l.queue) == 0 {
		return nil, false
	}
	req := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	if len(l.queue) == 0 {
		l.state = Awaiting
	}
	return req, true
}

func (l *Lookup) build() {
	if len(l.items) == 0 {
		l.state = Done
		return
	}
	if l.ids == nil {
		l.logger.Error("coordinate lookup has no request id source")
		l.state = Error
		return
	}

	var order []shard.ID
	byShard := make(map[shard.ID][]shardmsg.CoordinateItem)
	for i, it := range l.items {
		if _, ok := byShard[it.shard]; !ok {
			order = append(order, it.shard)
		}
		byShard[it.shard] = append(byShard[it.shard], shardmsg.CoordinateItem{
			Index: i, Item: it.item, Offset: it.offset,
		})
	}

	for _, s := range order {
		h := shardmsg.Header{
			RequestID: l.ids.NextRequestID(),
			QueryID:   l.ids.QueryID(),
			Shard:     s,
			Target:    shard.TargetMap,
			Rights:    l.rights,
		}
		l.pending[h.RequestID] = s
		l.queue = append(l.queue, &shardmsg.CoordinateRequest{Header: h, Items: byShard[s], BBox: l.bbox})
	}
	l.expected = len(order)
	l.state = Sending
}

// OnReply records the positions carried by rep. It returns false when rep
// does not belong to this lookup.
func (l *Lookup) OnReply(rep *shardmsg.CoordinateReply) bool {
	if l.state != Sending && l.state != Awaiting {
		l.logger.Error("coordinate reply in unexpected state",
			zap.Stringer("state", l.state),
			zap.Uint32("request_id", rep.RequestID),
		)
		return false
	}
	s, ok := l.pending[rep.RequestID]
	if !ok {
		l.logger.Error("coordinate reply for unknown request",
			zap.Uint32("request_id", rep.RequestID),
		)
		return false
	}
	delete(l.pending, rep.RequestID)

	if rep.Status().IsOK() {
		for _, r := range rep.Items {
			if r.Index < 0 || r.Index >= len(l.items) || l.items[r.Index].shard != s {
				l.logger.Warn("coordinate result for unknown item",
					zap.Int("index", r.Index),
					zap.Stringer("shard", s),
				)
				continue
			}
			l.items[r.Index].res = Result{Coord: r.Coord, BBox: r.BBox}
		}
	} else {
		l.logger.Warn("coordinate lookup failed, items stay unresolved",
			zap.Stringer("shard", s),
			zap.String("status", string(rep.Status())),
		)
	}

	l.received++
	if l.received == l.expected {
		l.state = Done
	}
	return true
}

// Result returns the position of the item added at index i.
func (l *Lookup) Result(i int) (Result, error) {
	if l.state != Done {
		return Result{}, ErrNotDone
	}
	if i < 0 || i >= len(l.items) {
		return Result{}, fmt.Errorf("%w: %d", ErrNoItem, i)
	}
	return l.items[i].res, nil
}

// Shards returns the distinct shards of the added items in first-appearance order.
func (l *Lookup) Shards() []shard.ID {
	var out []shard.ID
	for _, it := range l.items {
		if !slices.Contains(out, it.shard) {
			out = append(out, it.shard)
		}
	}
	return out
}
