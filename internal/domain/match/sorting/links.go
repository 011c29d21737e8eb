package sorting

import (
	"slices"

	"go.uber.org/zap"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
)

// End terminates a linked list.
const End = -1

type node struct {
	m    *match.Match
	next int
}

// Links is an arena of singly linked match lists addressed by node index.
// Merging relinks indices and never copies matches.
type Links struct {
	nodes  []node
	logger *zap.Logger
}

// NewLinks creates an empty arena.
func NewLinks(logger *zap.Logger) *Links {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Links{logger: logger}
}

// Append stores ms as a new list in the given order and returns its head.
func (l *Links) Append(ms []*match.Match) int {
	if len(ms) == 0 {
		return End
	}
	head := len(l.nodes)
	for i, m := range ms {
		next := head + i + 1
		if i == len(ms)-1 {
			next = End
		}
		l.nodes = append(l.nodes, node{m: m, next: next})
	}
	return head
}

// Len counts the nodes reachable from head.
func (l *Links) Len(head int) int {
	n := 0
	for i := head; i != End; i = l.nodes[i].next {
		n++
	}
	return n
}

// Collect returns the matches of the list starting at head.
func (l *Links) Collect(head int) []*match.Match {
	out := make([]*match.Match, 0, l.Len(head))
	for i := head; i != End; i = l.nodes[i].next {
		out = append(out, l.nodes[i].m)
	}
	return out
}

// MergeAll merges the sorted lists by recursive bisection and returns the
// head of the combined list.
//
// Lists from different shards carry confidence values computed independently
// per shard, so the combined order is a best-effort approximation. No
// normalization across shards is attempted.
func (l *Links) MergeAll(heads []int, less LessFunc) int {
	switch len(heads) {
	case 0:
		return End
	case 1:
		return heads[0]
	}
	lists := slices.Clone(heads)
	l.mergeRange(lists, 0, len(lists)-1, 0, less)
	return lists[0]
}

// mergeRange merges lists[lo..hi] into lists[res], clearing the slots it consumed.
func (l *Links) mergeRange(lists []int, lo, hi, res int, less LessFunc) {
	if lo == hi {
		l.logger.Error("attempted to merge a match list with itself",
			zap.Int("list", lo),
		)
		return
	}
	mid := (lo + hi) / 2
	if lo < mid {
		l.mergeRange(lists, lo, mid, lo, less)
	}
	if mid+1 < hi {
		l.mergeRange(lists, mid+1, hi, hi, less)
	}
	merged := l.merge2(lists[lo], lists[hi], less)
	lists[lo] = End
	lists[hi] = End
	lists[res] = merged
}

// merge2 relinks two sorted lists into one. Nodes of a win ties.
func (l *Links) merge2(a, b int, less LessFunc) int {
	head, tail := End, End
	push := func(i int) {
		if head == End {
			head = i
		} else {
			l.nodes[tail].next = i
		}
		tail = i
	}
	for a != End && b != End {
		if less(l.nodes[b].m, l.nodes[a].m) {
			next := l.nodes[b].next
			push(b)
			b = next
		} else {
			next := l.nodes[a].next
			push(a)
			a = next
		}
	}
	rest := a
	if rest == End {
		rest = b
	}
	if rest != End {
		push(rest)
	}
	return head
}
