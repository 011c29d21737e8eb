// Package sorting orders and merges match lists.
package sorting

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/geo"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
)

// Policy is the requested result ordering.
type Policy uint8

// Orderings.
const (
	// Confidence orders by descending confidence points.
	Confidence Policy = iota
	// Distance orders by ascending distance to the sort origin.
	Distance
	// Alphabetic orders by name, case-insensitively.
	Alphabetic
)

func (p Policy) String() string {
	switch p {
	case Distance:
		return "distance"
	case Confidence:
		return "confidence"
	case Alphabetic:
		return "alphabetic"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// IsValid checks if the policy is one of the supported values.
func (p Policy) IsValid() bool {
	return p == Distance || p == Confidence || p == Alphabetic
}

// ParsePolicy maps a policy name to its value.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "distance":
		return Distance, nil
	case "confidence", "":
		return Confidence, nil
	case "alphabetic", "alphabetical":
		return Alphabetic, nil
	default:
		return Confidence, fmt.Errorf("unknown sorting policy %q", s)
	}
}

// LessFunc reports whether a sorts before b.
type LessFunc func(a, b *match.Match) bool

// Less returns the comparator for p.
func (p Policy) Less() LessFunc {
	switch p {
	case Distance:
		return DistanceLess
	case Alphabetic:
		return AlphabeticLess
	default:
		return ConfidenceLess
	}
}

var folders = sync.Pool{New: func() any { return cases.Fold() }}

// fold maps a name to its comparison key: transliterated to ASCII and case folded.
func fold(s string) string {
	c, _ := folders.Get().(cases.Caser)
	defer folders.Put(c)
	return c.String(unidecode.Unidecode(s))
}

func compareNames(a, b *match.Match) int {
	if c := strings.Compare(fold(a.Name()), fold(b.Name())); c != 0 {
		return c
	}
	return strings.Compare(fold(a.LocationName()), fold(b.LocationName()))
}

// DistanceLess orders by ascending distance. Unknown distances sort last;
// ties fall back to the names.
func DistanceLess(a, b *match.Match) bool {
	if a.Distance() != b.Distance() {
		return a.Distance() < b.Distance()
	}
	return compareNames(a, b) < 0
}

// ConfidenceLess orders by descending points; ties fall back to DistanceLess.
func ConfidenceLess(a, b *match.Match) bool {
	if a.Points() != b.Points() {
		return a.Points() > b.Points()
	}
	return DistanceLess(a, b)
}

// AlphabeticLess orders by primary name then location name.
func AlphabeticLess(a, b *match.Match) bool {
	return compareNames(a, b) < 0
}

func compareOf(less LessFunc) func(a, b *match.Match) int {
	return func(a, b *match.Match) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	}
}

// Sort orders ms under p. When nbrSorted is positive and smaller than
// len(ms), only the first nbrSorted elements are guaranteed to be ordered;
// the rest keep their relative order behind them.
func Sort(ms []*match.Match, p Policy, nbrSorted int) {
	less := p.Less()
	if nbrSorted <= 0 || len(ms) <= nbrSorted {
		slices.SortStableFunc(ms, compareOf(less))
		return
	}
	partialSort(ms, less, nbrSorted)
}

// CalcDistancesAndSort sets every match's distance to origin and sorts.
// With an unresolved origin distances are left alone and a distance
// ordering degrades to confidence. Returns how many matches lacked a
// coordinate.
func CalcDistancesAndSort(ms []*match.Match, origin geo.Coordinate, p Policy, nbrSorted int) int {
	missing := 0
	if origin.Valid() {
		for _, m := range ms {
			d := geo.DistanceMeters(origin, m.Coordinate())
			if d == geo.UnknownDistance {
				missing++
			}
			m.SetDistance(d)
		}
	} else if p == Distance {
		p = Confidence
	}
	Sort(ms, p, nbrSorted)
	return missing
}

// MergeSorted merges the sorted source into the sorted target and empties
// source. Elements of target come first among equals.
func MergeSorted(target, source *[]*match.Match, less LessFunc) {
	src := *source
	*source = nil
	if len(src) == 0 {
		return
	}
	dst := *target
	if len(dst) == 0 {
		*target = src
		return
	}
	out := make([]*match.Match, 0, len(dst)+len(src))
	i, j := 0, 0
	for i < len(dst) && j < len(src) {
		if less(src[j], dst[i]) {
			out = append(out, src[j])
			j++
		} else {
			out = append(out, dst[i])
			i++
		}
	}
	out = append(out, dst[i:]...)
	out = append(out, src[j:]...)
	*target = out
}

// worstFirst is a max-heap of indices into ms: the root is the worst kept element.
type worstFirst struct {
	idx  []int
	ms   []*match.Match
	less LessFunc
}

func (h *worstFirst) Len() int { return len(h.idx) }

func (h *worstFirst) Less(i, j int) bool {
	a, b := h.ms[h.idx[i]], h.ms[h.idx[j]]
	if h.less(b, a) {
		return true
	}
	if h.less(a, b) {
		return false
	}
	return h.idx[i] > h.idx[j]
}

func (h *worstFirst) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }

func (h *worstFirst) Push(x any) { h.idx = append(h.idx, x.(int)) }

func (h *worstFirst) Pop() any {
	n := len(h.idx)
	v := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return v
}

// partialSort moves the k best elements, ordered, to the front of ms.
func partialSort(ms []*match.Match, less LessFunc, k int) {
	h := &worstFirst{idx: make([]int, 0, k), ms: ms, less: less}
	for i := range ms {
		if h.Len() < k {
			heap.Push(h, i)
			continue
		}
		if less(ms[i], ms[h.idx[0]]) {
			h.idx[0] = i
			heap.Fix(h, 0)
		}
	}

	best := h.idx
	slices.SortFunc(best, func(a, b int) int {
		if c := compareOf(less)(ms[a], ms[b]); c != 0 {
			return c
		}
		return a - b
	})

	chosen := make([]bool, len(ms))
	out := make([]*match.Match, 0, len(ms))
	for _, i := range best {
		chosen[i] = true
		out = append(out, ms[i])
	}
	for i, m := range ms {
		if !chosen[i] {
			out = append(out, m)
		}
	}
	copy(ms, out)
}
