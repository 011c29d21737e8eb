package search

import (
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
)

// ReduceOverviewMatches narrows raw overview hits to the best candidates.
// The stages run in a fixed order, each assuming the previous one ran:
// coverage, full / unique-or-full preference, restriction relaxation,
// minimum edit cost. A nil tree allows every shard.
func ReduceOverviewMatches(ms []*match.Match, tree *region.Tree) []*match.Match {
	kept := make([]*match.Match, 0, len(ms))
	for _, m := range ms {
		if covered(m, tree) {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return kept
	}
	kept = preferFull(kept)
	kept = relaxRestrictions(kept)
	return minEditCost(kept)
}

func covered(m *match.Match, tree *region.Tree) bool {
	if tree == nil || tree.Len() == 0 {
		return true
	}
	if tree.Contains(m.Shard()) {
		return true
	}
	ov := m.Overview().OverviewID
	return ov.Known() && tree.Contains(ov.Shard)
}

func preferFull(ms []*match.Match) []*match.Match {
	if full := filter(ms, func(m *match.Match) bool { return m.Overview().Full }); len(full) > 0 {
		return full
	}
	if uof := filter(ms, func(m *match.Match) bool { return m.Overview().UniqueOrFull }); len(uof) > 0 {
		return uof
	}
	return ms
}

// relaxRestrictions keeps the matches needing the lowest restriction bit.
// Matches without restrictions are only considered when no bit matched.
func relaxRestrictions(ms []*match.Match) []*match.Match {
	for bit := range 8 {
		mask := uint8(1) << bit
		if hit := filter(ms, func(m *match.Match) bool { return m.Restrictions()&mask != 0 }); len(hit) > 0 {
			return hit
		}
	}
	if none := filter(ms, func(m *match.Match) bool { return m.Restrictions() == 0 }); len(none) > 0 {
		return none
	}
	return ms
}

func minEditCost(ms []*match.Match) []*match.Match {
	lowest := ms[0].Overview().EditCost
	for _, m := range ms[1:] {
		lowest = min(lowest, m.Overview().EditCost)
	}
	return filter(ms, func(m *match.Match) bool { return m.Overview().EditCost == lowest })
}

func filter(ms []*match.Match, keep func(*match.Match) bool) []*match.Match {
	var out []*match.Match
	for _, m := range ms {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
