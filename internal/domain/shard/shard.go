// Package shard identifies map shards and the services that serve them.
package shard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID identifies a map shard. The high bit marks overview shards.
type ID uint32

const (
	// Unknown is the reserved "no shard" value.
	Unknown ID = math.MaxUint32

	overviewBit ID = 0x80000000

	// FirstOverview is the lowest overview shard id.
	FirstOverview ID = overviewBit
)

// IsOverview reports whether id is a coarse, wide-coverage shard.
func (id ID) IsOverview() bool {
	return id != Unknown && id&overviewBit != 0
}

// IsUnderview reports whether id is a detailed local shard.
func (id ID) IsUnderview() bool {
	return id != Unknown && id&overviewBit == 0
}

func (id ID) String() string {
	if id == Unknown {
		return "unknown"
	}
	return fmt.Sprintf("0x%08x", uint32(id))
}

// Parse reads a shard id in decimal or 0x-prefixed hex.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return Unknown, fmt.Errorf("parse shard id %q: %w", s, err)
	}
	return ID(v), nil
}

// Target is the kind of remote service a per-shard request is addressed to.
type Target string

// Service kinds.
const (
	// TargetSearch serves overview search, search and expand requests.
	TargetSearch Target = "search"
	// TargetMap serves coordinates, match info and top regions.
	TargetMap Target = "map"
)

// IsValid checks if the target is one of the supported values.
func (t Target) IsValid() bool {
	return t == TargetSearch || t == TargetMap
}
