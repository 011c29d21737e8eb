// Package region models top regions and the shards they span.
package region

import (
	"fmt"
	"slices"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
)

// Tree is the shard-coverage tree of a top region. Every shard points at the
// overview shard covering it; top-level shards have no parent.
type Tree struct {
	parents map[shard.ID]shard.ID
	whole   map[shard.ID]struct{}
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{
		parents: make(map[shard.ID]shard.ID),
		whole:   make(map[shard.ID]struct{}),
	}
}

// AddShard adds id below parent. Pass shard.Unknown for a top-level shard.
func (t *Tree) AddShard(id, parent shard.ID) {
	if _, ok := t.parents[parent]; !ok && parent != shard.Unknown {
		t.parents[parent] = shard.Unknown
	}
	t.parents[id] = parent
}

// MarkWhole records that id lies entirely inside the region.
func (t *Tree) MarkWhole(id shard.ID) {
	if _, ok := t.parents[id]; !ok {
		t.parents[id] = shard.Unknown
	}
	t.whole[id] = struct{}{}
}

// Contains reports whether id belongs to the tree.
func (t *Tree) Contains(id shard.ID) bool {
	_, ok := t.parents[id]
	return ok
}

// IsWhole reports whether id lies entirely inside the region.
func (t *Tree) IsWhole(id shard.ID) bool {
	_, ok := t.whole[id]
	return ok
}

// Parent returns the shard directly covering id.
func (t *Tree) Parent(id shard.ID) (shard.ID, bool) {
	p, ok := t.parents[id]
	if !ok || p == shard.Unknown {
		return shard.Unknown, false
	}
	return p, true
}

// OverviewShardsFor returns the overview shards covering id, nearest first.
func (t *Tree) OverviewShardsFor(id shard.ID) []shard.ID {
	var out []shard.ID
	cur := id
	for range len(t.parents) {
		p, ok := t.Parent(cur)
		if !ok {
			break
		}
		out = append(out, p)
		cur = p
	}
	return out
}

// TopOverviewFor returns the topmost overview shard covering id.
func (t *Tree) TopOverviewFor(id shard.ID) (shard.ID, bool) {
	chain := t.OverviewShardsFor(id)
	if len(chain) == 0 {
		return shard.Unknown, false
	}
	return chain[len(chain)-1], true
}

// TopLevelShards returns the shards without a parent, in ascending order.
func (t *Tree) TopLevelShards() []shard.ID {
	var out []shard.ID
	for id, p := range t.parents {
		if p == shard.Unknown {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Shards returns every shard of the tree, in ascending order.
func (t *Tree) Shards() []shard.ID {
	out := make([]shard.ID, 0, len(t.parents))
	for id := range t.parents {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// WholeShards returns the shards wholly inside the region, in ascending order.
func (t *Tree) WholeShards() []shard.ID {
	out := make([]shard.ID, 0, len(t.whole))
	for id := range t.whole {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of shards in the tree.
func (t *Tree) Len() int { return len(t.parents) }

// TopRegion is an administrative grouping of shards.
type TopRegion struct {
	id   uint32
	name string
	tree *Tree
}

// New creates a top region.
func New(id uint32, name string, tree *Tree) (TopRegion, error) {
	if name == "" {
		return TopRegion{}, fmt.Errorf("top region %d: name is required", id)
	}
	if tree == nil {
		tree = NewTree()
	}
	return TopRegion{id: id, name: name, tree: tree}, nil
}

// ID returns the region id.
func (r TopRegion) ID() uint32 { return r.id }

// Name returns the display name.
func (r TopRegion) Name() string { return r.name }

// Tree returns the coverage tree.
func (r TopRegion) Tree() *Tree { return r.tree }

// Catalog is a read-only set of top regions.
type Catalog struct {
	regions []TopRegion
	byID    map[uint32]int
}

// NewCatalog indexes regions by id. A later duplicate replaces an earlier one.
func NewCatalog(regions []TopRegion) *Catalog {
	c := &Catalog{byID: make(map[uint32]int, len(regions))}
	for _, r := range regions {
		if i, ok := c.byID[r.id]; ok {
			c.regions[i] = r
			continue
		}
		c.byID[r.id] = len(c.regions)
		c.regions = append(c.regions, r)
	}
	return c
}

// Find looks a region up by id.
func (c *Catalog) Find(id uint32) (TopRegion, bool) {
	if c == nil {
		return TopRegion{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return TopRegion{}, false
	}
	return c.regions[i], true
}

// All returns the regions in insertion order.
func (c *Catalog) All() []TopRegion {
	if c == nil {
		return nil
	}
	return c.regions
}

// Len returns the number of regions.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.regions)
}

// TopOverviewFor returns the topmost overview shard covering id in any region.
func (c *Catalog) TopOverviewFor(id shard.ID) (shard.ID, bool) {
	for _, r := range c.All() {
		if ov, ok := r.tree.TopOverviewFor(id); ok {
			return ov, true
		}
	}
	return shard.Unknown, false
}
