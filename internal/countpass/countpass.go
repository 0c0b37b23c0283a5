// Package countpass implements the count subcommand: per-kind summary
// statistics (count, id range, timestamp range, geometry extent) over a
// data file or a changeset, grounded on the reference counter's
// NodeCount/WayCount/RelationCount accumulators.
package countpass

import (
	"fmt"
	"strings"
	"time"

	"github.com/walkthru-earth/osmquadtree/internal/changeset"
	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/tstamp"
)

const unset = -1

// unixOrZero renders a possibly-unset (-1) unix timestamp the same way
// the reference counter prints "unset" ranges: as the epoch.
func unixOrZero(ts int64) time.Time {
	if ts == unset {
		return time.Unix(0, 0).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// NodeCount accumulates node statistics: count, id range, timestamp
// range, and the combined bbox of every node seen.
type NodeCount struct {
	Num                          int64
	MinID, MaxID                 int64
	MinTs, MaxTs                 int64
	MinLon, MinLat, MaxLon, MaxLat int32
}

// NewNodeCount returns a zeroed accumulator with its range fields at the
// reference counter's matching sentinels.
func NewNodeCount() *NodeCount {
	return &NodeCount{
		MinID: unset, MaxID: unset,
		MinTs: unset, MaxTs: unset,
		MinLon: 1800000000, MinLat: 900000000,
		MaxLon: -1800000000, MaxLat: -900000000,
	}
}

// Add folds one node into the accumulator.
func (c *NodeCount) Add(n *element.Node) {
	c.Num++
	if c.MinID == unset || n.ID < c.MinID {
		c.MinID = n.ID
	}
	if c.MaxID == unset || n.ID > c.MaxID {
		c.MaxID = n.ID
	}
	if n.Info != nil {
		ts := n.Info.Timestamp
		if c.MinTs == unset || ts < c.MinTs {
			c.MinTs = ts
		}
		if c.MaxTs == unset || ts > c.MaxTs {
			c.MaxTs = ts
		}
	}
	if n.Lon < c.MinLon {
		c.MinLon = n.Lon
	}
	if n.Lon > c.MaxLon {
		c.MaxLon = n.Lon
	}
	if n.Lat < c.MinLat {
		c.MinLat = n.Lat
	}
	if n.Lat > c.MaxLat {
		c.MaxLat = n.Lat
	}
}

// AddOther merges another accumulator into c, for combining per-channel
// partial counts.
func (c *NodeCount) AddOther(o *NodeCount) {
	if o.MinID == unset {
		return
	}
	c.Num += o.Num
	if c.MinID == unset || o.MinID < c.MinID {
		c.MinID = o.MinID
	}
	if c.MaxID == unset || o.MaxID > c.MaxID {
		c.MaxID = o.MaxID
	}
	if c.MinTs == unset || o.MinTs < c.MinTs {
		c.MinTs = o.MinTs
	}
	if c.MaxTs == unset || o.MaxTs > c.MaxTs {
		c.MaxTs = o.MaxTs
	}
	if o.MinLon < c.MinLon {
		c.MinLon = o.MinLon
	}
	if o.MaxLon > c.MaxLon {
		c.MaxLon = o.MaxLon
	}
	if o.MinLat < c.MinLat {
		c.MinLat = o.MinLat
	}
	if o.MaxLat > c.MaxLat {
		c.MaxLat = o.MaxLat
	}
}

func (c *NodeCount) String() string {
	return fmt.Sprintf("%10d objects: %12d => %12d [%s => %s] {%d, %d, %d, %d}",
		c.Num, c.MinID, c.MaxID, tstamp.Format(unixOrZero(c.MinTs)), tstamp.Format(unixOrZero(c.MaxTs)),
		c.MinLon, c.MinLat, c.MaxLon, c.MaxLat)
}

// WayCount accumulates way statistics: count, id range, timestamp range,
// and ref-list length/extent.
type WayCount struct {
	Num             int64
	MinID, MaxID    int64
	MinTs, MaxTs    int64
	NumRefs         int64
	MaxRefsLen      int64
	MinRef, MaxRef  int64
}

func NewWayCount() *WayCount {
	return &WayCount{MinID: unset, MaxID: unset, MinTs: unset, MaxTs: unset, MaxRefsLen: unset, MinRef: unset, MaxRef: unset}
}

func (c *WayCount) Add(w *element.Way) {
	c.Num++
	if c.MinID == unset || w.ID < c.MinID {
		c.MinID = w.ID
	}
	if c.MaxID == unset || w.ID > c.MaxID {
		c.MaxID = w.ID
	}
	if w.Info != nil {
		ts := w.Info.Timestamp
		if c.MinTs == unset || ts < c.MinTs {
			c.MinTs = ts
		}
		if c.MaxTs == unset || ts > c.MaxTs {
			c.MaxTs = ts
		}
	}
	n := int64(len(w.Refs))
	c.NumRefs += n
	if c.MaxRefsLen == unset || n > c.MaxRefsLen {
		c.MaxRefsLen = n
	}
	for _, r := range w.Refs {
		if c.MinRef == unset || r < c.MinRef {
			c.MinRef = r
		}
		if c.MaxRef == unset || r > c.MaxRef {
			c.MaxRef = r
		}
	}
}

func (c *WayCount) AddOther(o *WayCount) {
	if o.MinID == unset {
		return
	}
	c.Num += o.Num
	if c.MinID == unset || o.MinID < c.MinID {
		c.MinID = o.MinID
	}
	if c.MaxID == unset || o.MaxID > c.MaxID {
		c.MaxID = o.MaxID
	}
	if c.MinTs == unset || o.MinTs < c.MinTs {
		c.MinTs = o.MinTs
	}
	if c.MaxTs == unset || o.MaxTs > c.MaxTs {
		c.MaxTs = o.MaxTs
	}
	c.NumRefs += o.NumRefs
	if c.MaxRefsLen == unset || o.MaxRefsLen > c.MaxRefsLen {
		c.MaxRefsLen = o.MaxRefsLen
	}
	if c.MinRef == unset || o.MinRef < c.MinRef {
		c.MinRef = o.MinRef
	}
	if c.MaxRef == unset || o.MaxRef > c.MaxRef {
		c.MaxRef = o.MaxRef
	}
}

func (c *WayCount) String() string {
	return fmt.Sprintf("%10d objects: %12d => %12d [%s => %s] {%d refs, %d to %d. Longest: %d}",
		c.Num, c.MinID, c.MaxID, tstamp.Format(unixOrZero(c.MinTs)), tstamp.Format(unixOrZero(c.MaxTs)),
		c.NumRefs, c.MinRef, c.MaxRef, c.MaxRefsLen)
}

// RelationCount accumulates relation statistics: count, id range,
// timestamp range, member-list length, and how many relations had no
// members at all.
type RelationCount struct {
	Num              int64
	MinID, MaxID     int64
	MinTs, MaxTs     int64
	NumEmpties       int64
	NumMems          int64
	MaxMemsLen       int64
}

func NewRelationCount() *RelationCount {
	return &RelationCount{MinID: unset, MaxID: unset, MinTs: unset, MaxTs: unset}
}

func (c *RelationCount) Add(r *element.Relation) {
	c.Num++
	if c.MinID == unset || r.ID < c.MinID {
		c.MinID = r.ID
	}
	if c.MaxID == unset || r.ID > c.MaxID {
		c.MaxID = r.ID
	}
	if r.Info != nil {
		ts := r.Info.Timestamp
		if c.MinTs == unset || ts < c.MinTs {
			c.MinTs = ts
		}
		if c.MaxTs == unset || ts > c.MaxTs {
			c.MaxTs = ts
		}
	}
	n := int64(len(r.Members))
	if n == 0 {
		c.NumEmpties++
	}
	c.NumMems += n
	if n > c.MaxMemsLen {
		c.MaxMemsLen = n
	}
}

func (c *RelationCount) AddOther(o *RelationCount) {
	if o.MinID == unset {
		return
	}
	c.Num += o.Num
	if c.MinID == unset || o.MinID < c.MinID {
		c.MinID = o.MinID
	}
	if c.MaxID == unset || o.MaxID > c.MaxID {
		c.MaxID = o.MaxID
	}
	if c.MinTs == unset || o.MinTs < c.MinTs {
		c.MinTs = o.MinTs
	}
	if c.MaxTs == unset || o.MaxTs > c.MaxTs {
		c.MaxTs = o.MaxTs
	}
	c.NumEmpties += o.NumEmpties
	c.NumMems += o.NumMems
	if o.MaxMemsLen > c.MaxMemsLen {
		c.MaxMemsLen = o.MaxMemsLen
	}
}

func (c *RelationCount) String() string {
	return fmt.Sprintf("%10d objects: %12d => %12d [%s => %s] {Longest: %d, %d empties.}",
		c.Num, c.MinID, c.MaxID, tstamp.Format(unixOrZero(c.MinTs)), tstamp.Format(unixOrZero(c.MaxTs)),
		c.MaxMemsLen, c.NumEmpties)
}

// Count is the combined per-kind summary over a Normal-changetype file.
type Count struct {
	Node     *NodeCount
	Way      *WayCount
	Relation *RelationCount
}

func NewCount() *Count {
	return &Count{Node: NewNodeCount(), Way: NewWayCount(), Relation: NewRelationCount()}
}

// AddBlock folds every group of a decoded block into the count.
func (c *Count) AddBlock(b *element.Block) {
	for _, g := range b.Groups {
		for _, n := range g.Nodes {
			c.Node.Add(n)
		}
		for _, w := range g.Ways {
			c.Way.Add(w)
		}
		for _, r := range g.Relations {
			c.Relation.Add(r)
		}
	}
}

func (c *Count) AddOther(o *Count) {
	c.Node.AddOther(o.Node)
	c.Way.AddOther(o.Way)
	c.Relation.AddOther(o.Relation)
}

func (c *Count) String() string {
	return fmt.Sprintf("node:      %s\nway:       %s\nrelations: %s", c.Node, c.Way, c.Relation)
}

// ChangeCount is the count subcommand's summary for a changeset: one
// NodeCount/WayCount/RelationCount per changetype seen, since an OSC
// file's create/modify/delete actions are usually reported separately.
type ChangeCount struct {
	Node     map[element.Changetype]*NodeCount
	Way      map[element.Changetype]*WayCount
	Relation map[element.Changetype]*RelationCount
}

func NewChangeCount() *ChangeCount {
	return &ChangeCount{
		Node:     map[element.Changetype]*NodeCount{},
		Way:      map[element.Changetype]*WayCount{},
		Relation: map[element.Changetype]*RelationCount{},
	}
}

// AddChangeBlock folds a parsed changeset into the per-changetype counts.
func (c *ChangeCount) AddChangeBlock(cb *changeset.ChangeBlock) {
	for _, n := range cb.Nodes {
		if _, ok := c.Node[n.Changetype]; !ok {
			c.Node[n.Changetype] = NewNodeCount()
		}
		c.Node[n.Changetype].Add(n)
	}
	for _, w := range cb.Ways {
		if _, ok := c.Way[w.Changetype]; !ok {
			c.Way[w.Changetype] = NewWayCount()
		}
		c.Way[w.Changetype].Add(w)
	}
	for _, r := range cb.Relations {
		if _, ok := c.Relation[r.Changetype]; !ok {
			c.Relation[r.Changetype] = NewRelationCount()
		}
		c.Relation[r.Changetype].Add(r)
	}
}

func (c *ChangeCount) String() string {
	var sb strings.Builder
	sb.WriteString("nodes:")
	for ct, n := range c.Node {
		fmt.Fprintf(&sb, "\n  %-10s %s", ct, n)
	}
	sb.WriteString("\nways:")
	for ct, w := range c.Way {
		fmt.Fprintf(&sb, "\n  %-10s %s", ct, w)
	}
	sb.WriteString("\nrelations:")
	for ct, r := range c.Relation {
		fmt.Fprintf(&sb, "\n  %-10s %s", ct, r)
	}
	return sb.String()
}
