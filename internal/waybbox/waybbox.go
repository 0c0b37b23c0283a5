// Package waybbox resolves way quadtrees: for each way, expand a bounding
// box over its referenced nodes' locations (via a merge join against the
// way-node tiles in internal/waynode) and reduce that bbox to a quadtree
// cell. Two storage strategies are offered for the intermediate
// way_id -> quadtree map: Simple (sorted map) and Split (dense bit-packed
// array).
package waybbox

import (
	"sort"
	"sync"

	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/waynode"
)

// SplitShift is S in QuadtreeSplit's tile_key = id >> S: 2^20 way ids per
// dense tile.
const SplitShift = 20

// SplitSize is the number of slots in one dense tile: 2^SplitShift.
const SplitSize = 1 << SplitShift

// SplitMask extracts a way id's offset within its tile.
const SplitMask = SplitSize - 1

// Store maps way id to quadtree, accumulating via Common() when a way id
// is set more than once (a way's bbox grows as more of its nodes are
// located).
type Store interface {
	HasValue(id int64) bool
	Get(id int64) (quadtree.Quadtree, bool)
	Set(id int64, q quadtree.Quadtree)
	Expand(id int64, q quadtree.Quadtree)
	Len() int
	Items() []Entry

	// CheckBudget reports whether the store's current footprint already
	// exceeds ramBytes. A store with no fixed-size backing (Simple)
	// always returns nil; ramBytes <= 0 means no limit was given.
	CheckBudget(ramBytes int64) error
}

// Entry is one (id, quadtree) pair, as returned by Items.
type Entry struct {
	ID       int64
	Quadtree quadtree.Quadtree
}

// Simple stores every way's quadtree in an ordinary sorted map: fine for a
// way count that comfortably fits in RAM.
type Simple struct {
	mu   sync.Mutex
	vals map[int64]quadtree.Quadtree
}

// NewSimple returns an empty Simple store.
func NewSimple() *Simple {
	return &Simple{vals: make(map[int64]quadtree.Quadtree)}
}

func (s *Simple) HasValue(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.vals[id]
	return ok
}

func (s *Simple) Get(id int64) (quadtree.Quadtree, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.vals[id]
	return q, ok
}

func (s *Simple) Set(id int64, q quadtree.Quadtree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[id] = q
}

// Expand folds q into id's existing value via Common, or sets it if id has
// no value yet.
func (s *Simple) Expand(id int64, q quadtree.Quadtree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.vals[id]; ok {
		s.vals[id] = q.Common(cur)
	} else {
		s.vals[id] = q
	}
}

func (s *Simple) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vals)
}

// CheckBudget is always satisfied: Simple holds one map entry per way
// regardless of id range, so there's no tile-count blowup to guard against.
func (s *Simple) CheckBudget(ramBytes int64) error {
	return nil
}

func (s *Simple) Items() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.vals))
	for id, q := range s.vals {
		out = append(out, Entry{ID: id, Quadtree: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// tile is one dense SplitSize-wide array of quadtree values, bit-packed as
// a uint32 high-word and a uint16 low-word-plus-presence-bit, to keep the
// per-way memory cost at 6 bytes instead of an 8-byte quadtree plus map
// overhead.
type tile struct {
	off   int64
	a     []uint32
	b     []uint16
	count int
}

func newTile(off int64) *tile {
	return &tile{off: off, a: make([]uint32, SplitSize), b: make([]uint16, SplitSize)}
}

func packVal(v int64) (uint32, uint16) {
	if v < 0 {
		return 0, 0
	}
	a := uint32((v >> 31) & 0xffffffff)
	b := uint16(((v >> 23) & 0xffff) << 8)
	b += uint16((v & 127) << 1)
	b++
	return a, b
}

func unpackVal(a uint32, b uint16) int64 {
	if b&1 == 0 {
		return -1
	}
	v := int64(a)
	v <<= 8
	v += int64(b >> 8)
	v <<= 23
	v += int64((b >> 1) & 127)
	return v
}

func (t *tile) hasValue(i int) bool { return t.b[i]&1 == 1 }
func (t *tile) get(i int) int64     { return unpackVal(t.a[i], t.b[i]) }

func (t *tile) set(i int, v int64) {
	newv := !t.hasValue(i)
	a, b := packVal(v)
	t.a[i], t.b[i] = a, b
	if newv {
		t.count++
	}
}

// Split stores way quadtrees in dense, bit-packed tiles keyed by
// id>>SplitShift: cheaper per-entry than Simple once the way count runs
// into the hundreds of millions, at the cost of allocating a full tile
// the first time any id in its range is set.
type Split struct {
	mu    sync.Mutex
	tiles map[int64]*tile
	count int
}

// NewSplit returns an empty Split store.
func NewSplit() *Split {
	return &Split{tiles: make(map[int64]*tile)}
}

func (s *Split) tileFor(id int64, create bool) (*tile, int) {
	idt := id >> SplitShift
	idi := int(id & SplitMask)
	t, ok := s.tiles[idt]
	if !ok {
		if !create {
			return nil, idi
		}
		t = newTile(idt << SplitShift)
		s.tiles[idt] = t
	}
	return t, idi
}

func (s *Split) HasValue(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, idi := s.tileFor(id, false)
	return t != nil && t.hasValue(idi)
}

func (s *Split) Get(id int64) (quadtree.Quadtree, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, idi := s.tileFor(id, false)
	if t == nil || !t.hasValue(idi) {
		return 0, false
	}
	return quadtree.Quadtree(t.get(idi)), true
}

func (s *Split) Set(id int64, q quadtree.Quadtree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, idi := s.tileFor(id, true)
	before := t.count
	t.set(idi, int64(q))
	s.count += t.count - before
}

func (s *Split) Expand(id int64, q quadtree.Quadtree) {
	s.mu.Lock()
	t, idi := s.tileFor(id, true)
	if t.hasValue(idi) {
		q = q.Common(quadtree.Quadtree(t.get(idi)))
	}
	before := t.count
	t.set(idi, int64(q))
	s.count += t.count - before
	s.mu.Unlock()
}

func (s *Split) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// splitTileBytes is a tile's in-memory footprint: a uint32 and a uint16
// slot per id in its SplitSize range.
const splitTileBytes = SplitSize * 6

// CheckBudget reports ResourceExhausted once the tiles already allocated
// would, at worst case, occupy more than ramBytes: id ranges spread thin
// over the keyspace (e.g. a near-global extract with sparse way ids) can
// allocate far more tiles than the way count alone suggests.
func (s *Split) CheckBudget(ramBytes int64) error {
	if ramBytes <= 0 {
		return nil
	}
	s.mu.Lock()
	tiles := len(s.tiles)
	s.mu.Unlock()
	used := int64(tiles) * splitTileBytes
	if used > ramBytes {
		return oqerr.ResourceExhausted(
			"waybbox: split store holds %d tiles (~%dMB), exceeding --ram budget of %dMB; too many tiles for the given id range",
			tiles, used/(1<<20), ramBytes/(1<<20))
	}
	return nil
}

func (s *Split) Items() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	tileKeys := make([]int64, 0, len(s.tiles))
	for k := range s.tiles {
		tileKeys = append(tileKeys, k)
	}
	sort.Slice(tileKeys, func(i, j int) bool { return tileKeys[i] < tileKeys[j] })

	var out []Entry
	for _, k := range tileKeys {
		t := s.tiles[k]
		for i := 0; i < SplitSize; i++ {
			v := t.get(i)
			if v >= 0 {
				out = append(out, Entry{ID: t.off + int64(i), Quadtree: quadtree.Quadtree(v)})
			}
		}
	}
	return out
}

// NodeLocations resolves a node id to its Mercator-projected coordinates,
// as populated by the element block reader.
type NodeLocations interface {
	Location(nodeID int64) (lon, lat int32, ok bool)
}

// budgetCheckStride bounds how often ResolveWayQuadtrees re-checks a
// Split store's footprint against its RAM budget: checking every
// incidence would dominate runtime on a planet-scale extract.
const budgetCheckStride = 1 << 16

// ResolveWayQuadtrees runs the merge join: for every (node, way) incidence
// in a way-node tile, look up the node's location and expand the way's
// bbox, then reduce every way's accumulated bbox to a quadtree cell once
// all of its nodes have been folded in.
//
// It returns the count of incidences whose node location could not be
// resolved (the caller logs this as a pass summary); a way left with no
// resolvable node at all gets an explicit quadtree.Unset entry rather
// than being silently dropped from store. If ramBytes > 0 and store's
// footprint would exceed it, ResolveWayQuadtrees aborts early with an
// oqerr.ResourceExhausted error.
func ResolveWayQuadtrees(incidences []waynode.Incidence, locs NodeLocations, store Store, maxLevel int, buffer float64, ramBytes int64) (missing int, err error) {
	bboxes := make(map[int64]*quadtree.Bbox)
	missingWays := make(map[int64]bool)
	for i, inc := range incidences {
		lon, lat, ok := locs.Location(inc.NodeID)
		if !ok {
			missing++
			missingWays[inc.WayID] = true
			continue
		}
		bb, ok := bboxes[inc.WayID]
		if !ok {
			nb := quadtree.NewBbox(lon, lat, lon, lat)
			bboxes[inc.WayID] = &nb
		} else {
			bb.Expand(lon, lat)
		}

		if i%budgetCheckStride == 0 {
			if err := store.CheckBudget(ramBytes); err != nil {
				return missing, err
			}
		}
	}
	for wayID, bb := range bboxes {
		q := quadtree.Calculate(*bb, maxLevel, buffer)
		store.Expand(wayID, q)
	}
	// A way none of whose refs resolved a location never earns a bbox;
	// record it with the unresolved sentinel instead of leaving it unset.
	for wayID := range missingWays {
		if _, ok := bboxes[wayID]; !ok {
			store.Expand(wayID, quadtree.Unset)
		}
	}
	if err := store.CheckBudget(ramBytes); err != nil {
		return missing, err
	}
	return missing, nil
}
