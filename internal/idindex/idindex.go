// Package idindex implements the id-index: a per-leaf-block record of
// which node/way/relation ids that block contains, letting an update pass
// find every tile touched by a changeset without reading the whole data
// file.
package idindex

import (
	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

// Record is one leaf block's id manifest: the three id arrays are
// delta-packed, since each is already sorted within a block (I5).
type Record struct {
	Quadtree    quadtree.Quadtree
	NodeIDs     []int64
	WayIDs      []int64
	RelationIDs []int64
}

// RecordFromGroup builds a Record from a sorted leaf group's three object
// lists.
func RecordFromGroup(q quadtree.Quadtree, g element.Group) Record {
	r := Record{Quadtree: q}
	for _, n := range g.Nodes {
		r.NodeIDs = append(r.NodeIDs, n.ID)
	}
	for _, w := range g.Ways {
		r.WayIDs = append(r.WayIDs, w.ID)
	}
	for _, rel := range g.Relations {
		r.RelationIDs = append(r.RelationIDs, rel.ID)
	}
	return r
}

// Pack serializes one record: quadtree(1, zigzag varint), node ids(2,
// delta), way ids(3, delta), relation ids(4, delta).
func (r Record) Pack() []byte {
	var buf []byte
	buf = pbf.PackValue(buf, 1, pbf.ZigZag(int64(r.Quadtree)))
	buf = pbf.PackData(buf, 2, pbf.PackDeltaInt(r.NodeIDs))
	buf = pbf.PackData(buf, 3, pbf.PackDeltaInt(r.WayIDs))
	buf = pbf.PackData(buf, 4, pbf.PackDeltaInt(r.RelationIDs))
	return buf
}

// ReadRecord decodes one Pack'd record.
func ReadRecord(data []byte) (Record, error) {
	tags, err := pbf.IterTags(data)
	if err != nil {
		return Record{}, err
	}
	r := Record{}
	for _, t := range tags {
		switch t.Field {
		case 1:
			r.Quadtree = quadtree.Quadtree(pbf.UnZigZag(t.Value))
		case 2:
			r.NodeIDs, err = pbf.ReadDeltaPackedInt(t.Data)
		case 3:
			r.WayIDs, err = pbf.ReadDeltaPackedInt(t.Data)
		case 4:
			r.RelationIDs, err = pbf.ReadDeltaPackedInt(t.Data)
		}
		if err != nil {
			return Record{}, err
		}
	}
	return r, nil
}

// Index is the full id-index file: one record per leaf block, in block
// order (I6).
type Index struct {
	Records []Record
}

// Pack serializes the whole index as a sequence of field-1 length-delimited
// records.
func (idx *Index) Pack() []byte {
	var buf []byte
	for _, r := range idx.Records {
		buf = pbf.PackData(buf, 1, r.Pack())
	}
	return buf
}

// ReadIndex decodes a Pack'd index.
func ReadIndex(data []byte) (*Index, error) {
	tags, err := pbf.IterTags(data)
	if err != nil {
		return nil, err
	}
	idx := &Index{}
	for _, t := range tags {
		if t.Field != 1 {
			return nil, oqerr.PbfData("unexpected id-index field %d", t.Field)
		}
		r, err := ReadRecord(t.Data)
		if err != nil {
			return nil, err
		}
		idx.Records = append(idx.Records, r)
	}
	return idx, nil
}

// IdSet answers membership queries by kind, the filter an update pass
// checks every index record's id arrays against.
type IdSet interface {
	ContainsNode(id int64) bool
	ContainsWay(id int64) bool
	ContainsRelation(id int64) bool
}

// Check scans every record and returns the quadtree of each block that
// contains at least one id present in ids.
func (idx *Index) Check(ids IdSet) []quadtree.Quadtree {
	var out []quadtree.Quadtree
	for _, r := range idx.Records {
		if recordTouched(r, ids) {
			out = append(out, r.Quadtree)
		}
	}
	return out
}

func recordTouched(r Record, ids IdSet) bool {
	for _, id := range r.NodeIDs {
		if ids.ContainsNode(id) {
			return true
		}
	}
	for _, id := range r.WayIDs {
		if ids.ContainsWay(id) {
			return true
		}
	}
	for _, id := range r.RelationIDs {
		if ids.ContainsRelation(id) {
			return true
		}
	}
	return false
}

// SimpleMap is a plain map-backed IdSet, for changesets small enough that
// lookup cost doesn't matter.
type SimpleMap struct {
	Nodes, Ways, Relations map[int64]bool
}

// NewSimpleMap returns an empty SimpleMap.
func NewSimpleMap() *SimpleMap {
	return &SimpleMap{Nodes: map[int64]bool{}, Ways: map[int64]bool{}, Relations: map[int64]bool{}}
}

func (s *SimpleMap) AddNode(id int64)     { s.Nodes[id] = true }
func (s *SimpleMap) AddWay(id int64)      { s.Ways[id] = true }
func (s *SimpleMap) AddRelation(id int64) { s.Relations[id] = true }

func (s *SimpleMap) ContainsNode(id int64) bool     { return s.Nodes[id] }
func (s *SimpleMap) ContainsWay(id int64) bool      { return s.Ways[id] }
func (s *SimpleMap) ContainsRelation(id int64) bool { return s.Relations[id] }

// TileShift partitions DenseTiled's and BitTiled's per-kind storage into
// ~2^20-id tiles, the same split width waybbox.Split uses for way
// quadtrees.
const TileShift = 20

const tileSize = 1 << TileShift

func tileOf(id int64) (tile int64, offset int) {
	return id >> TileShift, int(id & (tileSize - 1))
}

// DenseTiled stores membership as a []bool per id tile, allocated lazily:
// cheaper per-id than SimpleMap's map entries once a changeset's id
// range is wide but still sparse per tile.
type DenseTiled struct {
	nodes, ways, relations map[int64][]bool
}

// NewDenseTiled returns an empty DenseTiled set.
func NewDenseTiled() *DenseTiled {
	return &DenseTiled{
		nodes:     map[int64][]bool{},
		ways:      map[int64][]bool{},
		relations: map[int64][]bool{},
	}
}

func denseAdd(m map[int64][]bool, id int64) {
	tile, off := tileOf(id)
	b := m[tile]
	if b == nil {
		b = make([]bool, tileSize)
		m[tile] = b
	}
	b[off] = true
}

func denseContains(m map[int64][]bool, id int64) bool {
	tile, off := tileOf(id)
	b, ok := m[tile]
	return ok && b[off]
}

func (d *DenseTiled) AddNode(id int64)     { denseAdd(d.nodes, id) }
func (d *DenseTiled) AddWay(id int64)      { denseAdd(d.ways, id) }
func (d *DenseTiled) AddRelation(id int64) { denseAdd(d.relations, id) }

func (d *DenseTiled) ContainsNode(id int64) bool     { return denseContains(d.nodes, id) }
func (d *DenseTiled) ContainsWay(id int64) bool      { return denseContains(d.ways, id) }
func (d *DenseTiled) ContainsRelation(id int64) bool { return denseContains(d.relations, id) }

// BitTiled stores membership as a packed bitset per id tile: 1 bit per
// id instead of DenseTiled's 1 byte, for the largest changesets.
type BitTiled struct {
	nodes, ways, relations map[int64][]uint64
}

// NewBitTiled returns an empty BitTiled set.
func NewBitTiled() *BitTiled {
	return &BitTiled{
		nodes:     map[int64][]uint64{},
		ways:      map[int64][]uint64{},
		relations: map[int64][]uint64{},
	}
}

const wordsPerTile = tileSize / 64

func bitAdd(m map[int64][]uint64, id int64) {
	tile, off := tileOf(id)
	w := m[tile]
	if w == nil {
		w = make([]uint64, wordsPerTile)
		m[tile] = w
	}
	w[off/64] |= 1 << uint(off%64)
}

func bitContains(m map[int64][]uint64, id int64) bool {
	tile, off := tileOf(id)
	w, ok := m[tile]
	return ok && w[off/64]&(1<<uint(off%64)) != 0
}

func (b *BitTiled) AddNode(id int64)     { bitAdd(b.nodes, id) }
func (b *BitTiled) AddWay(id int64)      { bitAdd(b.ways, id) }
func (b *BitTiled) AddRelation(id int64) { bitAdd(b.relations, id) }

func (b *BitTiled) ContainsNode(id int64) bool     { return bitContains(b.nodes, id) }
func (b *BitTiled) ContainsWay(id int64) bool      { return bitContains(b.ways, id) }
func (b *BitTiled) ContainsRelation(id int64) bool { return bitContains(b.relations, id) }
