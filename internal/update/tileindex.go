// Package update implements the generation orchestrator: given a
// generation directory and the next OSC changeset, it finds the tiles the
// changeset touches via the id-index, rewrites only those tiles, and
// appends the new generation to filelist.json.
package update

import (
	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

// TileEntry records one tile-tree leaf's byte span within a generation's
// data file.
type TileEntry struct {
	Quadtree quadtree.Quadtree
	Offset   int64
	Length   int64
}

// TileIndex is the full position index for one generation file.
type TileIndex struct {
	Entries []TileEntry
}

// Pack serializes the index as a sequence of length-delimited entries,
// each a (quadtree, offset, length) triple of varints, the quadtree
// zigzag-encoded.
func (ti *TileIndex) Pack() []byte {
	var buf []byte
	for _, e := range ti.Entries {
		var entry []byte
		entry = pbf.PackValue(entry, 1, pbf.ZigZag(int64(e.Quadtree)))
		entry = pbf.PackValue(entry, 2, uint64(e.Offset))
		entry = pbf.PackValue(entry, 3, uint64(e.Length))
		buf = pbf.PackData(buf, 1, entry)
	}
	return buf
}

// ReadTileIndex parses the wire format Pack produces.
func ReadTileIndex(data []byte) (*TileIndex, error) {
	tags, err := pbf.IterTags(data)
	if err != nil {
		return nil, err
	}
	ti := &TileIndex{}
	for _, t := range tags {
		if t.Field != 1 {
			return nil, oqerr.PbfData("unexpected tile index field %d", t.Field)
		}
		entryTags, err := pbf.IterTags(t.Data)
		if err != nil {
			return nil, err
		}
		var e TileEntry
		for _, et := range entryTags {
			switch et.Field {
			case 1:
				e.Quadtree = quadtree.Quadtree(pbf.UnZigZag(et.Value))
			case 2:
				e.Offset = int64(et.Value)
			case 3:
				e.Length = int64(et.Value)
			}
		}
		ti.Entries = append(ti.Entries, e)
	}
	return ti, nil
}

// Lookup returns the span for q, if present.
func (ti *TileIndex) Lookup(q quadtree.Quadtree) (TileEntry, bool) {
	for _, e := range ti.Entries {
		if e.Quadtree == q {
			return e, true
		}
	}
	return TileEntry{}, false
}
