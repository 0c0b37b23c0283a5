package update

import (
	"os"
	"path/filepath"

	"github.com/walkthru-earth/osmquadtree/internal/changeset"
	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/genconfig"
	"github.com/walkthru-earth/osmquadtree/internal/idindex"
	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/tiletree"
)

// idIndexSuffix and tileIndexSuffix name the two sidecar files that sit
// next to a generation's data file.
const (
	idIndexSuffix   = "-idx.pbf"
	tileIndexSuffix = "-tileidx.pbf"
)

// ComputeIdSet builds the id-index lookup key from a changeset's directly
// named objects. ExpandIdSet performs the transitive closure over this
// set once the named tiles are loaded: a way or relation that merely
// references a moved node, without being named in the diff itself, is
// pulled in there rather than here.
func ComputeIdSet(cb *changeset.ChangeBlock) *idindex.SimpleMap {
	ids := idindex.NewSimpleMap()
	nodeIDs, wayIDs, relationIDs := cb.TouchedIDs()
	for _, id := range nodeIDs {
		ids.AddNode(id)
	}
	for _, id := range wayIDs {
		ids.AddWay(id)
	}
	for _, id := range relationIDs {
		ids.AddRelation(id)
	}
	return ids
}

// QueryIndex returns the tiles touched by ids, per idx.
func QueryIndex(idx *idindex.Index, ids idindex.IdSet) []quadtree.Quadtree {
	return idx.Check(ids)
}

// ReadTiles reads the decoded block for each requested tile out of a
// generation's data file, using its position index for random access.
func ReadTiles(dataPath string, ti *TileIndex, tiles []quadtree.Quadtree) (map[quadtree.Quadtree]*element.Block, error) {
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", dataPath)
	}
	out := make(map[quadtree.Quadtree]*element.Block, len(tiles))
	for _, q := range tiles {
		entry, ok := ti.Lookup(q)
		if !ok {
			return nil, oqerr.Integrity("tile index has no entry for quadtree %d", q)
		}
		if entry.Offset+entry.Length > int64(len(data)) {
			return nil, oqerr.Integrity("tile index span for quadtree %d exceeds file length", q)
		}
		_, fb, err := pbf.ReadFileBlockAt(data, entry.Offset)
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "read tile block at %d", entry.Offset)
		}
		raw, err := fb.Data()
		if err != nil {
			return nil, err
		}
		block, err := element.ReadBlock(raw)
		if err != nil {
			return nil, err
		}
		out[q] = block
	}
	return out, nil
}

// NodeLocations answers a node id with its last-known position, needed to
// recompute a changed way's bbox without re-reading every node it
// references.
type NodeLocations interface {
	Location(nodeID int64) (lon, lat int32, ok bool)
}

// ExpandIdSet scans every loaded tile for ways and relations that
// reference an id already in ids but aren't themselves in ids yet: a way
// whose ref moved (same tile or another) and a relation whose member
// moved or was reclassified. It adds every such id to ids and reports
// whether it added anything, so the caller can re-query the id-index for
// newly implicated tiles, load them, and call ExpandIdSet again — the
// loop is a fixpoint over the tiles currently loaded plus whatever the
// previous pass's growth pulled in.
func ExpandIdSet(ids *idindex.SimpleMap, tiles map[quadtree.Quadtree]*element.Block) bool {
	added := false
	for _, block := range tiles {
		for _, g := range block.Groups {
			for _, w := range g.Ways {
				if ids.ContainsWay(w.ID) {
					continue
				}
				for _, ref := range w.Refs {
					if ids.ContainsNode(ref) {
						ids.AddWay(w.ID)
						added = true
						break
					}
				}
			}
			for _, r := range g.Relations {
				if ids.ContainsRelation(r.ID) {
					continue
				}
				for _, m := range r.Members {
					var touched bool
					switch m.MemType {
					case element.KindNode:
						touched = ids.ContainsNode(m.MemRef)
					case element.KindWay:
						touched = ids.ContainsWay(m.MemRef)
					case element.KindRelation:
						touched = ids.ContainsRelation(m.MemRef)
					}
					if touched {
						ids.AddRelation(r.ID)
						added = true
						break
					}
				}
			}
		}
	}
	return added
}

// dependentRecomputePasses bounds RecomputeDependents' relation fixpoint,
// mirroring relquad.MaxPasses: a relation-of-relation chain longer than
// this falls back to its previously-resolved quadtree rather than
// iterating forever over a cyclic membership graph.
const dependentRecomputePasses = 5

// RecomputeDependents re-derives the quadtree of every way and relation
// that ExpandIdSet pulled into ids but that the OSC diff never named
// directly, so ApplyChangeToTile's later per-tile merge sees their
// updated value: a way whose ref moved gets its bbox redone from locs,
// and a relation whose member moved gets its common-ancestor fold redone.
// Ways resolve before relations so a relation that references a
// recomputed way sees the new value; relation resolution itself runs as
// a small fixpoint since relations can reference relations.
func RecomputeDependents(tiles map[quadtree.Quadtree]*element.Block, cb *changeset.ChangeBlock, ids *idindex.SimpleMap, locs NodeLocations, maxLevel int, buffer float64) {
	nodeQT := map[int64]quadtree.Quadtree{}
	wayQT := map[int64]quadtree.Quadtree{}
	relationQT := map[int64]quadtree.Quadtree{}
	for _, block := range tiles {
		for _, g := range block.Groups {
			for _, n := range g.Nodes {
				nodeQT[n.ID] = n.Quadtree
			}
			for _, w := range g.Ways {
				wayQT[w.ID] = w.Quadtree
			}
			for _, r := range g.Relations {
				relationQT[r.ID] = r.Quadtree
			}
		}
	}

	for _, block := range tiles {
		for _, g := range block.Groups {
			for _, w := range g.Ways {
				if _, named := cb.Ways[w.ID]; named || !ids.ContainsWay(w.ID) {
					continue
				}
				w.Quadtree = recomputeWayQuadtree(w, locs, w.Quadtree, maxLevel, buffer)
				wayQT[w.ID] = w.Quadtree
			}
		}
	}

	memberQuadtree := func(m element.Member) (quadtree.Quadtree, bool) {
		switch m.MemType {
		case element.KindNode:
			q, ok := nodeQT[m.MemRef]
			return q, ok
		case element.KindWay:
			q, ok := wayQT[m.MemRef]
			return q, ok
		case element.KindRelation:
			q, ok := relationQT[m.MemRef]
			return q, ok
		}
		return quadtree.Unset, false
	}

	for pass := 0; pass < dependentRecomputePasses; pass++ {
		changed := false
		for _, block := range tiles {
			for _, g := range block.Groups {
				for _, r := range g.Relations {
					if _, named := cb.Relations[r.ID]; named || !ids.ContainsRelation(r.ID) {
						continue
					}
					acc := quadtree.Unset
					for _, m := range r.Members {
						mq, ok := memberQuadtree(m)
						if !ok {
							continue
						}
						acc = acc.Common(mq)
					}
					if acc == quadtree.Unset {
						acc = r.Quadtree
					}
					if acc != r.Quadtree {
						r.Quadtree = acc
						relationQT[r.ID] = acc
						changed = true
					}
				}
			}
		}
		if !changed {
			break
		}
	}
}

// ApplyChangeToTile merges a changeset into one tile's existing block:
// objects present in cb replace (Modify), remove (Delete/Remove), or add
// (Create) by id; everything else in the tile passes through unchanged.
// Quadtrees for touched nodes and ways are recomputed so a later route
// pass can tell whether the object still belongs in this tile.
func ApplyChangeToTile(block *element.Block, cb *changeset.ChangeBlock, locs NodeLocations, maxLevel int, buffer float64) *element.Block {
	g := element.Group{Changetype: element.Normal, Dense: true}

	seenNodes := map[int64]bool{}
	for _, n := range block.Groups[0].Nodes {
		if changed, ok := cb.Nodes[n.ID]; ok {
			seenNodes[n.ID] = true
			if changed.Changetype == element.Delete || changed.Changetype == element.Remove {
				continue
			}
			changed.Quadtree = quadtree.CalculatePoint(changed.Lon, changed.Lat, maxLevel, buffer)
			g.Nodes = append(g.Nodes, changed)
			continue
		}
		g.Nodes = append(g.Nodes, n)
	}
	for id, n := range cb.Nodes {
		if seenNodes[id] || n.Changetype == element.Delete || n.Changetype == element.Remove {
			continue
		}
		n.Quadtree = quadtree.CalculatePoint(n.Lon, n.Lat, maxLevel, buffer)
		g.Nodes = append(g.Nodes, n)
	}

	seenWays := map[int64]bool{}
	for _, w := range block.Groups[0].Ways {
		if changed, ok := cb.Ways[w.ID]; ok {
			seenWays[w.ID] = true
			if changed.Changetype == element.Delete || changed.Changetype == element.Remove {
				continue
			}
			changed.Quadtree = recomputeWayQuadtree(changed, locs, w.Quadtree, maxLevel, buffer)
			g.Ways = append(g.Ways, changed)
			continue
		}
		g.Ways = append(g.Ways, w)
	}
	for id, w := range cb.Ways {
		if seenWays[id] || w.Changetype == element.Delete || w.Changetype == element.Remove {
			continue
		}
		w.Quadtree = recomputeWayQuadtree(w, locs, quadtree.Unset, maxLevel, buffer)
		g.Ways = append(g.Ways, w)
	}

	seenRelations := map[int64]bool{}
	for _, r := range block.Groups[0].Relations {
		if changed, ok := cb.Relations[r.ID]; ok {
			seenRelations[r.ID] = true
			if changed.Changetype == element.Delete || changed.Changetype == element.Remove {
				continue
			}
			if changed.Quadtree == quadtree.Empty || changed.Quadtree == quadtree.Unset {
				changed.Quadtree = r.Quadtree
			}
			g.Relations = append(g.Relations, changed)
			continue
		}
		g.Relations = append(g.Relations, r)
	}
	for id, r := range cb.Relations {
		if seenRelations[id] || r.Changetype == element.Delete || r.Changetype == element.Remove {
			continue
		}
		if r.Quadtree == quadtree.Empty || r.Quadtree == quadtree.Unset {
			r.Quadtree = quadtree.Root
		}
		g.Relations = append(g.Relations, r)
	}

	g.SortObjects()
	return &element.Block{Groups: []element.Group{g}, IncludeQts: true}
}

// recomputeWayQuadtree expands a bbox over w's referenced node locations
// when they're known, falling back to the way's previous quadtree (a way
// whose nodes moved out of this update's diff keeps its last-resolved
// tile, same as the bulk calculator's missing-node fallback).
func recomputeWayQuadtree(w *element.Way, locs NodeLocations, fallback quadtree.Quadtree, maxLevel int, buffer float64) quadtree.Quadtree {
	if locs == nil || len(w.Refs) == 0 {
		return fallback
	}
	var bb *quadtree.Bbox
	for _, ref := range w.Refs {
		lon, lat, ok := locs.Location(ref)
		if !ok {
			continue
		}
		if bb == nil {
			b := quadtree.NewBbox(lon, lat, lon, lat)
			bb = &b
		} else {
			bb.Expand(lon, lat)
		}
	}
	if bb == nil {
		return fallback
	}
	return quadtree.Calculate(*bb, maxLevel, buffer)
}

// LeavesFor reassigns every object in rewritten tiles' blocks to the leaf
// its (possibly new) quadtree actually belongs to, since a recomputed
// quadtree can migrate an object out of the tile it used to live in. The
// returned map is keyed by destination leaf, ready to pass to
// WriteGeneration in place of the caller's original per-source-tile map.
func LeavesFor(tree *tiletree.Tree, tiles map[quadtree.Quadtree]*element.Block) map[quadtree.Quadtree]*element.Block {
	out := map[quadtree.Quadtree]*element.Block{}
	get := func(leaf quadtree.Quadtree) *element.Group {
		b, ok := out[leaf]
		if !ok {
			b = &element.Block{Groups: []element.Group{{Changetype: element.Normal, Dense: true}}, IncludeQts: true}
			out[leaf] = b
		}
		return &b.Groups[0]
	}
	for _, block := range tiles {
		for _, g := range block.Groups {
			for _, n := range g.Nodes {
				leaf := tree.LeafOf(n.Quadtree)
				gg := get(leaf)
				gg.Nodes = append(gg.Nodes, n)
			}
			for _, w := range g.Ways {
				leaf := tree.LeafOf(w.Quadtree)
				gg := get(leaf)
				gg.Ways = append(gg.Ways, w)
			}
			for _, r := range g.Relations {
				leaf := tree.LeafOf(r.Quadtree)
				gg := get(leaf)
				gg.Relations = append(gg.Relations, r)
			}
		}
	}
	for _, b := range out {
		b.Groups[0].SortObjects()
	}
	return out
}

// WriteGeneration writes a new generation file: rewritten tiles from
// `rewritten`, plus every other tile copied verbatim (byte for byte) from
// the previous generation's data file using its position index. It
// returns the new generation's position index and id-index.
func WriteGeneration(outPath string, prevDataPath string, prevTileIndex *TileIndex, rewritten map[quadtree.Quadtree]*element.Block) (*TileIndex, *idindex.Index, error) {
	var prevData []byte
	if prevDataPath != "" {
		data, err := os.ReadFile(prevDataPath)
		if err != nil {
			return nil, nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", prevDataPath)
		}
		prevData = data
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "create directory for %s", outPath)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return nil, nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "create %s", outPath)
	}
	defer out.Close()

	newTi := &TileIndex{}
	newIdx := &idindex.Index{}
	var offset int64

	writeTile := func(q quadtree.Quadtree, framed []byte) error {
		n, err := out.Write(framed)
		if err != nil {
			return oqerr.Wrap(oqerr.KindInvalidInput, err, "write tile %d to %s", q, outPath)
		}
		newTi.Entries = append(newTi.Entries, TileEntry{Quadtree: q, Offset: offset, Length: int64(n)})
		offset += int64(n)
		return nil
	}

	if prevTileIndex != nil {
		for _, e := range prevTileIndex.Entries {
			if block, ok := rewritten[e.Quadtree]; ok {
				framed, err := packBlock(block)
				if err != nil {
					return nil, nil, err
				}
				if err := writeTile(e.Quadtree, framed); err != nil {
					return nil, nil, err
				}
				newIdx.Records = append(newIdx.Records, idindex.RecordFromGroup(e.Quadtree, block.Groups[0]))
				delete(rewritten, e.Quadtree)
				continue
			}
			if e.Offset+e.Length > int64(len(prevData)) {
				return nil, nil, oqerr.Integrity("previous tile index span for quadtree %d exceeds file length", e.Quadtree)
			}
			if err := writeTile(e.Quadtree, prevData[e.Offset:e.Offset+e.Length]); err != nil {
				return nil, nil, err
			}
			rec, err := recordFromPacked(e.Quadtree, prevData[e.Offset:e.Offset+e.Length])
			if err != nil {
				return nil, nil, err
			}
			newIdx.Records = append(newIdx.Records, rec)
		}
	}

	// Whatever is left in `rewritten` is a brand new leaf the previous
	// generation never had a tile for.
	for q, block := range rewritten {
		framed, err := packBlock(block)
		if err != nil {
			return nil, nil, err
		}
		if err := writeTile(q, framed); err != nil {
			return nil, nil, err
		}
		newIdx.Records = append(newIdx.Records, idindex.RecordFromGroup(q, block.Groups[0]))
	}

	return newTi, newIdx, nil
}

func packBlock(block *element.Block) ([]byte, error) {
	packed, err := block.Pack()
	if err != nil {
		return nil, err
	}
	return pbf.PackFileBlock("OSMData", packed, pbf.Zlib)
}

func recordFromPacked(q quadtree.Quadtree, framed []byte) (idindex.Record, error) {
	_, fb, err := pbf.ReadFileBlockAt(framed, 0)
	if err != nil {
		return idindex.Record{}, err
	}
	raw, err := fb.Data()
	if err != nil {
		return idindex.Record{}, err
	}
	block, err := element.ReadBlock(raw)
	if err != nil {
		return idindex.Record{}, err
	}
	if len(block.Groups) == 0 {
		return idindex.Record{Quadtree: q}, nil
	}
	return idindex.RecordFromGroup(q, block.Groups[0]), nil
}

// UpdateFilelist appends e to prfx/filelist.json.
func UpdateFilelist(prfx string, e genconfig.FilelistEntry) error {
	fl, err := genconfig.LoadFilelist(prfx)
	if err != nil {
		return err
	}
	fl.Append(e)
	return fl.Save(prfx)
}

// DataPath and IndexPaths name a generation's files under prfx, following
// the <date>.pbfc / <date>.pbfc-tileidx.pbf / <date>.pbfc-idx.pbf layout.
func DataPath(prfx, filename string) string      { return filepath.Join(prfx, filename) }
func TileIndexPath(prfx, filename string) string { return filepath.Join(prfx, filename+tileIndexSuffix) }
func IdIndexPath(prfx, filename string) string   { return filepath.Join(prfx, filename+idIndexSuffix) }

// LoadTileIndex reads a generation's position index file.
func LoadTileIndex(path string) (*TileIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", path)
	}
	return ReadTileIndex(data)
}

// LoadIdIndex reads a generation's id-index file.
func LoadIdIndex(path string) (*idindex.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", path)
	}
	return idindex.ReadIndex(data)
}

// writeAll is a small helper so callers writing sidecar index files don't
// each repeat the same create-and-write boilerplate.
func writeAll(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "create %s", path)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "write %s", path)
	}
	return nil
}

// SaveTileIndex writes ti to path.
func SaveTileIndex(path string, ti *TileIndex) error { return writeAll(path, ti.Pack()) }

// SaveIdIndex writes idx to path.
func SaveIdIndex(path string, idx *idindex.Index) error { return writeAll(path, idx.Pack()) }
