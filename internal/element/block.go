package element

import (
	"sort"

	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

// Group is one homogeneous-changetype primitive group within a Block. Base
// (Normal) files pack their nodes via the dense columnar encoding; change
// streams, which are small and changetype-tagged as a whole, pack nodes
// individually the way ways and relations always are.
type Group struct {
	Changetype Changetype
	Dense      bool
	Nodes      []*Node
	Ways       []*Way
	Relations  []*Relation
}

// Block is a framed group of object groups sharing one string table — the
// payload of an "OSMData"-typed FileBlock.
type Block struct {
	Groups     []Group
	IncludeQts bool
}

// Pack serializes the block: string table first (field 1), then each group
// (field 2).
func (b *Block) Pack() ([]byte, error) {
	strs := pbf.NewStringTable()

	// Two passes: intern every string first so the table is complete
	// before any group references it, matching the reference codec's
	// single shared PackStringTable per block.
	for _, g := range b.Groups {
		for _, n := range g.Nodes {
			internTags(strs, n.Tags)
			if n.Info != nil {
				strs.Intern(n.Info.User)
			}
		}
		for _, w := range g.Ways {
			internTags(strs, w.Tags)
			if w.Info != nil {
				strs.Intern(w.Info.User)
			}
		}
		for _, r := range g.Relations {
			internTags(strs, r.Tags)
			if r.Info != nil {
				strs.Intern(r.Info.User)
			}
			for _, m := range r.Members {
				strs.Intern(m.Role)
			}
		}
	}

	var buf []byte
	buf = pbf.PackData(buf, 1, strs.Pack())

	for _, g := range b.Groups {
		groupBytes, err := packGroup(g, strs, b.IncludeQts)
		if err != nil {
			return nil, err
		}
		buf = pbf.PackData(buf, 2, groupBytes)
	}
	return buf, nil
}

func internTags(strs *pbf.StringTable, tags []Tag) {
	for _, t := range tags {
		strs.Intern(t.Key)
		strs.Intern(t.Val)
	}
}

func packGroup(g Group, strs *pbf.StringTable, includeQts bool) ([]byte, error) {
	var buf []byte
	buf = pbf.PackValue(buf, 10, g.Changetype.AsInt())
	if g.Dense && len(g.Nodes) > 0 {
		buf = pbf.PackData(buf, 1, packDenseNodes(g.Nodes, strs, includeQts))
	} else {
		for _, n := range g.Nodes {
			buf = pbf.PackData(buf, 3, PackNode(n, strs, includeQts))
		}
	}
	for _, w := range g.Ways {
		buf = pbf.PackData(buf, 11, PackWay(w, strs, includeQts))
	}
	for _, r := range g.Relations {
		buf = pbf.PackData(buf, 12, PackRelation(r, strs, includeQts))
	}
	return buf, nil
}

// packDenseNodes encodes nodes as parallel delta-packed columns: ids,
// lats, lons, per-node versions (non-delta), timestamps, changesets,
// uids, user string indices (delta), a zero-terminated key/val index
// stream, and optional quadtrees.
func packDenseNodes(nodes []*Node, strs *pbf.StringTable, includeQts bool) []byte {
	ids := make([]int64, len(nodes))
	lats := make([]int64, len(nodes))
	lons := make([]int64, len(nodes))
	versions := make([]uint64, len(nodes))
	timestamps := make([]int64, len(nodes))
	changesets := make([]int64, len(nodes))
	uids := make([]int64, len(nodes))
	userSids := make([]int64, len(nodes))
	var keysVals []uint64
	qts := make([]int64, len(nodes))
	anyQt := false

	for i, n := range nodes {
		ids[i] = n.ID
		lats[i] = int64(n.Lat)
		lons[i] = int64(n.Lon)
		if n.Info != nil {
			versions[i] = uint64(n.Info.Version)
			timestamps[i] = n.Info.Timestamp
			changesets[i] = n.Info.Changeset
			uids[i] = n.Info.UserID
			userSids[i] = int64(strs.Intern(n.Info.User))
		}
		for _, t := range n.Tags {
			keysVals = append(keysVals, strs.Intern(t.Key), strs.Intern(t.Val))
		}
		keysVals = append(keysVals, 0)
		if includeQts && n.Quadtree >= 0 {
			qts[i] = int64(n.Quadtree)
			anyQt = true
		}
	}

	var buf []byte
	buf = pbf.PackData(buf, 1, pbf.PackDeltaInt(ids))
	buf = pbf.PackData(buf, 8, pbf.PackDeltaInt(lats))
	buf = pbf.PackData(buf, 9, pbf.PackDeltaInt(lons))
	buf = pbf.PackData(buf, 2, pbf.PackInt(versions))
	buf = pbf.PackData(buf, 3, pbf.PackDeltaInt(timestamps))
	buf = pbf.PackData(buf, 4, pbf.PackDeltaInt(changesets))
	buf = pbf.PackData(buf, 5, pbf.PackDeltaInt(uids))
	buf = pbf.PackData(buf, 6, pbf.PackDeltaInt(userSids))
	buf = pbf.PackData(buf, 10, pbf.PackInt(keysVals))
	if anyQt {
		buf = pbf.PackData(buf, 20, pbf.PackDeltaInt(qts))
	}
	return buf
}

func unpackDenseNodes(data []byte, strs []string, ct Changetype) ([]*Node, error) {
	tags, err := pbf.IterTags(data)
	if err != nil {
		return nil, err
	}
	var ids, lats, lons, timestamps, changesets, uids, userSids, qts []int64
	var versions []uint64
	var keysVals []uint64
	for _, t := range tags {
		var err error
		switch t.Field {
		case 1:
			ids, err = pbf.ReadDeltaPackedInt(t.Data)
		case 8:
			lats, err = pbf.ReadDeltaPackedInt(t.Data)
		case 9:
			lons, err = pbf.ReadDeltaPackedInt(t.Data)
		case 2:
			versions, err = pbf.ReadPackedInt(t.Data)
		case 3:
			timestamps, err = pbf.ReadDeltaPackedInt(t.Data)
		case 4:
			changesets, err = pbf.ReadDeltaPackedInt(t.Data)
		case 5:
			uids, err = pbf.ReadDeltaPackedInt(t.Data)
		case 6:
			userSids, err = pbf.ReadDeltaPackedInt(t.Data)
		case 10:
			keysVals, err = pbf.ReadPackedInt(t.Data)
		case 20:
			qts, err = pbf.ReadDeltaPackedInt(t.Data)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(lats) != len(ids) || len(lons) != len(ids) {
		return nil, oqerr.PbfData("dense node column length mismatch")
	}

	nodes := make([]*Node, len(ids))
	kvPos := 0
	for i := range ids {
		n := NewNode(ids[i], ct)
		n.Lat = int32(lats[i])
		n.Lon = int32(lons[i])
		if len(versions) == len(ids) {
			info := &Info{Version: int64(versions[i])}
			if len(timestamps) == len(ids) {
				info.Timestamp = timestamps[i]
			}
			if len(changesets) == len(ids) {
				info.Changeset = changesets[i]
			}
			if len(uids) == len(ids) {
				info.UserID = uids[i]
			}
			if len(userSids) == len(ids) {
				if int(userSids[i]) >= len(strs) {
					return nil, oqerr.PbfData("dense node user index out of range")
				}
				info.User = strs[userSids[i]]
			}
			n.Info = info
		}
		if len(qts) == len(ids) {
			n.Quadtree = quadtree.Quadtree(qts[i])
		}
		for kvPos < len(keysVals) && keysVals[kvPos] != 0 {
			if kvPos+1 >= len(keysVals) {
				return nil, oqerr.PbfData("truncated dense node tag stream")
			}
			k, v := keysVals[kvPos], keysVals[kvPos+1]
			if int(k) >= len(strs) || int(v) >= len(strs) {
				return nil, oqerr.PbfData("dense node tag index out of range")
			}
			n.Tags = append(n.Tags, Tag{Key: strs[k], Val: strs[v]})
			kvPos += 2
		}
		kvPos++ // skip terminating 0
		nodes[i] = n
	}
	return nodes, nil
}

// ReadBlock decodes a Block from a decompressed FileBlock payload.
func ReadBlock(data []byte) (*Block, error) {
	tags, err := pbf.IterTags(data)
	if err != nil {
		return nil, err
	}
	var strs []string
	b := &Block{}
	for _, t := range tags {
		switch t.Field {
		case 1:
			strs, err = pbf.ReadStringTable(t.Data)
			if err != nil {
				return nil, err
			}
		case 2:
			g, err := readGroup(t.Data, strs)
			if err != nil {
				return nil, err
			}
			b.Groups = append(b.Groups, g)
		default:
			return nil, oqerr.PbfData("unexpected block field %d", t.Field)
		}
	}
	return b, nil
}

func readGroup(data []byte, strs []string) (Group, error) {
	tags, err := pbf.IterTags(data)
	if err != nil {
		return Group{}, err
	}
	g := Group{}
	for _, t := range tags {
		switch t.Field {
		case 10:
			g.Changetype = ChangetypeFromInt(t.Value)
		case 1:
			g.Dense = true
			nodes, err := unpackDenseNodes(t.Data, strs, g.Changetype)
			if err != nil {
				return Group{}, err
			}
			g.Nodes = append(g.Nodes, nodes...)
		case 3:
			n, err := ReadNode(t.Data, strs, g.Changetype, false)
			if err != nil {
				return Group{}, err
			}
			g.Nodes = append(g.Nodes, n)
		case 11:
			w, err := ReadWay(t.Data, strs, g.Changetype, false)
			if err != nil {
				return Group{}, err
			}
			g.Ways = append(g.Ways, w)
		case 12:
			r, err := ReadRelation(t.Data, strs, g.Changetype, false)
			if err != nil {
				return Group{}, err
			}
			g.Relations = append(g.Relations, r)
		default:
			return Group{}, oqerr.PbfData("unexpected group field %d", t.Field)
		}
	}
	// re-tag changetype now that we know it (dense/individual decode
	// above ran with whatever changetype had been seen so far; field 10
	// always precedes the object fields in a block we wrote ourselves,
	// but be defensive for externally-produced blocks).
	for _, n := range g.Nodes {
		n.Changetype = g.Changetype
	}
	for _, w := range g.Ways {
		w.Changetype = g.Changetype
	}
	for _, r := range g.Relations {
		r.Changetype = g.Changetype
	}
	return g, nil
}

// SortObjects sorts a group's nodes, ways and relations by (id, version,
// changetype), the order a sorted leaf block must hold (I5).
func (g *Group) SortObjects() {
	sort.Slice(g.Nodes, func(i, j int) bool { return Compare(g.Nodes[i], g.Nodes[j]) < 0 })
	sort.Slice(g.Ways, func(i, j int) bool { return Compare(g.Ways[i], g.Ways[j]) < 0 })
	sort.Slice(g.Relations, func(i, j int) bool { return Compare(g.Relations[i], g.Relations[j]) < 0 })
}
