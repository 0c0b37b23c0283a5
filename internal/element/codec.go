package element

import (
	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

// packInfo encodes Info as field 4 of an element's body: version(1),
// timestamp(2), changeset(3), uid(4), user string-table index(5).
func packInfo(info *Info, strs *pbf.StringTable) []byte {
	if info == nil {
		return nil
	}
	var buf []byte
	buf = pbf.PackValue(buf, 1, uint64(info.Version))
	buf = pbf.PackValue(buf, 2, uint64(info.Timestamp))
	buf = pbf.PackValue(buf, 3, uint64(info.Changeset))
	buf = pbf.PackValue(buf, 4, uint64(info.UserID))
	buf = pbf.PackValue(buf, 5, strs.Intern(info.User))
	return buf
}

func readInfo(data []byte, strs []string) (*Info, error) {
	tags, err := pbf.IterTags(data)
	if err != nil {
		return nil, err
	}
	info := &Info{}
	for _, t := range tags {
		switch t.Field {
		case 1:
			info.Version = int64(t.Value)
		case 2:
			info.Timestamp = int64(t.Value)
		case 3:
			info.Changeset = int64(t.Value)
		case 4:
			info.UserID = int64(t.Value)
		case 5:
			if int(t.Value) >= len(strs) {
				return nil, oqerr.PbfData("info user index %d out of range", t.Value)
			}
			info.User = strs[t.Value]
		default:
			return nil, oqerr.PbfData("unexpected info field %d", t.Field)
		}
	}
	return info, nil
}

// commonHead packs the id/tags/info fields every element type shares:
// id(1), tag keys(2), tag vals(3), info(4).
func commonHead(id int64, info *Info, tags []Tag, strs *pbf.StringTable) []byte {
	var buf []byte
	buf = pbf.PackValue(buf, 1, uint64(id))
	if len(tags) > 0 {
		keys := make([]uint64, len(tags))
		vals := make([]uint64, len(tags))
		for i, t := range tags {
			keys[i] = strs.Intern(t.Key)
			vals[i] = strs.Intern(t.Val)
		}
		buf = pbf.PackData(buf, 2, pbf.PackInt(keys))
		buf = pbf.PackData(buf, 3, pbf.PackInt(vals))
	}
	if info != nil {
		buf = pbf.PackData(buf, 4, packInfo(info, strs))
	}
	return buf
}

// commonTail packs the quadtree field(20), zig-zag varint, when known.
func commonTail(q quadtree.Quadtree, buf []byte) []byte {
	if q >= 0 {
		buf = pbf.PackValue(buf, 20, pbf.ZigZag(int64(q)))
	}
	return buf
}

// readCommon decodes the id/tags/info/quadtree fields shared by every
// element type, returning the remaining type-specific tags for the caller
// to interpret (lat/lon for nodes, refs for ways, members for relations).
func readCommon(data []byte, strs []string, minimal bool) (id int64, info *Info, tags []Tag, q quadtree.Quadtree, rest []pbf.Tag, err error) {
	q = quadtree.Empty
	allTags, err := pbf.IterTags(data)
	if err != nil {
		return 0, nil, nil, q, nil, err
	}
	var keyIdx, valIdx []uint64
	for _, t := range allTags {
		switch {
		case t.Field == 1 && t.Wire == pbf.WireVarint:
			id = int64(t.Value)
		case t.Field == 4 && t.Wire == pbf.WireBytes:
			if !minimal {
				info, err = readInfo(t.Data, strs)
				if err != nil {
					return 0, nil, nil, q, nil, err
				}
			}
		case t.Field == 2 && t.Wire == pbf.WireBytes:
			if !minimal {
				keyIdx, err = pbf.ReadPackedInt(t.Data)
				if err != nil {
					return 0, nil, nil, q, nil, err
				}
			}
		case t.Field == 3 && t.Wire == pbf.WireBytes:
			if !minimal {
				valIdx, err = pbf.ReadPackedInt(t.Data)
				if err != nil {
					return 0, nil, nil, q, nil, err
				}
			}
		case t.Field == 20 && t.Wire == pbf.WireVarint:
			q = quadtree.Quadtree(pbf.UnZigZag(t.Value))
		default:
			rest = append(rest, t)
		}
	}
	if len(keyIdx) != len(valIdx) {
		return 0, nil, nil, q, nil, oqerr.PbfData("tag key/val count mismatch for id %d", id)
	}
	if len(keyIdx) > 0 {
		tags = make([]Tag, len(keyIdx))
		for i := range keyIdx {
			if int(keyIdx[i]) >= len(strs) || int(valIdx[i]) >= len(strs) {
				return 0, nil, nil, q, nil, oqerr.PbfData("tag string index out of range for id %d", id)
			}
			tags[i] = Tag{Key: strs[keyIdx[i]], Val: strs[valIdx[i]]}
		}
	}
	return id, info, tags, q, rest, nil
}

// PackNode encodes a Node body (lat field 8, lon field 9 as zig-zag varints,
// matching the reference codec's per-element — not columnar-dense — node
// encoding).
func PackNode(n *Node, strs *pbf.StringTable, includeQts bool) []byte {
	buf := commonHead(n.ID, n.Info, n.Tags, strs)
	buf = pbf.PackValue(buf, 8, pbf.ZigZag(int64(n.Lat)))
	buf = pbf.PackValue(buf, 9, pbf.ZigZag(int64(n.Lon)))
	if includeQts {
		buf = commonTail(n.Quadtree, buf)
	}
	return buf
}

// ReadNode decodes a Node body.
func ReadNode(data []byte, strs []string, ct Changetype, minimal bool) (*Node, error) {
	id, info, tags, q, rest, err := readCommon(data, strs, minimal)
	if err != nil {
		return nil, err
	}
	n := NewNode(id, ct)
	n.Info, n.Tags, n.Quadtree = info, tags, q
	for _, t := range rest {
		switch t.Field {
		case 8:
			n.Lat = int32(pbf.UnZigZag(t.Value))
		case 9:
			n.Lon = int32(pbf.UnZigZag(t.Value))
		}
	}
	return n, nil
}

// PackWay encodes a Way body: refs delta-packed as field 8.
func PackWay(w *Way, strs *pbf.StringTable, includeQts bool) []byte {
	buf := commonHead(w.ID, w.Info, w.Tags, strs)
	refs := pbf.PackDeltaInt(w.Refs)
	if len(refs) == 0 {
		buf = pbf.PackValue(buf, 8, 0)
	} else {
		buf = pbf.PackData(buf, 8, refs)
	}
	if includeQts {
		buf = commonTail(w.Quadtree, buf)
	}
	return buf
}

// ReadWay decodes a Way body.
func ReadWay(data []byte, strs []string, ct Changetype, minimal bool) (*Way, error) {
	id, info, tags, q, rest, err := readCommon(data, strs, minimal)
	if err != nil {
		return nil, err
	}
	w := NewWay(id, ct)
	w.Info, w.Tags, w.Quadtree = info, tags, q
	for _, t := range rest {
		if t.Field == 8 && t.Wire == pbf.WireBytes {
			refs, err := pbf.ReadDeltaPackedInt(t.Data)
			if err != nil {
				return nil, err
			}
			w.Refs = refs
		}
	}
	return w, nil
}

// PackRelation encodes a Relation body: roles(8), refs(9, delta), kinds(10).
func PackRelation(r *Relation, strs *pbf.StringTable, includeQts bool) []byte {
	buf := commonHead(r.ID, r.Info, r.Tags, strs)
	if len(r.Members) > 0 {
		roles := make([]uint64, len(r.Members))
		refs := make([]int64, len(r.Members))
		kinds := make([]uint64, len(r.Members))
		for i, m := range r.Members {
			roles[i] = strs.Intern(m.Role)
			refs[i] = m.MemRef
			kinds[i] = m.MemType.AsInt()
		}
		buf = pbf.PackData(buf, 8, pbf.PackInt(roles))
		buf = pbf.PackData(buf, 9, pbf.PackDeltaInt(refs))
		buf = pbf.PackData(buf, 10, pbf.PackInt(kinds))
	}
	if includeQts {
		buf = commonTail(r.Quadtree, buf)
	}
	return buf
}

// ReadRelation decodes a Relation body.
func ReadRelation(data []byte, strs []string, ct Changetype, minimal bool) (*Relation, error) {
	id, info, tags, q, rest, err := readCommon(data, strs, minimal)
	if err != nil {
		return nil, err
	}
	r := NewRelation(id, ct)
	r.Info, r.Tags, r.Quadtree = info, tags, q

	var roles, refs, kinds []uint64
	var refsSigned []int64
	for _, t := range rest {
		switch t.Field {
		case 8:
			if !minimal {
				roles, err = pbf.ReadPackedInt(t.Data)
				if err != nil {
					return nil, err
				}
			}
		case 9:
			refsSigned, err = pbf.ReadDeltaPackedInt(t.Data)
			if err != nil {
				return nil, err
			}
		case 10:
			kinds, err = pbf.ReadPackedInt(t.Data)
			if err != nil {
				return nil, err
			}
		}
	}
	_ = refs
	if len(kinds) != len(refsSigned) || (!minimal && len(kinds) != len(roles)) {
		return nil, oqerr.PbfData("relation %d member array lengths don't match", id)
	}
	for i := range kinds {
		m := Member{MemType: KindFromInt(kinds[i]), MemRef: refsSigned[i]}
		if !minimal {
			if int(roles[i]) >= len(strs) {
				return nil, oqerr.PbfData("relation %d role index out of range", id)
			}
			m.Role = strs[roles[i]]
		}
		r.Members = append(r.Members, m)
	}
	return r, nil
}
