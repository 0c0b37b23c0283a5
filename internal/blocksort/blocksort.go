// Package blocksort decodes a leaf's routed object envelopes back into
// elements, sorts them by (kind, id), and packs and compresses the result
// into a single file block.
package blocksort

import (
	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

const (
	envKindNode     byte = 0
	envKindWay      byte = 1
	envKindRelation byte = 2
)

// EncodeObject wraps a single element in a self-contained envelope: its
// own one-object string table followed by its packed body, so router
// buffers can hold objects from many source blocks without a shared
// string table to reconcile.
func EncodeObject(e element.Element) ([]byte, error) {
	strs := pbf.NewStringTable()
	var kind byte
	var body []byte

	switch v := e.(type) {
	case *element.Node:
		kind = envKindNode
		body = element.PackNode(v, strs, true)
	case *element.Way:
		kind = envKindWay
		body = element.PackWay(v, strs, true)
	case *element.Relation:
		kind = envKindRelation
		body = element.PackRelation(v, strs, true)
	default:
		return nil, oqerr.Integrity("blocksort: unknown element type")
	}

	ct := e.GetChangetype()
	var buf []byte
	buf = append(buf, kind, byte(ct))
	buf = pbf.WriteVarint(buf, uint64(len(strs.Pack())))
	buf = append(buf, strs.Pack()...)
	buf = append(buf, body...)
	return buf, nil
}

// DecodeObject reverses EncodeObject.
func DecodeObject(data []byte) (element.Element, error) {
	if len(data) < 2 {
		return nil, oqerr.PbfData("blocksort: truncated object envelope")
	}
	kind, ct := data[0], element.Changetype(data[1])
	strsLen, n, err := pbf.ReadVarint(data, 2)
	if err != nil {
		return nil, err
	}
	strsStart := n
	strsEnd := strsStart + int(strsLen)
	if strsEnd > len(data) {
		return nil, oqerr.PbfData("blocksort: truncated string table")
	}
	strs, err := pbf.ReadStringTable(data[strsStart:strsEnd])
	if err != nil {
		return nil, err
	}
	body := data[strsEnd:]

	switch kind {
	case envKindNode:
		return element.ReadNode(body, strs, ct, false)
	case envKindWay:
		return element.ReadWay(body, strs, ct, false)
	case envKindRelation:
		return element.ReadRelation(body, strs, ct, false)
	default:
		return nil, oqerr.Integrity("blocksort: unknown envelope kind %d", kind)
	}
}

// IndexEntry is one leaf's (quadtree, offset, length) location in an output
// file. Nothing in this package fills or writes it.
type IndexEntry struct {
	Quadtree quadtree.Quadtree
	Offset   int64
	Length   int64
}

// SortLeaf decodes every routed envelope for one leaf, sorts the result
// by (kind, id), and packs it into a single dense-node Group.
func SortLeaf(chunks [][]byte) (*element.Block, error) {
	g := element.Group{Changetype: element.Normal, Dense: true}
	for _, c := range chunks {
		e, err := DecodeObject(c)
		if err != nil {
			return nil, err
		}
		switch v := e.(type) {
		case *element.Node:
			g.Nodes = append(g.Nodes, v)
		case *element.Way:
			g.Ways = append(g.Ways, v)
		case *element.Relation:
			g.Relations = append(g.Relations, v)
		}
	}
	g.SortObjects()
	return &element.Block{Groups: []element.Group{g}, IncludeQts: true}, nil
}

// PackLeaf sorts and compresses one leaf's chunks into a ready-to-write
// zlib-compressed file block.
func PackLeaf(chunks [][]byte) ([]byte, error) {
	block, err := SortLeaf(chunks)
	if err != nil {
		return nil, err
	}
	packed, err := block.Pack()
	if err != nil {
		return nil, err
	}
	return pbf.PackFileBlock("OSMData", packed, pbf.Zlib)
}
