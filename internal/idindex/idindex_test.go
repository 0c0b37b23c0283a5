package idindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

func TestRecordPackRoundTrip(t *testing.T) {
	r := Record{Quadtree: quadtree.Quadtree(5), NodeIDs: []int64{1, 3, 7}, WayIDs: []int64{100}, RelationIDs: nil}
	data := r.Pack()
	got, err := ReadRecord(data)
	require.NoError(t, err)
	require.Equal(t, r.Quadtree, got.Quadtree)
	require.Equal(t, r.NodeIDs, got.NodeIDs)
	require.Equal(t, r.WayIDs, got.WayIDs)
}

func TestIndexPackRoundTripAndOrder(t *testing.T) {
	idx := &Index{Records: []Record{
		{Quadtree: 1, NodeIDs: []int64{1, 2}},
		{Quadtree: 2, WayIDs: []int64{9}},
	}}
	data := idx.Pack()
	got, err := ReadIndex(data)
	require.NoError(t, err)
	require.Len(t, got.Records, 2)
	require.Equal(t, quadtree.Quadtree(1), got.Records[0].Quadtree)
	require.Equal(t, quadtree.Quadtree(2), got.Records[1].Quadtree)
}

func TestCheckFindsOnlyTouchedQuadtrees(t *testing.T) {
	idx := &Index{Records: []Record{
		{Quadtree: 10, NodeIDs: []int64{1, 2}},
		{Quadtree: 11, WayIDs: []int64{100}},
		{Quadtree: 12, RelationIDs: []int64{500}},
	}}
	ids := NewSimpleMap()
	ids.AddNode(2)
	ids.AddRelation(500)

	got := idx.Check(ids)
	require.ElementsMatch(t, []quadtree.Quadtree{10, 12}, got)
}

func TestRecordFromGroupCollectsIDsPerKind(t *testing.T) {
	g := element.Group{
		Nodes:     []*element.Node{element.NewNode(1, element.Normal), element.NewNode(2, element.Normal)},
		Ways:      []*element.Way{element.NewWay(10, element.Normal)},
		Relations: nil,
	}
	r := RecordFromGroup(quadtree.Quadtree(4), g)
	require.Equal(t, []int64{1, 2}, r.NodeIDs)
	require.Equal(t, []int64{10}, r.WayIDs)
}

func TestDenseTiledAndBitTiledAgreeWithSimpleMap(t *testing.T) {
	ids := []int64{0, 1, 1 << 19, 1 << 20, (1 << 20) + 5, 3 << 20}
	simple := NewSimpleMap()
	dense := NewDenseTiled()
	bitset := NewBitTiled()
	for _, id := range ids {
		simple.AddNode(id)
		dense.AddNode(id)
		bitset.AddNode(id)
	}
	for _, id := range ids {
		require.True(t, simple.ContainsNode(id))
		require.Equal(t, simple.ContainsNode(id), dense.ContainsNode(id))
		require.Equal(t, simple.ContainsNode(id), bitset.ContainsNode(id))
	}
	require.False(t, simple.ContainsNode(123456789))
	require.False(t, dense.ContainsNode(123456789))
	require.False(t, bitset.ContainsNode(123456789))
}
