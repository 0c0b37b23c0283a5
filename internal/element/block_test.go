package element

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

func sampleBlock() *Block {
	n1 := NewNode(1, Normal)
	n1.Lon, n1.Lat = -10000000, 510000000/10
	n1.Tags = []Tag{{Key: "amenity", Val: "cafe"}}
	n1.Info = &Info{Version: 3, Timestamp: 100, Changeset: 7, UserID: 9, User: "alice"}
	n1.Quadtree = quadtree.Quadtree(42)

	n2 := NewNode(2, Normal)
	n2.Lon, n2.Lat = -9000000, 50900000

	w1 := NewWay(10, Normal)
	w1.Refs = []int64{1, 2}
	w1.Tags = []Tag{{Key: "highway", Val: "residential"}}
	w1.Info = &Info{Version: 1, User: "bob"}
	w1.Quadtree = quadtree.Quadtree(7)

	r1 := NewRelation(100, Normal)
	r1.Members = []Member{{Role: "outer", MemType: KindWay, MemRef: 10}}
	r1.Quadtree = quadtree.Quadtree(7)

	return &Block{
		IncludeQts: true,
		Groups: []Group{
			{Changetype: Normal, Dense: true, Nodes: []*Node{n1, n2}, Ways: []*Way{w1}, Relations: []*Relation{r1}},
		},
	}
}

func TestBlockRoundTrip(t *testing.T) {
	b := sampleBlock()
	data, err := b.Pack()
	require.NoError(t, err)

	got, err := ReadBlock(data)
	require.NoError(t, err)
	require.Len(t, got.Groups, 1)

	g := got.Groups[0]
	require.Len(t, g.Nodes, 2)
	require.Equal(t, int64(1), g.Nodes[0].ID)
	require.Equal(t, int32(-10000000), g.Nodes[0].Lon)
	require.Equal(t, []Tag{{Key: "amenity", Val: "cafe"}}, g.Nodes[0].Tags)
	require.Equal(t, "alice", g.Nodes[0].Info.User)
	require.Equal(t, quadtree.Quadtree(42), g.Nodes[0].Quadtree)

	require.Len(t, g.Ways, 1)
	require.Equal(t, []int64{1, 2}, g.Ways[0].Refs)
	require.Equal(t, "bob", g.Ways[0].Info.User)

	require.Len(t, g.Relations, 1)
	require.Equal(t, "outer", g.Relations[0].Members[0].Role)
	require.Equal(t, KindWay, g.Relations[0].Members[0].MemType)
	require.Equal(t, int64(10), g.Relations[0].Members[0].MemRef)
}

func TestCompareOrdersByIdThenVersionThenChangetype(t *testing.T) {
	a := NewNode(1, Normal)
	a.Info = &Info{Version: 1}
	b := NewNode(1, Modify)
	b.Info = &Info{Version: 2}
	c := NewNode(2, Normal)
	c.Info = &Info{Version: 1}
	d := NewNode(1, Create)
	d.Info = &Info{Version: 1}

	require.Negative(t, Compare(a, d))
	require.Negative(t, Compare(a, b))
	require.Negative(t, Compare(b, c))
	require.Positive(t, Compare(c, a))
	require.Zero(t, Compare(a, a))
}
