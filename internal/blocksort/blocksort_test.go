package blocksort

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

func TestEncodeDecodeObjectRoundTrip(t *testing.T) {
	n := element.NewNode(42, element.Normal)
	n.Lon, n.Lat = 1000000, 2000000
	n.Tags = []element.Tag{{Key: "amenity", Val: "bench"}}
	n.Info = &element.Info{Version: 1, User: "alice"}
	n.Quadtree = quadtree.Quadtree(7)

	data, err := EncodeObject(n)
	require.NoError(t, err)

	got, err := DecodeObject(data)
	require.NoError(t, err)
	gn, ok := got.(*element.Node)
	require.True(t, ok)
	require.Equal(t, int64(42), gn.ID)
	require.Equal(t, int32(1000000), gn.Lon)
	require.Equal(t, "alice", gn.Info.User)
	require.Equal(t, quadtree.Quadtree(7), gn.Quadtree)
}

func TestSortLeafOrdersByIDWithinKind(t *testing.T) {
	n2 := element.NewNode(2, element.Normal)
	n1 := element.NewNode(1, element.Normal)
	w5 := element.NewWay(5, element.Normal)

	var chunks [][]byte
	for _, e := range []element.Element{n2, n1, w5} {
		data, err := EncodeObject(e)
		require.NoError(t, err)
		chunks = append(chunks, data)
	}

	block, err := SortLeaf(chunks)
	require.NoError(t, err)
	require.Len(t, block.Groups, 1)
	g := block.Groups[0]
	require.Len(t, g.Nodes, 2)
	require.Equal(t, int64(1), g.Nodes[0].ID)
	require.Equal(t, int64(2), g.Nodes[1].ID)
	require.Len(t, g.Ways, 1)
	require.Equal(t, int64(5), g.Ways[0].ID)
}

func TestPackLeafProducesReadableFileBlock(t *testing.T) {
	n := element.NewNode(1, element.Normal)
	data, err := EncodeObject(n)
	require.NoError(t, err)

	packed, err := PackLeaf([][]byte{data})
	require.NoError(t, err)
	require.NotEmpty(t, packed)
}
