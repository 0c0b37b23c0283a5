package waynode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/element"
)

func TestStoreFlushesAndMergesAcrossChunks(t *testing.T) {
	s := NewStore(2) // tiny limit forces several chunks per tile
	w1 := element.NewWay(10, element.Normal)
	w1.Refs = []int64{5, 3, 1}
	w2 := element.NewWay(11, element.Normal)
	w2.Refs = []int64{3, 7}

	s.AddWay(w1)
	s.AddWay(w2)
	s.Finish()

	require.Equal(t, []int64{0}, s.Tiles()) // all ids < 2^22, one tile

	got, err := s.Read(0)
	require.NoError(t, err)
	require.Equal(t, []Incidence{
		{NodeID: 1, WayID: 10},
		{NodeID: 3, WayID: 10},
		{NodeID: 3, WayID: 11},
		{NodeID: 5, WayID: 10},
		{NodeID: 7, WayID: 11},
	}, got)
}

func TestSpillStoreRoundTripsThroughTempFile(t *testing.T) {
	s, err := NewSpillStore(2, t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	w1 := element.NewWay(10, element.Normal)
	w1.Refs = []int64{5, 3, 1}
	w2 := element.NewWay(11, element.Normal)
	w2.Refs = []int64{3, 7}

	s.AddWay(w1)
	s.AddWay(w2)
	require.NoError(t, s.Finish())

	require.Equal(t, []int64{0}, s.Tiles())
	got, err := s.Read(0)
	require.NoError(t, err)
	require.Equal(t, []Incidence{
		{NodeID: 1, WayID: 10},
		{NodeID: 3, WayID: 10},
		{NodeID: 3, WayID: 11},
		{NodeID: 5, WayID: 10},
		{NodeID: 7, WayID: 11},
	}, got)
}

func TestTileOfSplitsByShift(t *testing.T) {
	require.Equal(t, int64(0), TileOf(1))
	require.Equal(t, int64(1), TileOf(1<<22))
	require.Equal(t, int64(2), TileOf(2<<22+5))
}

func TestRelationStoreGroupsByParent(t *testing.T) {
	rs := NewRelationStore()
	r1 := element.NewRelation(100, element.Normal)
	r1.Members = []element.Member{
		{Role: "outer", MemType: element.KindWay, MemRef: 1},
		{Role: "inner", MemType: element.KindWay, MemRef: 2},
	}
	r2 := element.NewRelation(101, element.Normal)
	r2.Members = []element.Member{{Role: "", MemType: element.KindNode, MemRef: 9}}

	rs.AddRelation(r1)
	rs.AddRelation(r2)

	byParent := rs.ByParent()
	require.Len(t, byParent[100], 2)
	require.Len(t, byParent[101], 1)
	require.Equal(t, int64(9), byParent[101][0].MemberID)
}
