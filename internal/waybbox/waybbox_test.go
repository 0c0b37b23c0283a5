package waybbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/waynode"
)

func TestSimpleExpandMergesViaCommon(t *testing.T) {
	s := NewSimple()
	s.Expand(1, quadtree.Quadtree(0x4000000000000003))
	s.Expand(1, quadtree.Quadtree(0x4800000000000003))
	q, ok := s.Get(1)
	require.True(t, ok)
	require.Equal(t, quadtree.Quadtree(0x4000000000000002), q)
	require.Equal(t, 1, s.Len())
}

func TestSplitRoundTripsAcrossTileBoundary(t *testing.T) {
	sp := NewSplit()
	ids := []int64{0, 1, SplitSize - 1, SplitSize, SplitSize + 5, 3 * SplitSize}
	for _, id := range ids {
		sp.Set(id, quadtree.Quadtree(id%20))
	}
	for _, id := range ids {
		q, ok := sp.Get(id)
		require.True(t, ok)
		require.Equal(t, quadtree.Quadtree(id%20), q)
	}
	require.False(t, sp.HasValue(12345678))
	require.Equal(t, len(ids), sp.Len())
}

func TestSplitItemsSortedByID(t *testing.T) {
	sp := NewSplit()
	sp.Set(500, 3)
	sp.Set(1, 1)
	sp.Set(SplitSize+2, 7)
	items := sp.Items()
	require.Len(t, items, 3)
	require.Equal(t, int64(1), items[0].ID)
	require.Equal(t, int64(500), items[1].ID)
	require.Equal(t, int64(SplitSize+2), items[2].ID)
}

type memLocs map[int64][2]int32

func (m memLocs) Location(id int64) (int32, int32, bool) {
	v, ok := m[id]
	if !ok {
		return 0, 0, false
	}
	return v[0], v[1], true
}

func TestResolveWayQuadtreesExpandsFromNodeLocations(t *testing.T) {
	locs := memLocs{
		1: {0, 0},
		2: {100000, 100000},
	}
	incs := []waynode.Incidence{
		{NodeID: 1, WayID: 10},
		{NodeID: 2, WayID: 10},
	}
	store := NewSimple()
	missing, err := ResolveWayQuadtrees(incs, locs, store, 17, 0.05, 0)
	require.NoError(t, err)
	require.Equal(t, 0, missing)
	q, ok := store.Get(10)
	require.True(t, ok)
	bb := q.AsBbox(0)
	require.True(t, bb.ContainsPoint(0, 0))
	require.True(t, bb.ContainsPoint(100000, 100000))
}

func TestResolveWayQuadtreesCountsMissingLocationsAndMarksUnresolvedWay(t *testing.T) {
	locs := memLocs{1: {0, 0}}
	incs := []waynode.Incidence{
		{NodeID: 1, WayID: 10},
		{NodeID: 2, WayID: 10},  // node 2 has no location
		{NodeID: 3, WayID: 20},  // way 20 has no resolvable node at all
	}
	store := NewSimple()
	missing, err := ResolveWayQuadtrees(incs, locs, store, 17, 0.05, 0)
	require.NoError(t, err)
	require.Equal(t, 2, missing)

	q, ok := store.Get(10)
	require.True(t, ok)
	require.NotEqual(t, quadtree.Unset, q)

	q, ok = store.Get(20)
	require.True(t, ok)
	require.Equal(t, quadtree.Unset, q)
}

func TestSplitCheckBudgetReportsResourceExhausted(t *testing.T) {
	sp := NewSplit()
	sp.Set(0, 1)
	sp.Set(SplitSize, 1)
	require.NoError(t, sp.CheckBudget(0))
	require.NoError(t, sp.CheckBudget(1<<30))
	require.Error(t, sp.CheckBudget(1))
}
