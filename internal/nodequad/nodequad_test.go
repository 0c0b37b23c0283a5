package nodequad

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/waynode"
)

type fakeWays map[int64]quadtree.Quadtree

func (f fakeWays) Get(id int64) (quadtree.Quadtree, bool) {
	q, ok := f[id]
	return q, ok
}

func TestResolveTakesCommonAncestorOfReferencingWays(t *testing.T) {
	ways := fakeWays{
		10: quadtree.Quadtree(0x4000000000000003),
		11: quadtree.Quadtree(0x4800000000000003),
	}
	incs := []waynode.Incidence{
		{NodeID: 1, WayID: 10},
		{NodeID: 1, WayID: 11},
		{NodeID: 2, WayID: 10},
	}
	got := Resolve(incs, ways)
	require.Equal(t, quadtree.Quadtree(0x4000000000000002), got[1])
	require.Equal(t, quadtree.Quadtree(0x4000000000000003), got[2])
}

func TestResolveSkipsNodesWithNoKnownWayQuadtree(t *testing.T) {
	ways := fakeWays{}
	incs := []waynode.Incidence{{NodeID: 5, WayID: 99}}
	got := Resolve(incs, ways)
	require.Empty(t, got)
}

func TestResolveFromPointMatchesDirectCalculation(t *testing.T) {
	q := ResolveFromPoint(100000, 200000, 17, 0.05)
	require.Equal(t, quadtree.CalculatePoint(100000, 200000, 17, 0.05), q)
}
