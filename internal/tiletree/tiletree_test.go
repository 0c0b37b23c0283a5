package tiletree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

func TestBuildAccumulatesWeightAtTruncatedDepth(t *testing.T) {
	a := quadtree.CalculateVals(-1000000, -1000000, 1000000, 1000000, 17, 0.0)
	qts := []quadtree.Quadtree{a, a, a}
	tree := Build(qts, 17)
	require.Equal(t, int64(3), tree.Nodes[0].TotalWeight)
}

func TestRebalanceKeepsLeavesAtOrBelowTarget(t *testing.T) {
	var qts []quadtree.Quadtree
	for lon := int32(-1700000000); lon < 1700000000; lon += 10000000 {
		qts = append(qts, quadtree.CalculateVals(lon, 0, lon+1, 1, 17, 0.0))
	}
	tree := Build(qts, 17)
	tree.Rebalance(40000, 20000)

	for _, leaf := range tree.Leaves() {
		w := tree.LeafWeight(leaf)
		require.True(t, w <= 40000, "leaf %v weight %d exceeds target", leaf, w)
	}
}

func TestLeafOfStopsAtDeepestKnownNode(t *testing.T) {
	a := quadtree.CalculateVals(-1000000, -1000000, 1000000, 1000000, 5, 0.0)
	tree := Build([]quadtree.Quadtree{a}, 5)
	got := tree.LeafOf(a)
	require.Equal(t, a, got)

	unseen := quadtree.CalculateVals(170000000, 80000000, 171000000, 81000000, 17, 0.0)
	got2 := tree.LeafOf(unseen)
	require.Equal(t, quadtree.Root, got2)
}

func TestLeavesIsPreOrder(t *testing.T) {
	qts := []quadtree.Quadtree{
		quadtree.CalculateVals(-1000000, -1000000, -900000, -900000, 6, 0.0),
		quadtree.CalculateVals(1000000, 1000000, 1100000, 1100000, 6, 0.0),
	}
	tree := Build(qts, 6)
	leaves := tree.Leaves()
	require.Len(t, leaves, 2)
	require.True(t, leaves[0] < leaves[1])
}
