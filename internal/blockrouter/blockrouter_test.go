package blockrouter

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/tiletree"
)

func buildTestTree() *tiletree.Tree {
	a := quadtree.CalculateVals(-1000000, -1000000, -900000, -900000, 8, 0.0)
	b := quadtree.CalculateVals(1000000, 1000000, 1100000, 1100000, 8, 0.0)
	return tiletree.Build([]quadtree.Quadtree{a, b}, 8)
}

func TestRouterInMemorySpillRoundTrips(t *testing.T) {
	tree := buildTestTree()
	r, err := NewRouter(tree, SpillMemory, 8, t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		q := quadtree.CalculateVals(-1000000, -1000000, -900000, -900000, 8, 0.0)
		require.NoError(t, r.Route(q, []byte{byte(i)}))
	}

	leaves := r.Leaves()
	require.Len(t, leaves, 1)
	got, err := r.Read(leaves[0])
	require.NoError(t, err)
	require.Len(t, got, 20)
}

func TestRouterSingleFileSpillRoundTrips(t *testing.T) {
	tree := buildTestTree()
	r, err := NewRouter(tree, SpillSingleFile, 8, t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	q := quadtree.CalculateVals(1000000, 1000000, 1100000, 1100000, 8, 0.0)
	for i := 0; i < 30; i++ {
		require.NoError(t, r.Route(q, []byte{byte(i), byte(i + 1)}))
	}

	got, err := r.Read(q)
	require.NoError(t, err)
	require.Len(t, got, 30)
	require.Equal(t, []byte{0, 1}, got[0])
}

func TestRouterPerBucketSpillRoundTrips(t *testing.T) {
	tree := buildTestTree()
	r, err := NewRouter(tree, SpillPerBucket, 4, t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	qa := quadtree.CalculateVals(-1000000, -1000000, -900000, -900000, 8, 0.0)
	qb := quadtree.CalculateVals(1000000, 1000000, 1100000, 1100000, 8, 0.0)
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Route(qa, []byte{byte(i)}))
		require.NoError(t, r.Route(qb, []byte{byte(i + 100)}))
	}

	leaves := r.Leaves()
	sort.Slice(leaves, func(i, j int) bool { return leaves[i] < leaves[j] })
	require.Len(t, leaves, 2)

	gotA, err := r.Read(leaves[0])
	require.NoError(t, err)
	gotB, err := r.Read(leaves[1])
	require.NoError(t, err)
	require.Len(t, gotA, 10)
	require.Len(t, gotB, 10)
}
