package quadtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateContainsInput(t *testing.T) {
	bbox := NewBbox(-18000000, 50000000, -17000000, 51000000)
	q := Calculate(bbox, 18, 0.05)

	require.GreaterOrEqual(t, q.Depth(), 6)
	require.LessOrEqual(t, q.Depth(), 12)

	got := q.AsBbox(0)
	require.True(t, got.Contains(bbox), "computed cell %v must contain input bbox %v", got, bbox)

	for c := 0; c < 4; c++ {
		child := Quadtree((int64(q) &^ 31) | (int64(c) << (61 - 2*q.Depth())) | int64(q.Depth()+1))
		if child.Depth() > 20 {
			continue
		}
		childBbox := child.AsBbox(0.05)
		require.False(t, childBbox.Contains(bbox), "child cell must not contain the buffered input bbox")
	}
}

func TestCommonSharedPrefix(t *testing.T) {
	a := Quadtree(0x4000000000000003)
	b := Quadtree(0x4800000000000003)
	want := Quadtree(0x4000000000000002)
	require.Equal(t, want, a.Common(b))
}

func TestCommonIsCommutativeAndAssociative(t *testing.T) {
	a := Calculate(NewBbox(100000000, 100000000, 100500000, 100500000), 16, 0.05)
	b := Calculate(NewBbox(-500000000, 200000000, -499000000, 200900000), 16, 0.05)
	c := Calculate(NewBbox(900000000, -300000000, 901000000, -299000000), 16, 0.05)

	require.Equal(t, a.Common(b), b.Common(a))
	require.Equal(t, a.Common(b.Common(c)), a.Common(b).Common(c))
}

func TestCommonUnsetIsAbsorbingIdentity(t *testing.T) {
	x := Calculate(NewBbox(0, 0, 100000, 100000), 16, 0.05)
	require.Equal(t, x, Unset.Common(x))
	require.Equal(t, x, x.Common(Unset))
	require.Equal(t, Unset, Unset.Common(Unset))
}

func TestNestedBboxesAncestry(t *testing.T) {
	outer := NewBbox(-500000000, -200000000, 500000000, 200000000)
	inner := NewBbox(-1000000, -1000000, 1000000, 1000000)

	qOuter := Calculate(outer, 18, 0.0)
	qInner := Calculate(inner, 18, 0.0)

	require.GreaterOrEqual(t, qInner.Depth(), qOuter.Depth())

	anc := qInner.Round(qOuter.Depth())
	require.Equal(t, qOuter, anc)
}

func TestRoundTruncatesDepth(t *testing.T) {
	q := Calculate(NewBbox(100000000, 100000000, 100100000, 100100000), 18, 0.0)
	r := q.Round(3)
	require.Equal(t, 3, r.Depth())
	require.Equal(t, q.Quad(0), r.Quad(0))
	require.Equal(t, q.Quad(1), r.Quad(1))
	require.Equal(t, q.Quad(2), r.Quad(2))
}

func TestFromXYZRoundTrip(t *testing.T) {
	q := FromXYZ(5, 9, 4)
	tup := q.AsTuple()
	require.Equal(t, uint32(5), tup.X)
	require.Equal(t, uint32(9), tup.Y)
	require.Equal(t, uint32(4), tup.Z)
}

func TestAsStringSentinel(t *testing.T) {
	require.Equal(t, "NULL", Unset.AsString())
	require.Equal(t, "NULL", Empty.AsString())
}
