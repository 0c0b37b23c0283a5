package countpass

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/changeset"
	"github.com/walkthru-earth/osmquadtree/internal/element"
)

func TestNodeCountTracksRangesAndBbox(t *testing.T) {
	c := NewNodeCount()
	n1 := element.NewNode(5, element.Normal)
	n1.Lon, n1.Lat = 10, 20
	n1.Info = &element.Info{Timestamp: 1000}
	n2 := element.NewNode(2, element.Normal)
	n2.Lon, n2.Lat = -5, 30
	n2.Info = &element.Info{Timestamp: 500}

	c.Add(n1)
	c.Add(n2)

	require.Equal(t, int64(2), c.Num)
	require.Equal(t, int64(2), c.MinID)
	require.Equal(t, int64(5), c.MaxID)
	require.Equal(t, int64(500), c.MinTs)
	require.Equal(t, int64(1000), c.MaxTs)
	require.Equal(t, int32(-5), c.MinLon)
	require.Equal(t, int32(10), c.MaxLon)
}

func TestWayCountTracksRefExtent(t *testing.T) {
	c := NewWayCount()
	w := element.NewWay(1, element.Normal)
	w.Refs = []int64{10, 3, 20}
	c.Add(w)

	require.Equal(t, int64(3), c.NumRefs)
	require.Equal(t, int64(3), c.MaxRefsLen)
	require.Equal(t, int64(3), c.MinRef)
	require.Equal(t, int64(20), c.MaxRef)
}

func TestRelationCountTracksEmpties(t *testing.T) {
	c := NewRelationCount()
	empty := element.NewRelation(1, element.Normal)
	full := element.NewRelation(2, element.Normal)
	full.Members = []element.Member{{MemType: element.KindWay, MemRef: 5}}
	c.Add(empty)
	c.Add(full)

	require.Equal(t, int64(1), c.NumEmpties)
	require.Equal(t, int64(1), c.NumMems)
	require.Equal(t, int64(1), c.MaxMemsLen)
}

func TestCountAddOtherMergesPartials(t *testing.T) {
	a := NewCount()
	a.Node.Add(element.NewNode(1, element.Normal))
	b := NewCount()
	b.Node.Add(element.NewNode(2, element.Normal))

	a.AddOther(b)
	require.Equal(t, int64(2), a.Node.Num)
	require.Equal(t, int64(1), a.Node.MinID)
	require.Equal(t, int64(2), a.Node.MaxID)
}

func TestChangeCountGroupsByChangetype(t *testing.T) {
	cb := changeset.NewChangeBlock()
	cb.AddNode(element.NewNode(1, element.Create))
	cb.AddNode(element.NewNode(2, element.Modify))
	cb.AddWay(element.NewWay(10, element.Delete))

	cc := NewChangeCount()
	cc.AddChangeBlock(cb)

	require.Equal(t, int64(1), cc.Node[element.Create].Num)
	require.Equal(t, int64(1), cc.Node[element.Modify].Num)
	require.Equal(t, int64(1), cc.Way[element.Delete].Num)
}

func TestCountAddBlockCollectsAllKinds(t *testing.T) {
	g := element.Group{
		Nodes:     []*element.Node{element.NewNode(1, element.Normal)},
		Ways:      []*element.Way{element.NewWay(2, element.Normal)},
		Relations: []*element.Relation{element.NewRelation(3, element.Normal)},
	}
	block := &element.Block{Groups: []element.Group{g}}

	c := NewCount()
	c.AddBlock(block)
	require.Equal(t, int64(1), c.Node.Num)
	require.Equal(t, int64(1), c.Way.Num)
	require.Equal(t, int64(1), c.Relation.Num)
}
