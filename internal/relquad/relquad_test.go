package relquad

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/waynode"
)

type fakeLookup map[int64]quadtree.Quadtree

func (f fakeLookup) Get(id int64) (quadtree.Quadtree, bool) {
	q, ok := f[id]
	return q, ok
}

func TestResolveDirectMembersFirstPass(t *testing.T) {
	nodes := fakeLookup{1: quadtree.Quadtree(0x4000000000000003)}
	ways := fakeLookup{10: quadtree.Quadtree(0x4800000000000003)}
	byParent := map[int64][]waynode.RelationMember{
		100: {
			{ParentID: 100, MemberID: 1, Kind: element.KindNode},
			{ParentID: 100, MemberID: 10, Kind: element.KindWay},
		},
	}
	got := Resolve(byParent, nodes, ways)
	require.Equal(t, quadtree.Quadtree(0x4000000000000002), got[100])
}

func TestResolveConvergesAcrossPassesForNestedRelations(t *testing.T) {
	nodes := fakeLookup{1: quadtree.Quadtree(5)}
	ways := fakeLookup{}
	byParent := map[int64][]waynode.RelationMember{
		200: {{ParentID: 200, MemberID: 1, Kind: element.KindNode}},
		201: {{ParentID: 201, MemberID: 200, Kind: element.KindRelation}},
	}
	got := Resolve(byParent, nodes, ways)
	require.Equal(t, quadtree.Quadtree(5), got[200])
	require.Equal(t, quadtree.Quadtree(5), got[201])
}

func TestResolveFallsBackToRootAfterMaxPasses(t *testing.T) {
	nodes := fakeLookup{}
	ways := fakeLookup{}
	byParent := map[int64][]waynode.RelationMember{
		300: {{ParentID: 300, MemberID: 301, Kind: element.KindRelation}},
		301: {{ParentID: 301, MemberID: 300, Kind: element.KindRelation}},
	}
	got := Resolve(byParent, nodes, ways)
	require.Equal(t, quadtree.Root, got[300])
	require.Equal(t, quadtree.Root, got[301])
}

func TestResolveEmptyRelationGetsRoot(t *testing.T) {
	byParent := map[int64][]waynode.RelationMember{400: {}}
	got := Resolve(byParent, fakeLookup{}, fakeLookup{})
	require.Equal(t, quadtree.Root, got[400])
}
