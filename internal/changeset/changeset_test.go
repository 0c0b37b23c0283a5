package changeset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/element"
)

const sampleOSC = `<?xml version="1.0" encoding="UTF-8"?>
<osmChange version="0.6" generator="test">
  <create>
    <node id="1" version="1" timestamp="2024-01-01T00:00:00Z" lat="51.5" lon="-0.1">
      <tag k="amenity" v="cafe"/>
    </node>
  </create>
  <modify>
    <way id="10" version="2" timestamp="2024-01-02T00:00:00Z">
      <nd ref="1"/>
      <nd ref="2"/>
      <tag k="highway" v="residential"/>
    </way>
  </modify>
  <delete>
    <relation id="100" version="3" timestamp="2024-01-03T00:00:00Z">
      <member type="way" ref="10" role="outer"/>
    </relation>
  </delete>
</osmChange>`

func TestParseOSCAssignsChangetypePerAction(t *testing.T) {
	cb, err := ParseOSC([]byte(sampleOSC))
	require.NoError(t, err)

	require.Equal(t, element.Create, cb.Nodes[1].Changetype)
	require.Equal(t, []element.Tag{{Key: "amenity", Val: "cafe"}}, cb.Nodes[1].Tags)

	require.Equal(t, element.Modify, cb.Ways[10].Changetype)
	require.Equal(t, []int64{1, 2}, cb.Ways[10].Refs)

	require.Equal(t, element.Delete, cb.Relations[100].Changetype)
	require.Equal(t, "outer", cb.Relations[100].Members[0].Role)
}

func TestAddNodeKeepsHigherVersion(t *testing.T) {
	cb := NewChangeBlock()
	n1 := element.NewNode(1, element.Modify)
	n1.Info = &element.Info{Version: 1}
	n2 := element.NewNode(1, element.Modify)
	n2.Info = &element.Info{Version: 5}

	cb.AddNode(n1)
	cb.AddNode(n2)
	require.Equal(t, int64(5), cb.Nodes[1].Info.Version)

	older := element.NewNode(1, element.Modify)
	older.Info = &element.Info{Version: 2}
	cb.AddNode(older)
	require.Equal(t, int64(5), cb.Nodes[1].Info.Version)
}

func TestApplyChangeFollowsVersionRules(t *testing.T) {
	base := NewChangeBlock()
	baseNode := element.NewNode(1, element.Normal)
	baseNode.Info = &element.Info{Version: 1}
	base.AddNode(baseNode)

	change := NewChangeBlock()
	modified := element.NewNode(1, element.Modify)
	modified.Info = &element.Info{Version: 2}
	change.AddNode(modified)

	merged := ApplyChange(base, change)
	require.Equal(t, element.Modify, merged.Nodes[1].Changetype)
	require.Equal(t, int64(2), merged.Nodes[1].Info.Version)
}

func TestApplyChangeDropsStaleVersion(t *testing.T) {
	base := NewChangeBlock()
	baseNode := element.NewNode(1, element.Normal)
	baseNode.Info = &element.Info{Version: 5}
	base.AddNode(baseNode)

	change := NewChangeBlock()
	staleNode := element.NewNode(1, element.Modify)
	staleNode.Info = &element.Info{Version: 3}
	change.AddNode(staleNode)

	merged := ApplyChange(base, change)
	require.Equal(t, int64(5), merged.Nodes[1].Info.Version)
	require.Equal(t, element.Normal, merged.Nodes[1].Changetype)
}

func TestSerializeDropsDeletedObjects(t *testing.T) {
	cb := NewChangeBlock()
	live := element.NewNode(1, element.Normal)
	deleted := element.NewNode(2, element.Delete)
	cb.AddNode(live)
	cb.AddNode(deleted)

	out := cb.Serialize()
	require.Contains(t, out.Nodes, int64(1))
	require.NotContains(t, out.Nodes, int64(2))
}

func TestMergeChangesLatestBatchWins(t *testing.T) {
	b1 := NewChangeBlock()
	n1 := element.NewNode(1, element.Modify)
	n1.Tags = []element.Tag{{Key: "v", Val: "1"}}
	b1.AddNode(n1)

	b2 := NewChangeBlock()
	n2 := element.NewNode(1, element.Modify)
	n2.Tags = []element.Tag{{Key: "v", Val: "2"}}
	b2.AddNode(n2)

	merged := MergeChanges([]*ChangeBlock{b1, b2})
	require.Equal(t, "2", merged.Nodes[1].Tags[0].Val)
}
