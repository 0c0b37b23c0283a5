package update

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru-earth/osmquadtree/internal/changeset"
	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/genconfig"
	"github.com/walkthru-earth/osmquadtree/internal/idindex"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/tiletree"
)

func TestTileIndexPackRoundTrip(t *testing.T) {
	ti := &TileIndex{Entries: []TileEntry{
		{Quadtree: 0, Offset: 0, Length: 100},
		{Quadtree: 5, Offset: 100, Length: 42},
	}}
	got, err := ReadTileIndex(ti.Pack())
	require.NoError(t, err)
	require.Equal(t, ti.Entries, got.Entries)

	e, ok := got.Lookup(5)
	require.True(t, ok)
	require.Equal(t, int64(100), e.Offset)
}

func TestComputeIdSetCollectsTouchedIDsByKind(t *testing.T) {
	cb := changeset.NewChangeBlock()
	cb.AddNode(element.NewNode(1, element.Modify))
	cb.AddWay(element.NewWay(10, element.Delete))

	ids := ComputeIdSet(cb)
	require.True(t, ids.ContainsNode(1))
	require.True(t, ids.ContainsWay(10))
	require.False(t, ids.ContainsRelation(999))
}

func TestExpandIdSetPullsInWayReferencingMovedNode(t *testing.T) {
	w := element.NewWay(100, element.Normal)
	w.Refs = []int64{1, 2}
	r := element.NewRelation(200, element.Normal)
	r.Members = []element.Member{{MemType: element.KindWay, MemRef: 100}}

	block := &element.Block{Groups: []element.Group{{
		Changetype: element.Normal,
		Ways:       []*element.Way{w},
		Relations:  []*element.Relation{r},
	}}}
	tiles := map[quadtree.Quadtree]*element.Block{quadtree.Root: block}

	ids := idindex.NewSimpleMap()
	ids.AddNode(1)

	require.True(t, ExpandIdSet(ids, tiles))
	require.True(t, ids.ContainsWay(100))
	require.True(t, ids.ContainsRelation(200)) // same pass: relations see the way added earlier in this call

	require.False(t, ExpandIdSet(ids, tiles)) // fixpoint: nothing left to add
}

func TestRecomputeDependentsRederivesWayAndRelationQuadtrees(t *testing.T) {
	n1 := element.NewNode(1, element.Normal)
	n1.Quadtree = quadtree.CalculatePoint(0, 0, 17, 0.05)
	w := element.NewWay(100, element.Normal)
	w.Refs = []int64{1}
	w.Quadtree = quadtree.Root
	r := element.NewRelation(200, element.Normal)
	r.Members = []element.Member{{MemType: element.KindWay, MemRef: 100}}
	r.Quadtree = quadtree.Root

	block := &element.Block{Groups: []element.Group{{
		Changetype: element.Normal,
		Nodes:      []*element.Node{n1},
		Ways:       []*element.Way{w},
		Relations:  []*element.Relation{r},
	}}}
	tiles := map[quadtree.Quadtree]*element.Block{quadtree.Root: block}

	cb := changeset.NewChangeBlock() // neither way nor relation named in the diff
	ids := idindex.NewSimpleMap()
	ids.AddWay(100)
	ids.AddRelation(200)

	locs := fakeLocs{1: {0, 0}}
	RecomputeDependents(tiles, cb, ids, locs, 17, 0.05)

	require.Equal(t, n1.Quadtree, w.Quadtree)
	require.Equal(t, w.Quadtree, r.Quadtree)
}

func buildOneTileGeneration(t *testing.T, dir, filename string) (string, *TileIndex) {
	t.Helper()
	n1 := element.NewNode(1, element.Normal)
	n1.Lon, n1.Lat = 0, 0
	n1.Quadtree = quadtree.CalculatePoint(0, 0, 17, 0.05)
	n2 := element.NewNode(2, element.Normal)
	n2.Lon, n2.Lat = 10000000, 10000000
	n2.Quadtree = quadtree.CalculatePoint(10000000, 10000000, 17, 0.05)

	g := element.Group{Changetype: element.Normal, Dense: true, Nodes: []*element.Node{n1, n2}}
	g.SortObjects()
	block := &element.Block{Groups: []element.Group{g}, IncludeQts: true}
	framed, err := packBlock(block)
	require.NoError(t, err)

	dataPath := filepath.Join(dir, filename)
	require.NoError(t, writeAll(dataPath, framed))

	ti := &TileIndex{Entries: []TileEntry{{Quadtree: quadtree.Root, Offset: 0, Length: int64(len(framed))}}}
	return dataPath, ti
}

func TestReadTilesDecodesByPositionIndex(t *testing.T) {
	dir := t.TempDir()
	dataPath, ti := buildOneTileGeneration(t, dir, "gen1.pbfc")

	tiles, err := ReadTiles(dataPath, ti, []quadtree.Quadtree{quadtree.Root})
	require.NoError(t, err)
	require.Len(t, tiles[quadtree.Root].Groups[0].Nodes, 2)
}

type fakeLocs map[int64][2]int32

func (f fakeLocs) Location(id int64) (int32, int32, bool) {
	v, ok := f[id]
	if !ok {
		return 0, 0, false
	}
	return v[0], v[1], true
}

func TestApplyChangeToTileAppliesModifyDeleteAndCreate(t *testing.T) {
	dir := t.TempDir()
	dataPath, ti := buildOneTileGeneration(t, dir, "gen1.pbfc")
	tiles, err := ReadTiles(dataPath, ti, []quadtree.Quadtree{quadtree.Root})
	require.NoError(t, err)
	block := tiles[quadtree.Root]

	cb := changeset.NewChangeBlock()
	modified := element.NewNode(1, element.Modify)
	modified.Lon, modified.Lat = 5000000, 5000000
	modified.Tags = []element.Tag{{Key: "k", Val: "v"}}
	cb.AddNode(modified)

	deleted := element.NewNode(2, element.Delete)
	cb.AddNode(deleted)

	created := element.NewNode(3, element.Create)
	created.Lon, created.Lat = 1000000, 1000000
	cb.AddNode(created)

	merged := ApplyChangeToTile(block, cb, fakeLocs{}, 17, 0.05)
	ids := map[int64]bool{}
	for _, n := range merged.Groups[0].Nodes {
		ids[n.ID] = true
	}
	require.True(t, ids[1])
	require.True(t, ids[3])
	require.False(t, ids[2])
}

func TestWriteGenerationCopiesUnaffectedTilesVerbatim(t *testing.T) {
	dir := t.TempDir()
	dataPath, ti := buildOneTileGeneration(t, dir, "gen1.pbfc")

	outPath := filepath.Join(dir, "gen2.pbfc")
	newTi, newIdx, err := WriteGeneration(outPath, dataPath, ti, map[quadtree.Quadtree]*element.Block{})
	require.NoError(t, err)
	require.Len(t, newTi.Entries, 1)
	require.Len(t, newIdx.Records, 1)

	tiles, err := ReadTiles(outPath, newTi, []quadtree.Quadtree{quadtree.Root})
	require.NoError(t, err)
	require.Len(t, tiles[quadtree.Root].Groups[0].Nodes, 2)
}

func TestWriteGenerationWritesRewrittenTileInPlace(t *testing.T) {
	dir := t.TempDir()
	dataPath, ti := buildOneTileGeneration(t, dir, "gen1.pbfc")

	n3 := element.NewNode(3, element.Normal)
	n3.Lon, n3.Lat = 0, 0
	n3.Quadtree = quadtree.Root
	g := element.Group{Changetype: element.Normal, Dense: true, Nodes: []*element.Node{n3}}
	rewritten := map[quadtree.Quadtree]*element.Block{
		quadtree.Root: {Groups: []element.Group{g}, IncludeQts: true},
	}

	outPath := filepath.Join(dir, "gen2.pbfc")
	newTi, newIdx, err := WriteGeneration(outPath, dataPath, ti, rewritten)
	require.NoError(t, err)
	require.Len(t, newTi.Entries, 1)
	require.Equal(t, []int64{3}, newIdx.Records[0].NodeIDs)
}

func TestUpdateFilelistAppendsEntry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, UpdateFilelist(dir, genconfig.FilelistEntry{Filename: "gen1.pbfc", EndDate: "2024-01-01T00:00:00", NumTiles: 1, State: 1}))
	require.NoError(t, UpdateFilelist(dir, genconfig.FilelistEntry{Filename: "gen2.pbfc", EndDate: "2024-01-02T00:00:00", NumTiles: 1, State: 2}))

	fl, err := genconfig.LoadFilelist(dir)
	require.NoError(t, err)
	latest, ok := fl.Latest()
	require.True(t, ok)
	require.Equal(t, "gen2.pbfc", latest.Filename)
}

func TestLeavesForReassignsMigratedObjects(t *testing.T) {
	tree := tiletree.Build([]quadtree.Quadtree{quadtree.Root}, 17)

	n := element.NewNode(1, element.Normal)
	n.Quadtree = quadtree.Root
	block := &element.Block{Groups: []element.Group{{Changetype: element.Normal, Dense: true, Nodes: []*element.Node{n}}}, IncludeQts: true}

	out := LeavesFor(tree, map[quadtree.Quadtree]*element.Block{quadtree.Root: block})
	require.Len(t, out[quadtree.Root].Groups[0].Nodes, 1)
}

func TestLoadSaveTileAndIdIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ti := &TileIndex{Entries: []TileEntry{{Quadtree: 1, Offset: 0, Length: 10}}}
	require.NoError(t, SaveTileIndex(TileIndexPath(dir, "gen1.pbfc"), ti))
	gotTi, err := LoadTileIndex(TileIndexPath(dir, "gen1.pbfc"))
	require.NoError(t, err)
	require.Equal(t, ti.Entries, gotTi.Entries)

	idx := &idindex.Index{Records: []idindex.Record{{Quadtree: 1, NodeIDs: []int64{1, 2}}}}
	require.NoError(t, SaveIdIndex(IdIndexPath(dir, "gen1.pbfc"), idx))
	gotIdx, err := LoadIdIndex(IdIndexPath(dir, "gen1.pbfc"))
	require.NoError(t, err)
	require.Equal(t, idx.Records, gotIdx.Records)
}
