// Command osmquadtree runs one pass of the quadtree-calculation and
// tile-update pipeline: calcqts assigns quadtrees, sortblocks packs them
// into tile-tree order, update_initial/update manage a generation
// directory, write_index_file (re)builds an id-index, mergechanges folds
// several OSC diffs into one, and count prints summary statistics.
package main

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/klauspost/compress/gzip"

	"github.com/walkthru-earth/osmquadtree/internal/blockrouter"
	"github.com/walkthru-earth/osmquadtree/internal/blocksort"
	"github.com/walkthru-earth/osmquadtree/internal/changeset"
	"github.com/walkthru-earth/osmquadtree/internal/countpass"
	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/genconfig"
	"github.com/walkthru-earth/osmquadtree/internal/idindex"
	"github.com/walkthru-earth/osmquadtree/internal/nodequad"
	"github.com/walkthru-earth/osmquadtree/internal/obslog"
	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/relquad"
	"github.com/walkthru-earth/osmquadtree/internal/tiletree"
	"github.com/walkthru-earth/osmquadtree/internal/tstamp"
	"github.com/walkthru-earth/osmquadtree/internal/update"
	"github.com/walkthru-earth/osmquadtree/internal/waybbox"
	"github.com/walkthru-earth/osmquadtree/internal/waynode"
)

func main() {
	app := kingpin.New("osmquadtree", "Compute and maintain quadtree-indexed OSM data files.")

	countCmd := app.Command("count", "Print summary statistics for a data file or changeset.")
	countInput := countCmd.Arg("input", "input file (.pbfc, .osc or .osc.gz)").Required().String()
	countPrimitive := countCmd.Flag("primitive", "accepted for compatibility; objects are always decoded in full").Bool()
	countFilter := countCmd.Flag("filter", "count only nodes inside minlon,minlat,maxlon,maxlat (ways and relations are not bbox-filtered; ignored for .osc input)").String()
	countTimestamp := countCmd.Flag("timestamp", "restrict to objects at/after this timestamp (ignored for .osc input)").String()

	calcqtsCmd := app.Command("calcqts", "Assign quadtrees to every node, way and relation in a data file.")
	calcqtsIn := calcqtsCmd.Arg("input", "input data file").Required().String()
	calcqtsOut := calcqtsCmd.Flag("qtsfn", "output data file with quadtrees attached").Required().String()
	calcqtsLevel := calcqtsCmd.Flag("qt_level", "maximum quadtree depth").Default("18").Int()
	calcqtsBuffer := calcqtsCmd.Flag("qt_buffer", "fractional buffer added around each bbox").Default("0.05").Float64()
	calcqtsNumchan := calcqtsCmd.Flag("numchan", "number of worker channels").Default("4").Int()
	calcqtsMode := calcqtsCmd.Flag("mode", "way-quadtree resolution strategy").Default("INMEM").Enum("INMEM", "SIMPLE", "FLATVEC")
	calcqtsRAM := calcqtsCmd.Flag("ram", "RAM budget in bytes; INMEM and FLATVEC abort when the way-quadtree store would exceed it").Default("1073741824").Int64()

	sortblocksCmd := app.Command("sortblocks", "Pack a quadtree-tagged data file into tile-tree leaf order.")
	sortblocksIn := sortblocksCmd.Arg("input", "input data file with quadtrees attached").Required().String()
	sortblocksOut := sortblocksCmd.Flag("outfn", "output sorted data file").Required().String()
	sortblocksLevel := sortblocksCmd.Flag("qt_max_level", "tile-tree maximum depth").Default("17").Int()
	sortblocksTarget := sortblocksCmd.Flag("target", "target objects per leaf").Default("40000").Int64()
	sortblocksMinTarget := sortblocksCmd.Flag("min_target", "minimum objects per leaf (default target/2)").Int64()
	sortblocksRAM := sortblocksCmd.Flag("ram", "RAM budget in bytes before spilling").Default("1073741824").Int64()
	sortblocksKeeptemps := sortblocksCmd.Flag("keeptemps", "keep spill temp files instead of removing them").Bool()

	writeIndexCmd := app.Command("write_index_file", "(Re)build the id-index sidecar for a sorted data file.")
	writeIndexIn := writeIndexCmd.Arg("input", "sorted data file").Required().String()

	updateInitialCmd := app.Command("update_initial", "Seed a generation directory from a sorted, indexed data file.")
	updateInitialPrfx := updateInitialCmd.Flag("prfx", "generation directory").Required().String()
	updateInitialIn := updateInitialCmd.Flag("infn", "sorted data file produced by sortblocks").Required().String()
	updateInitialState := updateInitialCmd.Flag("initial_state", "diff-server state number this file corresponds to").Required().Int()
	updateInitialDiffs := updateInitialCmd.Flag("diffs_location", "base URL or directory diffs are fetched from").Required().String()
	updateInitialLevel := updateInitialCmd.Flag("qt_level", "maximum quadtree depth").Default("17").Int()
	updateInitialBuffer := updateInitialCmd.Flag("qt_buffer", "fractional buffer added around each bbox").Default("0.05").Float64()

	updateCmd := app.Command("update", "Apply the next OSC diff to a generation directory.")
	updatePrfx := updateCmd.Flag("prfx", "generation directory").Required().String()
	updateRAM := updateCmd.Flag("ram", "RAM budget in bytes").Default("1073741824").Int64()

	mergeCmd := app.Command("mergechanges", "Merge several OSC changesets into one.")
	mergeSort := mergeCmd.Flag("sort", "sort the merged changeset's objects by id within each kind").Bool()
	mergeInmem := mergeCmd.Flag("inmem", "accepted for compatibility; input changesets are always held in memory at once").Bool()
	mergeOut := mergeCmd.Flag("outfn", "output merged OSC file").Required().String()
	mergeInputs := mergeCmd.Arg("inputs", "input .osc/.osc.gz files, oldest first").Required().Strings()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch cmd {
	case countCmd.FullCommand():
		err = runCount(*countInput, *countPrimitive, *countFilter, *countTimestamp)
	case calcqtsCmd.FullCommand():
		err = runCalcqts(*calcqtsIn, *calcqtsOut, *calcqtsLevel, *calcqtsBuffer, *calcqtsNumchan, *calcqtsMode, *calcqtsRAM)
	case sortblocksCmd.FullCommand():
		minTarget := *sortblocksMinTarget
		if minTarget == 0 {
			minTarget = *sortblocksTarget / 2
		}
		err = runSortblocks(*sortblocksIn, *sortblocksOut, *sortblocksLevel, *sortblocksTarget, minTarget, *sortblocksRAM, *sortblocksKeeptemps)
	case writeIndexCmd.FullCommand():
		err = runWriteIndexFile(*writeIndexIn)
	case updateInitialCmd.FullCommand():
		err = runUpdateInitial(*updateInitialPrfx, *updateInitialIn, *updateInitialState, *updateInitialDiffs, *updateInitialLevel, *updateInitialBuffer)
	case updateCmd.FullCommand():
		err = runUpdate(*updatePrfx, *updateRAM)
	case mergeCmd.FullCommand():
		err = runMergeChanges(*mergeInputs, *mergeOut, *mergeSort, *mergeInmem)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// --- shared file helpers -------------------------------------------------

func readAllBlocks(path string) ([]*element.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", path)
	}
	fbs, err := pbf.ReadAllFileBlocks(data)
	if err != nil {
		return nil, err
	}
	var blocks []*element.Block
	for _, fb := range fbs {
		if fb.BlockType != "OSMData" {
			continue
		}
		raw, err := fb.Data()
		if err != nil {
			return nil, err
		}
		block, err := element.ReadBlock(raw)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func openGzOrPlain(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "gzip init for %s", path)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "gzip decompress %s", path)
	}
	return out, nil
}

// --- count ---------------------------------------------------------------

func runCount(input string, primitive bool, filter, timestamp string) error {
	_ = primitive // the reference minimal-vs-full decode distinction collapses here: element.Block always decodes fully.

	var bbox *tstamp.Bbox
	if filter != "" {
		b, err := tstamp.ParseBbox(filter)
		if err != nil {
			return err
		}
		bbox = &b
	}
	var minTs int64
	if timestamp != "" {
		t, err := tstamp.Parse(timestamp)
		if err != nil {
			return err
		}
		minTs = t.Unix()
	}

	switch {
	case strings.HasSuffix(input, ".osc") || strings.HasSuffix(input, ".osc.gz"):
		data, err := openGzOrPlain(input)
		if err != nil {
			return err
		}
		cb, err := changeset.ParseOSC(data)
		if err != nil {
			return err
		}
		cc := countpass.NewChangeCount()
		cc.AddChangeBlock(cb)
		fmt.Println(cc.String())
		return nil
	default:
		blocks, err := readAllBlocks(input)
		if err != nil {
			return err
		}
		c := countpass.NewCount()
		for _, b := range blocks {
			for _, g := range b.Groups {
				for _, n := range g.Nodes {
					if !nodePasses(n, bbox, minTs) {
						continue
					}
					c.Node.Add(n)
				}
				for _, w := range g.Ways {
					if w.Info != nil && w.Info.Timestamp < minTs {
						continue
					}
					c.Way.Add(w)
				}
				for _, r := range g.Relations {
					if r.Info != nil && r.Info.Timestamp < minTs {
						continue
					}
					c.Relation.Add(r)
				}
			}
		}
		fmt.Println(c.String())
		return nil
	}
}

func nodePasses(n *element.Node, bbox *tstamp.Bbox, minTs int64) bool {
	if bbox != nil && !bbox.ContainsPoint(n.Lon, n.Lat) {
		return false
	}
	if n.Info != nil && n.Info.Timestamp < minTs {
		return false
	}
	return true
}

// --- calcqts ---------------------------------------------------------------

type nodeLocs map[int64][2]int32

func (l nodeLocs) Location(id int64) (int32, int32, bool) {
	v, ok := l[id]
	return v[0], v[1], ok
}

type wayQtLookup map[int64]quadtree.Quadtree

func (w wayQtLookup) Get(id int64) (quadtree.Quadtree, bool) {
	q, ok := w[id]
	return q, ok
}

type nodeQtLookup map[int64]quadtree.Quadtree

func (n nodeQtLookup) Get(id int64) (quadtree.Quadtree, bool) {
	q, ok := n[id]
	return q, ok
}

func runCalcqts(in, out string, maxLevel int, buffer float64, numchan int, mode string, ram int64) error {
	_ = numchan // single-pass implementation; see DESIGN.md for the concurrency simplification.

	blocks, err := readAllBlocks(in)
	if err != nil {
		return err
	}

	locs := nodeLocs{}
	var incidenceStore *waynode.Store
	var wayStore waybbox.Store
	switch mode {
	case "FLATVEC":
		tempDir, err := os.MkdirTemp("", "osmquadtree-calcqts-")
		if err != nil {
			return oqerr.Wrap(oqerr.KindResourceExhausted, err, "create temp dir")
		}
		incidenceStore, err = waynode.NewSpillStore(1<<16, tempDir)
		if err != nil {
			return err
		}
		defer incidenceStore.Close()
		wayStore = waybbox.NewSplit()
	case "SIMPLE":
		incidenceStore = waynode.NewStore(1 << 16)
		wayStore = waybbox.NewSimple()
	default: // INMEM
		incidenceStore = waynode.NewStore(1 << 16)
		wayStore = waybbox.NewSplit()
	}
	relStore := waynode.NewRelationStore()

	for _, b := range blocks {
		for _, g := range b.Groups {
			for _, n := range g.Nodes {
				locs[n.ID] = [2]int32{n.Lon, n.Lat}
			}
			for _, w := range g.Ways {
				incidenceStore.AddWay(w)
			}
			for _, r := range g.Relations {
				relStore.AddRelation(r)
			}
		}
	}
	if err := incidenceStore.Finish(); err != nil {
		return err
	}

	nodeQts := nodeQtLookup{}
	var missing int
	for _, tile := range incidenceStore.Tiles() {
		incidences, err := incidenceStore.Read(tile)
		if err != nil {
			return err
		}
		m, err := waybbox.ResolveWayQuadtrees(incidences, locs, wayStore, maxLevel, buffer, ram)
		if err != nil {
			return err
		}
		missing += m
	}
	if missing > 0 {
		obslog.Pass("calcqts", "%d way-node incidences had no resolvable node location", missing)
	}
	wayQts := wayQtLookup{}
	for _, e := range wayStore.Items() {
		wayQts[e.ID] = e.Quadtree
	}
	for _, tile := range incidenceStore.Tiles() {
		incidences, err := incidenceStore.Read(tile)
		if err != nil {
			return err
		}
		for id, q := range nodequad.Resolve(incidences, wayQts) {
			nodeQts[id] = q
		}
	}
	for id, loc := range locs {
		if _, ok := nodeQts[id]; !ok {
			nodeQts[id] = nodequad.ResolveFromPoint(loc[0], loc[1], maxLevel, buffer)
		}
	}

	relQts := relquad.Resolve(relStore.ByParent(), nodeQts, wayQts)

	outFile, err := os.Create(out)
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "create %s", out)
	}
	defer outFile.Close()

	for _, b := range blocks {
		for gi := range b.Groups {
			g := &b.Groups[gi]
			for _, n := range g.Nodes {
				if q, ok := nodeQts[n.ID]; ok {
					n.Quadtree = q
				}
			}
			for _, w := range g.Ways {
				q, ok := wayQts[w.ID]
				if !ok || q == quadtree.Unset {
					q = quadtree.Root
				}
				w.Quadtree = q
			}
			for _, r := range g.Relations {
				if q, ok := relQts[r.ID]; ok {
					r.Quadtree = q
				} else {
					r.Quadtree = quadtree.Root
				}
			}
		}
		b.IncludeQts = true
		packed, err := b.Pack()
		if err != nil {
			return err
		}
		framed, err := pbf.PackFileBlock("OSMData", packed, pbf.Zlib)
		if err != nil {
			return err
		}
		if _, err := outFile.Write(framed); err != nil {
			return oqerr.Wrap(oqerr.KindInvalidInput, err, "write %s", out)
		}
	}

	obslog.Pass("calcqts", "wrote %s: %d nodes, %d ways, %d relations", out, len(nodeQts), len(wayQts), len(relQts))
	return nil
}

// --- sortblocks ------------------------------------------------------------

// sortblocksSmallFile and sortblocksMediumFile bound the input-size tiers
// that pick sortblocks' spill strategy: §6 gives sortblocks no --mode
// flag, so the strategy is derived from the input file size alone rather
// than chosen by the caller.
const (
	sortblocksSmallFile  = 100 << 20  // under this, spills stay in memory
	sortblocksMediumFile = 2000 << 20 // under this, one shared spill file
)

func strategyForSize(size int64) blockrouter.Strategy {
	switch {
	case size < sortblocksSmallFile:
		return blockrouter.SpillMemory
	case size < sortblocksMediumFile:
		return blockrouter.SpillSingleFile
	default:
		return blockrouter.SpillPerBucket
	}
}

func runSortblocks(in, out string, maxLevel int, target, minTarget int64, ram int64, keeptemps bool) error {
	info, err := os.Stat(in)
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "stat %s", in)
	}

	blocks, err := readAllBlocks(in)
	if err != nil {
		return err
	}

	var qts []quadtree.Quadtree
	for _, b := range blocks {
		for _, g := range b.Groups {
			for _, n := range g.Nodes {
				qts = append(qts, n.Quadtree)
			}
			for _, w := range g.Ways {
				qts = append(qts, w.Quadtree)
			}
			for _, r := range g.Relations {
				qts = append(qts, r.Quadtree)
			}
		}
	}
	tree := tiletree.Build(qts, maxLevel)
	tree.Rebalance(target, minTarget)

	tempDir, err := os.MkdirTemp("", "osmquadtree-sortblocks-")
	if err != nil {
		return oqerr.Wrap(oqerr.KindResourceExhausted, err, "create temp dir")
	}
	router, err := blockrouter.NewRouter(tree, strategyForSize(info.Size()), ram, tempDir)
	if err != nil {
		return err
	}
	defer func() {
		if keeptemps {
			router.CloseKeepingTemps()
		} else {
			router.Close()
		}
	}()

	for _, b := range blocks {
		for _, g := range b.Groups {
			for _, n := range g.Nodes {
				enc, err := blocksort.EncodeObject(n)
				if err != nil {
					return err
				}
				if err := router.Route(n.Quadtree, enc); err != nil {
					return err
				}
			}
			for _, w := range g.Ways {
				enc, err := blocksort.EncodeObject(w)
				if err != nil {
					return err
				}
				if err := router.Route(w.Quadtree, enc); err != nil {
					return err
				}
			}
			for _, r := range g.Relations {
				enc, err := blocksort.EncodeObject(r)
				if err != nil {
					return err
				}
				if err := router.Route(r.Quadtree, enc); err != nil {
					return err
				}
			}
		}
	}

	outFile, err := os.Create(out)
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "create %s", out)
	}
	defer outFile.Close()

	ti := &update.TileIndex{}
	idx := &idindex.Index{}
	var offset int64
	leaves := tree.Leaves()
	sort.Slice(leaves, func(i, j int) bool { return leaves[i] < leaves[j] })
	for _, leaf := range leaves {
		chunks, err := router.Read(leaf)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			continue
		}
		group, err := blocksort.SortLeaf(chunks)
		if err != nil {
			return err
		}
		framed, err := blocksort.PackLeaf(chunks)
		if err != nil {
			return err
		}
		n, err := outFile.Write(framed)
		if err != nil {
			return oqerr.Wrap(oqerr.KindInvalidInput, err, "write %s", out)
		}
		ti.Entries = append(ti.Entries, update.TileEntry{Quadtree: leaf, Offset: offset, Length: int64(n)})
		offset += int64(n)
		idx.Records = append(idx.Records, idindex.RecordFromGroup(leaf, group.Groups[0]))
	}

	if err := update.SaveTileIndex(out+"-tileidx.pbf", ti); err != nil {
		return err
	}
	if err := update.SaveIdIndex(out+"-idx.pbf", idx); err != nil {
		return err
	}
	obslog.Pass("sortblocks", "wrote %s: %d leaves", out, len(ti.Entries))
	return nil
}

// --- write_index_file --------------------------------------------------

func runWriteIndexFile(in string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", in)
	}
	fbs, err := pbf.ReadAllFileBlocks(data)
	if err != nil {
		return err
	}
	ti := &update.TileIndex{}
	idx := &idindex.Index{}
	var offset int64
	for _, fb := range fbs {
		if fb.BlockType != "OSMData" {
			offset += fb.Len
			continue
		}
		raw, err := fb.Data()
		if err != nil {
			return err
		}
		block, err := element.ReadBlock(raw)
		if err != nil {
			return err
		}
		q := quadtree.Root
		if len(block.Groups) > 0 {
			g := block.Groups[0]
			switch {
			case len(g.Nodes) > 0:
				q = g.Nodes[0].Quadtree
			case len(g.Ways) > 0:
				q = g.Ways[0].Quadtree
			case len(g.Relations) > 0:
				q = g.Relations[0].Quadtree
			}
			idx.Records = append(idx.Records, idindex.RecordFromGroup(q, g))
		}
		ti.Entries = append(ti.Entries, update.TileEntry{Quadtree: q, Offset: offset, Length: fb.Len})
		offset += fb.Len
	}
	if err := update.SaveTileIndex(in+"-tileidx.pbf", ti); err != nil {
		return err
	}
	if err := update.SaveIdIndex(in+"-idx.pbf", idx); err != nil {
		return err
	}
	obslog.Pass("write_index_file", "indexed %d tiles from %s", len(ti.Entries), in)
	return nil
}

// --- update_initial / update --------------------------------------------

func runUpdateInitial(prfx, in string, initialState int, diffsLocation string, maxLevel int, buffer float64) error {
	settings := genconfig.Settings{
		InitialState:  initialState,
		DiffsLocation: diffsLocation,
		SourcePrfx:    prfx,
		MaxQtLevel:    maxLevel,
		QtBuffer:      buffer,
	}
	if err := settings.Save(prfx); err != nil {
		return err
	}

	filename := "000000.pbfc"
	data, err := os.ReadFile(in)
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", in)
	}
	if err := os.WriteFile(update.DataPath(prfx, filename), data, 0o644); err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "write %s", filename)
	}

	tiIn, err := os.ReadFile(in + "-tileidx.pbf")
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "read tile index for %s (run sortblocks first)", in)
	}
	if err := os.WriteFile(update.TileIndexPath(prfx, filename), tiIn, 0o644); err != nil {
		return err
	}
	idxIn, err := os.ReadFile(in + "-idx.pbf")
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "read id-index for %s (run sortblocks first)", in)
	}
	if err := os.WriteFile(update.IdIndexPath(prfx, filename), idxIn, 0o644); err != nil {
		return err
	}

	ti, err := update.ReadTileIndex(tiIn)
	if err != nil {
		return err
	}
	return update.UpdateFilelist(prfx, genconfig.FilelistEntry{
		Filename: filename,
		NumTiles: len(ti.Entries),
		State:    initialState,
	})
}

func runUpdate(prfx string, ram int64) error {
	settings, err := genconfig.LoadSettings(prfx)
	if err != nil {
		return err
	}
	fl, err := genconfig.LoadFilelist(prfx)
	if err != nil {
		return err
	}
	latest, ok := fl.Latest()
	if !ok {
		return oqerr.InvalidInput("no generation found in %s; run update_initial first", prfx)
	}

	nextState := latest.State + 1
	diffPath := filepath.Join(settings.DiffsLocation, fmt.Sprintf("%d.osc.gz", nextState))
	oscData, err := openGzOrPlain(diffPath)
	if err != nil {
		return err
	}
	cb, err := changeset.ParseOSC(oscData)
	if err != nil {
		return err
	}

	prevData := update.DataPath(prfx, latest.Filename)
	prevTi, err := update.LoadTileIndex(update.TileIndexPath(prfx, latest.Filename))
	if err != nil {
		return err
	}
	prevIdx, err := update.LoadIdIndex(update.IdIndexPath(prfx, latest.Filename))
	if err != nil {
		return err
	}

	ids := update.ComputeIdSet(cb)
	affected := update.QueryIndex(prevIdx, ids)

	tiles, err := update.ReadTiles(prevData, prevTi, affected)
	if err != nil {
		return err
	}
	loaded := map[quadtree.Quadtree]bool{}
	for _, q := range affected {
		loaded[q] = true
	}

	// Step 3's transitive closure: a way/relation that merely references
	// a changed id, without being named in the diff, still needs its
	// quadtree recomputed (step 5). Iterate expand -> re-query -> load
	// until a pass finds nothing new; expandPasses is a defensive
	// backstop, not a functional limit, since the loop is self-
	// terminating once the id set stops growing.
	const expandPasses = 8
	for pass := 0; pass < expandPasses; pass++ {
		if !update.ExpandIdSet(ids, tiles) {
			break
		}
		var toLoad []quadtree.Quadtree
		for _, q := range update.QueryIndex(prevIdx, ids) {
			if !loaded[q] {
				toLoad = append(toLoad, q)
				loaded[q] = true
			}
		}
		if len(toLoad) == 0 {
			continue
		}
		more, err := update.ReadTiles(prevData, prevTi, toLoad)
		if err != nil {
			return err
		}
		for q, b := range more {
			tiles[q] = b
		}
	}

	locs := nodeLocs{}
	for _, block := range tiles {
		for _, g := range block.Groups {
			for _, n := range g.Nodes {
				locs[n.ID] = [2]int32{n.Lon, n.Lat}
			}
		}
	}
	for id, n := range cb.Nodes {
		locs[id] = [2]int32{n.Lon, n.Lat}
	}

	update.RecomputeDependents(tiles, cb, ids, locs, settings.MaxQtLevel, settings.QtBuffer)

	rewritten := map[quadtree.Quadtree]*element.Block{}
	for q, block := range tiles {
		rewritten[q] = update.ApplyChangeToTile(block, cb, locs, settings.MaxQtLevel, settings.QtBuffer)
	}

	var leafQts []quadtree.Quadtree
	for _, e := range prevTi.Entries {
		leafQts = append(leafQts, e.Quadtree)
	}
	tree := tiletree.Build(leafQts, settings.MaxQtLevel)
	migrated := update.LeavesFor(tree, rewritten)

	nextFilename := fmt.Sprintf("%06d.pbfc", nextState)
	outPath := update.DataPath(prfx, nextFilename)
	newTi, newIdx, err := update.WriteGeneration(outPath, prevData, prevTi, migrated)
	if err != nil {
		return err
	}
	if err := update.SaveTileIndex(update.TileIndexPath(prfx, nextFilename), newTi); err != nil {
		return err
	}
	if err := update.SaveIdIndex(update.IdIndexPath(prfx, nextFilename), newIdx); err != nil {
		return err
	}

	return update.UpdateFilelist(prfx, genconfig.FilelistEntry{
		Filename: nextFilename,
		NumTiles: len(newTi.Entries),
		State:    nextState,
	})
}

// --- mergechanges --------------------------------------------------------

func runMergeChanges(inputs []string, out string, doSort, inMem bool) error {
	_ = inMem // ChangeBlock is always in-memory here; the three mergechanges variants collapse to one implementation.

	var batches []*changeset.ChangeBlock
	for _, in := range inputs {
		data, err := openGzOrPlain(in)
		if err != nil {
			return err
		}
		cb, err := changeset.ParseOSC(data)
		if err != nil {
			return err
		}
		batches = append(batches, cb)
	}
	merged := changeset.MergeChanges(batches)

	f, err := os.Create(out)
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "create %s", out)
	}
	defer f.Close()
	if _, err := f.WriteString(renderOSC(merged, doSort)); err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "write %s", out)
	}
	obslog.Pass("mergechanges", "wrote %s from %d input changesets", out, len(inputs))
	return nil
}

// --- OSC serialization ---------------------------------------------------
//
// These mirror (as the encode side of) changeset's decode-only nodeXML/
// wayXML/relationXML structs, which stay unexported to that package.

type oscTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type oscNd struct {
	Ref int64 `xml:"ref,attr"`
}

type oscMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type oscNode struct {
	ID        int64    `xml:"id,attr"`
	Version   int64    `xml:"version,attr"`
	Timestamp string   `xml:"timestamp,attr"`
	Changeset int64    `xml:"changeset,attr"`
	UID       int64    `xml:"uid,attr,omitempty"`
	User      string   `xml:"user,attr,omitempty"`
	Lon       float64  `xml:"lon,attr"`
	Lat       float64  `xml:"lat,attr"`
	Tags      []oscTag `xml:"tag"`
}

type oscWay struct {
	ID        int64    `xml:"id,attr"`
	Version   int64    `xml:"version,attr"`
	Timestamp string   `xml:"timestamp,attr"`
	Changeset int64    `xml:"changeset,attr"`
	UID       int64    `xml:"uid,attr,omitempty"`
	User      string   `xml:"user,attr,omitempty"`
	Nds       []oscNd  `xml:"nd"`
	Tags      []oscTag `xml:"tag"`
}

type oscRelation struct {
	ID        int64       `xml:"id,attr"`
	Version   int64       `xml:"version,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	Changeset int64       `xml:"changeset,attr"`
	UID       int64       `xml:"uid,attr,omitempty"`
	User      string      `xml:"user,attr,omitempty"`
	Members   []oscMember `xml:"member"`
	Tags      []oscTag    `xml:"tag"`
}

type oscAction struct {
	Nodes     []oscNode     `xml:"node"`
	Ways      []oscWay      `xml:"way"`
	Relations []oscRelation `xml:"relation"`
}

type oscChange struct {
	XMLName xml.Name  `xml:"osmChange"`
	Version string    `xml:"version,attr"`
	Create  oscAction `xml:"create"`
	Modify  oscAction `xml:"modify"`
	Delete  oscAction `xml:"delete"`
}

func oscTagsOf(tags []element.Tag) []oscTag {
	out := make([]oscTag, len(tags))
	for i, t := range tags {
		out[i] = oscTag{K: t.Key, V: t.Val}
	}
	return out
}

func oscInfoOf(info *element.Info) (version, cs, uid int64, user, ts string) {
	if info == nil {
		return 0, 0, 0, "", ""
	}
	return info.Version, info.Changeset, info.UserID, info.User, tstamp.Format(unixSecondsUTC(info.Timestamp))
}

func unixSecondsUTC(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

func toOscNode(n *element.Node) oscNode {
	version, cs, uid, user, ts := oscInfoOf(n.Info)
	return oscNode{
		ID: n.ID, Version: version, Timestamp: ts, Changeset: cs, UID: uid, User: user,
		Lon: float64(n.Lon) * 1e-7, Lat: float64(n.Lat) * 1e-7,
		Tags: oscTagsOf(n.Tags),
	}
}

func toOscWay(w *element.Way) oscWay {
	version, cs, uid, user, ts := oscInfoOf(w.Info)
	nds := make([]oscNd, len(w.Refs))
	for i, ref := range w.Refs {
		nds[i] = oscNd{Ref: ref}
	}
	return oscWay{ID: w.ID, Version: version, Timestamp: ts, Changeset: cs, UID: uid, User: user, Nds: nds, Tags: oscTagsOf(w.Tags)}
}

func memberTypeName(k element.Kind) string {
	switch k {
	case element.KindWay:
		return "way"
	case element.KindRelation:
		return "relation"
	default:
		return "node"
	}
}

func toOscRelation(r *element.Relation) oscRelation {
	version, cs, uid, user, ts := oscInfoOf(r.Info)
	members := make([]oscMember, len(r.Members))
	for i, m := range r.Members {
		members[i] = oscMember{Type: memberTypeName(m.MemType), Ref: m.MemRef, Role: m.Role}
	}
	return oscRelation{ID: r.ID, Version: version, Timestamp: ts, Changeset: cs, UID: uid, User: user, Members: members, Tags: oscTagsOf(r.Tags)}
}

// renderOSC serializes a merged ChangeBlock back into an osmChange
// document, grouping every object into its changetype's action. Map
// iteration order is randomized per run, so doSort (the CLI's --sort flag)
// controls whether each action's objects are ordered by id before encoding;
// without it, order follows whatever order ParseOSC's map produced.
func renderOSC(cb *changeset.ChangeBlock, doSort bool) string {
	doc := oscChange{Version: "0.6"}
	for _, n := range cb.Nodes {
		addOscNode(&doc, n)
	}
	for _, w := range cb.Ways {
		addOscWay(&doc, w)
	}
	for _, r := range cb.Relations {
		addOscRelation(&doc, r)
	}
	if doSort {
		sortOscChange(&doc)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Sprintf("<!-- encode error: %v -->", err)
	}
	return xml.Header + string(out) + "\n"
}

func sortOscAction(a *oscAction) {
	sort.Slice(a.Nodes, func(i, j int) bool { return a.Nodes[i].ID < a.Nodes[j].ID })
	sort.Slice(a.Ways, func(i, j int) bool { return a.Ways[i].ID < a.Ways[j].ID })
	sort.Slice(a.Relations, func(i, j int) bool { return a.Relations[i].ID < a.Relations[j].ID })
}

func sortOscChange(doc *oscChange) {
	sortOscAction(&doc.Create)
	sortOscAction(&doc.Modify)
	sortOscAction(&doc.Delete)
}

func addOscNode(doc *oscChange, n *element.Node) {
	v := toOscNode(n)
	switch n.Changetype {
	case element.Create:
		doc.Create.Nodes = append(doc.Create.Nodes, v)
	case element.Delete, element.Remove:
		doc.Delete.Nodes = append(doc.Delete.Nodes, v)
	default:
		doc.Modify.Nodes = append(doc.Modify.Nodes, v)
	}
}

func addOscWay(doc *oscChange, w *element.Way) {
	v := toOscWay(w)
	switch w.Changetype {
	case element.Create:
		doc.Create.Ways = append(doc.Create.Ways, v)
	case element.Delete, element.Remove:
		doc.Delete.Ways = append(doc.Delete.Ways, v)
	default:
		doc.Modify.Ways = append(doc.Modify.Ways, v)
	}
}

func addOscRelation(doc *oscChange, r *element.Relation) {
	v := toOscRelation(r)
	switch r.Changetype {
	case element.Create:
		doc.Create.Relations = append(doc.Create.Relations, v)
	case element.Delete, element.Remove:
		doc.Delete.Relations = append(doc.Delete.Relations, v)
	default:
		doc.Modify.Relations = append(doc.Modify.Relations, v)
	}
}
