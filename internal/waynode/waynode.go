// Package waynode partitions node->way incidence pairs into 2^22-node-id
// tiles, and accumulates relation membership for the quadtree-resolution
// passes that read it back. A Store keeps flushed chunks in memory; a
// NewSpillStore instead appends them to a temp file, for runs where the
// incidence set itself doesn't fit in RAM.
package waynode

import (
	"os"
	"sort"
	"sync"

	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
)

// TileShift is S in tile_key = node_id >> S: 2^22 node ids per tile.
const TileShift = 22

// TileOf returns the way-node tile key a node id falls in.
func TileOf(nodeID int64) int64 {
	return nodeID >> TileShift
}

// Incidence is one (node, way) reference pair.
type Incidence struct {
	NodeID int64
	WayID  int64
}

// packIncidences delta-packs a sorted incidence slice as two parallel
// streams: node ids delta-zigzag, way ids delta-zigzag.
func packIncidences(incs []Incidence) []byte {
	ids := make([]int64, len(incs))
	ways := make([]int64, len(incs))
	for i, inc := range incs {
		ids[i] = inc.NodeID
		ways[i] = inc.WayID
	}
	var buf []byte
	buf = pbf.PackData(buf, 1, pbf.PackDeltaInt(ids))
	buf = pbf.PackData(buf, 2, pbf.PackDeltaInt(ways))
	return buf
}

func unpackIncidences(data []byte) ([]Incidence, error) {
	tags, err := pbf.IterTags(data)
	if err != nil {
		return nil, err
	}
	var ids, ways []int64
	for _, t := range tags {
		switch t.Field {
		case 1:
			ids, err = pbf.ReadDeltaPackedInt(t.Data)
		case 2:
			ways, err = pbf.ReadDeltaPackedInt(t.Data)
		}
		if err != nil {
			return nil, err
		}
	}
	res := make([]Incidence, len(ids))
	for i := range ids {
		res[i] = Incidence{NodeID: ids[i], WayID: ways[i]}
	}
	return res, nil
}

// chunkSpan is one spilled, packed chunk's location inside the store's
// temp file.
type chunkSpan struct {
	offset int64
	length int64
}

// Store accumulates way-node incidences into per-tile chunk sequences,
// flushing a tile's buffer to a packed, sorted chunk once it reaches
// limit entries. A plain NewStore keeps chunks in memory; NewSpillStore
// instead appends each flushed chunk to a shared temp file and keeps only
// its (offset, length) span, bounding memory to the buffers currently
// being filled rather than the whole incidence set.
type Store struct {
	mu     sync.Mutex
	limit  int
	buf    map[int64][]Incidence
	chunks map[int64][][]byte

	spillFile *os.File
	spillPath string
	spans     map[int64][]chunkSpan
	offset    int64
	err       error
}

// NewStore returns a Store that flushes a tile's buffer every limit
// incidences, keeping flushed chunks in memory.
func NewStore(limit int) *Store {
	if limit < 1 {
		limit = 1 << 16
	}
	return &Store{
		limit:  limit,
		buf:    make(map[int64][]Incidence),
		chunks: make(map[int64][][]byte),
	}
}

// NewSpillStore returns a Store like NewStore, but one that writes each
// flushed chunk to a temp file under dir instead of holding it in memory,
// for the planet-scale incidence counts C5's FLATVEC mode targets.
func NewSpillStore(limit int, dir string) (*Store, error) {
	if limit < 1 {
		limit = 1 << 16
	}
	f, err := os.CreateTemp(dir, "osmquadtree-waynode-*.tmp")
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindResourceExhausted, err, "waynode: create spill file")
	}
	return &Store{
		limit:     limit,
		buf:       make(map[int64][]Incidence),
		spillFile: f,
		spillPath: f.Name(),
		spans:     make(map[int64][]chunkSpan),
	}, nil
}

// Add records one (node, way) incidence, flushing its tile if the buffer
// hit limit.
func (s *Store) Add(nodeID, wayID int64) {
	tile := TileOf(nodeID)
	s.mu.Lock()
	s.buf[tile] = append(s.buf[tile], Incidence{NodeID: nodeID, WayID: wayID})
	if len(s.buf[tile]) >= s.limit {
		s.flushLocked(tile)
	}
	s.mu.Unlock()
}

// AddWay records an incidence for every ref of a way.
func (s *Store) AddWay(way *element.Way) {
	for _, ref := range way.Refs {
		s.Add(ref, way.ID)
	}
}

func (s *Store) flushLocked(tile int64) {
	incs := s.buf[tile]
	if len(incs) == 0 {
		return
	}
	sort.Slice(incs, func(i, j int) bool {
		if incs[i].NodeID != incs[j].NodeID {
			return incs[i].NodeID < incs[j].NodeID
		}
		return incs[i].WayID < incs[j].WayID
	})
	packed := packIncidences(incs)
	delete(s.buf, tile)

	if s.spillFile == nil {
		s.chunks[tile] = append(s.chunks[tile], packed)
		return
	}
	if s.err != nil {
		return
	}
	n, err := s.spillFile.WriteAt(packed, s.offset)
	if err != nil {
		s.err = oqerr.Wrap(oqerr.KindResourceExhausted, err, "waynode: spill chunk for tile %d", tile)
		return
	}
	s.spans[tile] = append(s.spans[tile], chunkSpan{offset: s.offset, length: int64(n)})
	s.offset += int64(n)
}

// Finish flushes every tile's remaining buffer. Call once, after the last
// Add/AddWay. It returns the first spill-write error encountered, if any.
func (s *Store) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tile := range s.buf {
		s.flushLocked(tile)
	}
	return s.err
}

// Tiles returns the set of tile keys with any recorded incidence.
func (s *Store) Tiles() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tiles []int64
	if s.spillFile != nil {
		tiles = make([]int64, 0, len(s.spans))
		for t := range s.spans {
			tiles = append(tiles, t)
		}
	} else {
		tiles = make([]int64, 0, len(s.chunks))
		for t := range s.chunks {
			tiles = append(tiles, t)
		}
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i] < tiles[j] })
	return tiles
}

// Read returns tile's incidences merged from all chunks and sorted by
// (node id, way id) — I5's sort order restated for this intermediate.
func (s *Store) Read(tile int64) ([]Incidence, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	var rawChunks [][]byte
	if s.spillFile != nil {
		spans := s.spans[tile]
		rawChunks = make([][]byte, len(spans))
		for i, sp := range spans {
			buf := make([]byte, sp.length)
			if _, err := s.spillFile.ReadAt(buf, sp.offset); err != nil {
				s.mu.Unlock()
				return nil, oqerr.Wrap(oqerr.KindResourceExhausted, err, "waynode: read spilled chunk for tile %d", tile)
			}
			rawChunks[i] = buf
		}
	} else {
		rawChunks = s.chunks[tile]
	}
	s.mu.Unlock()

	var all []Incidence
	for _, c := range rawChunks {
		incs, err := unpackIncidences(c)
		if err != nil {
			return nil, err
		}
		all = append(all, incs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].NodeID != all[j].NodeID {
			return all[i].NodeID < all[j].NodeID
		}
		return all[i].WayID < all[j].WayID
	})
	return all, nil
}

// Close releases the store's spill file, if any, removing it from disk.
// Safe to call on a NewStore (non-spilling) instance, a no-op there.
func (s *Store) Close() error {
	return s.close(true)
}

// CloseKeepingTemps releases the spill file handle without deleting the
// backing temp file, for a --keeptemps run.
func (s *Store) CloseKeepingTemps() error {
	return s.close(false)
}

func (s *Store) close(remove bool) error {
	if s.spillFile == nil {
		return nil
	}
	err := s.spillFile.Close()
	if remove {
		os.Remove(s.spillPath)
	}
	return err
}

// RelationMember is one (parent relation, member, kind) triple captured
// alongside the way-node pass for later use by the relation-quadtree pass.
type RelationMember struct {
	ParentID int64
	MemberID int64
	Kind     element.Kind
}

// RelationStore accumulates relation membership triples. Unlike incidence
// tiles, membership is read back wholesale by the relation fixpoint
// resolver, so no per-tile partitioning is needed.
type RelationStore struct {
	mu      sync.Mutex
	entries []RelationMember
}

// NewRelationStore returns an empty membership accumulator.
func NewRelationStore() *RelationStore {
	return &RelationStore{}
}

// AddRelation records a membership triple for every member of rel.
func (rs *RelationStore) AddRelation(rel *element.Relation) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, m := range rel.Members {
		rs.entries = append(rs.entries, RelationMember{ParentID: rel.ID, MemberID: m.MemRef, Kind: m.MemType})
	}
}

// ByParent groups the accumulated memberships by relation id.
func (rs *RelationStore) ByParent() map[int64][]RelationMember {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[int64][]RelationMember)
	for _, e := range rs.entries {
		out[e.ParentID] = append(out[e.ParentID], e)
	}
	return out
}
