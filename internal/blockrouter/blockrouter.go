// Package blockrouter streams packed objects into the in-memory buffer for
// their tile-tree leaf, and spills the largest buffers out of RAM once
// pending bytes cross a limit, using whichever of three backing stores the
// caller picked for its RAM budget.
package blockrouter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/pbf"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/tiletree"
)

// Strategy selects where a leaf's buffer goes once it is spilled out of
// the router's direct pending map.
type Strategy int

const (
	// SpillMemory keeps spilled buffers in a second in-memory map: no
	// disk I/O, for runs with enough RAM to hold the whole dataset twice
	// over during routing.
	SpillMemory Strategy = iota
	// SpillSingleFile appends every spilled chunk to one shared temp
	// file, recording a (leaf, offset, length) span per chunk.
	SpillSingleFile
	// SpillPerBucket gives each leaf its own temp file, with open handles
	// bounded by an LRU so a huge leaf count doesn't exhaust file
	// descriptors.
	SpillPerBucket
)

// Span is one spilled chunk's location inside the shared temp file.
type Span struct {
	Offset int64
	Length int64
}

// Router buffers packed object bytes per tile-tree leaf and spills the
// heaviest buffers once accumulated pending bytes exceed Limit.
type Router struct {
	tree     *tiletree.Tree
	strategy Strategy
	limit    int64
	tempDir  string

	pending      map[quadtree.Quadtree][][]byte
	pendingSize  map[quadtree.Quadtree]int64
	totalPending int64

	memSpill map[quadtree.Quadtree][][]byte

	singleFile  *os.File
	singlePath  string
	singleIndex map[quadtree.Quadtree][]Span

	bucketFiles *lru.Cache[quadtree.Quadtree, *os.File]
	bucketPaths map[quadtree.Quadtree]string
}

// NewRouter returns a Router over tree, spilling via strategy once
// pending bytes exceed limit. tempDir is used by SpillSingleFile and
// SpillPerBucket; ignored by SpillMemory.
func NewRouter(tree *tiletree.Tree, strategy Strategy, limit int64, tempDir string) (*Router, error) {
	r := &Router{
		tree:        tree,
		strategy:    strategy,
		limit:       limit,
		tempDir:     tempDir,
		pending:     make(map[quadtree.Quadtree][][]byte),
		pendingSize: make(map[quadtree.Quadtree]int64),
	}
	switch strategy {
	case SpillMemory:
		r.memSpill = make(map[quadtree.Quadtree][][]byte)
	case SpillSingleFile:
		r.singleIndex = make(map[quadtree.Quadtree][]Span)
	case SpillPerBucket:
		r.bucketPaths = make(map[quadtree.Quadtree]string)
		cache, err := lru.NewWithEvict[quadtree.Quadtree, *os.File](64, func(_ quadtree.Quadtree, f *os.File) {
			f.Close()
		})
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindResourceExhausted, err, "blockrouter: allocate bucket file cache")
		}
		r.bucketFiles = cache
	}
	return r, nil
}

// Route appends data, the packed bytes of an object whose quadtree is q,
// to its tile-tree leaf's buffer, spilling the heaviest leaves if the
// router is now over its RAM limit.
func (r *Router) Route(q quadtree.Quadtree, data []byte) error {
	leaf := r.tree.LeafOf(q)
	r.pending[leaf] = append(r.pending[leaf], data)
	r.pendingSize[leaf] += int64(len(data))
	r.totalPending += int64(len(data))

	if r.totalPending > r.limit {
		return r.spillHeaviest()
	}
	return nil
}

// spillHeaviest spills leaves largest-first until pending bytes fall
// below half the limit, so a single huge leaf doesn't trigger a spill on
// every subsequent call.
func (r *Router) spillHeaviest() error {
	type sized struct {
		leaf quadtree.Quadtree
		size int64
	}
	all := make([]sized, 0, len(r.pendingSize))
	for leaf, sz := range r.pendingSize {
		if sz > 0 {
			all = append(all, sized{leaf, sz})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].size > all[j].size })

	target := r.limit / 2
	for _, s := range all {
		if r.totalPending <= target {
			break
		}
		if err := r.spillLeaf(s.leaf); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) spillLeaf(leaf quadtree.Quadtree) error {
	chunks := r.pending[leaf]
	if len(chunks) == 0 {
		return nil
	}
	switch r.strategy {
	case SpillMemory:
		r.memSpill[leaf] = append(r.memSpill[leaf], chunks...)
	case SpillSingleFile:
		if err := r.ensureSingleFile(); err != nil {
			return err
		}
		for _, c := range chunks {
			off, err := r.singleFile.Seek(0, io.SeekEnd)
			if err != nil {
				return oqerr.Wrap(oqerr.KindResourceExhausted, err, "blockrouter: seek spill file")
			}
			framed := pbf.WriteUint32BE(nil, uint32(len(c)))
			framed = append(framed, c...)
			if _, err := r.singleFile.Write(framed); err != nil {
				return oqerr.Wrap(oqerr.KindResourceExhausted, err, "blockrouter: write spill file")
			}
			r.singleIndex[leaf] = append(r.singleIndex[leaf], Span{Offset: off, Length: int64(len(c))})
		}
	case SpillPerBucket:
		f, err := r.bucketFile(leaf)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			framed := pbf.WriteUint32BE(nil, uint32(len(c)))
			framed = append(framed, c...)
			if _, err := f.Write(framed); err != nil {
				return oqerr.Wrap(oqerr.KindResourceExhausted, err, "blockrouter: write bucket file")
			}
		}
	}
	r.totalPending -= r.pendingSize[leaf]
	delete(r.pending, leaf)
	delete(r.pendingSize, leaf)
	return nil
}

func (r *Router) ensureSingleFile() error {
	if r.singleFile != nil {
		return nil
	}
	f, err := os.CreateTemp(r.tempDir, "osmquadtree-route-*.tmp")
	if err != nil {
		return oqerr.Wrap(oqerr.KindResourceExhausted, err, "blockrouter: create spill file")
	}
	r.singleFile = f
	r.singlePath = f.Name()
	return nil
}

func (r *Router) bucketFile(leaf quadtree.Quadtree) (*os.File, error) {
	if f, ok := r.bucketFiles.Get(leaf); ok {
		return f, nil
	}
	path, ok := r.bucketPaths[leaf]
	if !ok {
		path = filepath.Join(r.tempDir, fmt.Sprintf("osmquadtree-bucket-%s.tmp", uuid.New().String()))
		r.bucketPaths[leaf] = path
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindResourceExhausted, err, "blockrouter: open bucket file %s", path)
	}
	r.bucketFiles.Add(leaf, f)
	return f, nil
}

// Leaves returns every leaf quadtree with at least one routed object,
// across pending buffers and whichever spill store is in use.
func (r *Router) Leaves() []quadtree.Quadtree {
	seen := make(map[quadtree.Quadtree]bool)
	for leaf := range r.pending {
		seen[leaf] = true
	}
	switch r.strategy {
	case SpillMemory:
		for leaf := range r.memSpill {
			seen[leaf] = true
		}
	case SpillSingleFile:
		for leaf := range r.singleIndex {
			seen[leaf] = true
		}
	case SpillPerBucket:
		for leaf := range r.bucketPaths {
			seen[leaf] = true
		}
	}
	out := make([]quadtree.Quadtree, 0, len(seen))
	for leaf := range seen {
		out = append(out, leaf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Read returns every packed object chunk routed to leaf, from the
// pending buffer and whichever spill store holds the rest.
func (r *Router) Read(leaf quadtree.Quadtree) ([][]byte, error) {
	out := append([][]byte{}, r.pending[leaf]...)
	switch r.strategy {
	case SpillMemory:
		out = append(out, r.memSpill[leaf]...)
	case SpillSingleFile:
		for _, span := range r.singleIndex[leaf] {
			buf := make([]byte, 4+span.Length)
			if _, err := r.singleFile.ReadAt(buf, span.Offset); err != nil {
				return nil, oqerr.Wrap(oqerr.KindResourceExhausted, err, "blockrouter: read spill span")
			}
			out = append(out, buf[4:])
		}
	case SpillPerBucket:
		path, ok := r.bucketPaths[leaf]
		if ok {
			chunks, err := readFramedFile(path)
			if err != nil {
				return nil, err
			}
			out = append(out, chunks...)
		}
	}
	return out, nil
}

func readFramedFile(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindResourceExhausted, err, "blockrouter: read bucket file %s", path)
	}
	var out [][]byte
	pos := 0
	for pos < len(data) {
		n, err := pbf.ReadUint32BE(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += 4
		out = append(out, data[pos:pos+int(n)])
		pos += int(n)
	}
	return out, nil
}

// Close releases any temp files the router opened, removing them from
// disk; keeptemps callers should call CloseKeepingTemps instead.
func (r *Router) Close() error {
	return r.close(true)
}

// CloseKeepingTemps releases file handles without deleting the backing
// temp files, for a --keeptemps run.
func (r *Router) CloseKeepingTemps() error {
	return r.close(false)
}

func (r *Router) close(remove bool) error {
	if r.singleFile != nil {
		r.singleFile.Close()
		if remove {
			os.Remove(r.singlePath)
		}
	}
	if r.bucketFiles != nil {
		for _, leaf := range r.bucketFiles.Keys() {
			if f, ok := r.bucketFiles.Get(leaf); ok {
				f.Close()
			}
		}
		if remove {
			for _, path := range r.bucketPaths {
				os.Remove(path)
			}
		}
	}
	return nil
}
