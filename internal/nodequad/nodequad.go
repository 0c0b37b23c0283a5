// Package nodequad resolves node quadtrees: a node that is part of one or
// more ways takes the common ancestor of those ways' quadtrees; a node
// referenced by no way gets its quadtree from its own location directly.
package nodequad

import (
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/waynode"
)

// WayQuadtrees resolves a way id to its already-computed quadtree.
type WayQuadtrees interface {
	Get(wayID int64) (quadtree.Quadtree, bool)
}

// Resolve walks a way-node tile's incidences (sorted by node id, as
// returned by waynode.Store.Read) and returns every referenced node's
// quadtree as the Common ancestor of the ways that reference it.
//
// Incidences must be sorted by NodeID so that a node's full set of way
// references is contiguous; waynode.Store.Read already guarantees this.
func Resolve(incidences []waynode.Incidence, ways WayQuadtrees) map[int64]quadtree.Quadtree {
	out := make(map[int64]quadtree.Quadtree)
	i := 0
	for i < len(incidences) {
		j := i
		nodeID := incidences[i].NodeID
		acc := quadtree.Unset
		for j < len(incidences) && incidences[j].NodeID == nodeID {
			if q, ok := ways.Get(incidences[j].WayID); ok {
				acc = acc.Common(q)
			}
			j++
		}
		if acc != quadtree.Unset {
			out[nodeID] = acc
		}
		i = j
	}
	return out
}

// ResolveFromPoint is the fallback path for nodes untouched by Resolve:
// nodes that belong to no way get their quadtree computed directly from
// their own coordinates.
func ResolveFromPoint(lon, lat int32, maxLevel int, buffer float64) quadtree.Quadtree {
	return quadtree.CalculatePoint(lon, lat, maxLevel, buffer)
}
