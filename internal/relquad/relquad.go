// Package relquad resolves relation quadtrees: a relation's quadtree is the
// common ancestor of its members' quadtrees, where members can themselves
// be relations, so resolution runs as a fixpoint over at most five passes,
// and whatever is still unresolved after that falls back to the root cell.
package relquad

import (
	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
	"github.com/walkthru-earth/osmquadtree/internal/waynode"
)

// MaxPasses bounds the fixpoint loop: relation-of-relation nesting beyond
// this depth gives up and falls back to the root cell rather than looping
// indefinitely over a cyclic membership graph.
const MaxPasses = 5

// Lookup resolves a node or way id to its already-known quadtree.
type Lookup interface {
	Get(id int64) (quadtree.Quadtree, bool)
}

// Resolve computes every relation's quadtree from memberships grouped by
// parent id (waynode.RelationStore.ByParent's output). nodes and ways
// resolve members of the matching Kind directly; relation members are
// resolved against the in-progress result map, so relations-of-relations
// converge over successive passes as their dependencies are filled in.
func Resolve(byParent map[int64][]waynode.RelationMember, nodes, ways Lookup) map[int64]quadtree.Quadtree {
	result := make(map[int64]quadtree.Quadtree, len(byParent))
	pending := make(map[int64][]waynode.RelationMember, len(byParent))
	for id, members := range byParent {
		pending[id] = members
	}

	for pass := 0; pass < MaxPasses && len(pending) > 0; pass++ {
		for relID, members := range pending {
			acc := quadtree.Unset
			allResolved := true
			for _, m := range members {
				var q quadtree.Quadtree
				var ok bool
				switch m.Kind {
				case element.KindNode:
					q, ok = nodes.Get(m.MemberID)
				case element.KindWay:
					q, ok = ways.Get(m.MemberID)
				case element.KindRelation:
					if m.MemberID == relID {
						// self-reference: skip, don't block resolution on it.
						continue
					}
					q, ok = result[m.MemberID]
					if !ok {
						allResolved = false
						continue
					}
				}
				if ok {
					acc = acc.Common(q)
				} else {
					allResolved = false
				}
			}
			if allResolved {
				if acc == quadtree.Unset {
					acc = quadtree.Root
				}
				result[relID] = acc
				delete(pending, relID)
			}
		}
	}

	// Anything left after MaxPasses (cyclic or otherwise unresolvable
	// membership) falls back to the root cell.
	for relID := range pending {
		result[relID] = quadtree.Root
	}
	return result
}
