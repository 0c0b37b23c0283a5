// Package tiletree builds a count-weighted tree over quadtree cells,
// rebalanced by merging light leaves into their parents (leaves are never
// split, so a leaf already over target stays over it), then queried by
// LeafOf to route objects to their output block.
package tiletree

import (
	"sort"

	"github.com/walkthru-earth/osmquadtree/internal/quadtree"
)

// noChild marks an absent child slot.
const noChild = -1

// Node is one tile-tree node: an integer-indexed entry in Tree.Nodes
// rather than an owning pointer, so the tree can be shared read-only
// across the worker goroutines that consume it.
type Node struct {
	Quadtree    quadtree.Quadtree
	Weight      int64 // objects landing exactly at this node's depth
	TotalWeight int64 // Weight plus every descendant's Weight
	Parent      int
	Children    [4]int
}

// Tree is the tile tree: Nodes[0] is always the root.
type Tree struct {
	Nodes []Node
}

func newTree() *Tree {
	return &Tree{Nodes: []Node{{Quadtree: quadtree.Root, Parent: noChild, Children: [4]int{noChild, noChild, noChild, noChild}}}}
}

// nodeFor returns the index of q's node, truncated to maxDepth, creating
// every missing ancestor along the way.
func (t *Tree) nodeFor(q quadtree.Quadtree, maxDepth int) int {
	q = q.Round(maxDepth)
	cur := 0
	depth := q.Depth()
	for d := 0; d < depth; d++ {
		child := q.Quad(d)
		if t.Nodes[cur].Children[child] == noChild {
			idx := len(t.Nodes)
			t.Nodes = append(t.Nodes, Node{
				Quadtree: q.Round(d + 1),
				Parent:   cur,
				Children: [4]int{noChild, noChild, noChild, noChild},
			})
			t.Nodes[cur].Children[child] = idx
		}
		cur = t.Nodes[cur].Children[child]
	}
	return cur
}

// Build scans every object's quadtree (rounded to maxDepth), accumulating
// a weight of one object per occurrence, then folds totals bottom-up.
func Build(quadtrees []quadtree.Quadtree, maxDepth int) *Tree {
	t := newTree()
	for _, q := range quadtrees {
		idx := t.nodeFor(q, maxDepth)
		t.Nodes[idx].Weight++
	}
	t.recomputeTotals()
	return t
}

// recomputeTotals folds Weight bottom-up into TotalWeight via a reverse
// scan, which works because a child always has a larger index than its
// parent under nodeFor's append-on-create discipline.
func (t *Tree) recomputeTotals() {
	for i := range t.Nodes {
		t.Nodes[i].TotalWeight = t.Nodes[i].Weight
	}
	for i := len(t.Nodes) - 1; i > 0; i-- {
		p := t.Nodes[i].Parent
		t.Nodes[p].TotalWeight += t.Nodes[i].TotalWeight
	}
}

func (n Node) isLeaf() bool {
	return n.Children[0] == noChild && n.Children[1] == noChild && n.Children[2] == noChild && n.Children[3] == noChild
}

func (n Node) childIndices() []int {
	var out []int
	for _, c := range n.Children {
		if c != noChild {
			out = append(out, c)
		}
	}
	return out
}

// Rebalance repeatedly promotes low-weight children into their parent
// until every leaf's TotalWeight falls in [minTarget, target] or no
// further merge is possible. Leaves here cannot be split, only merged,
// since splitting would require reassigning already-keyed objects.
func (t *Tree) Rebalance(target, minTarget int64) {
	for {
		merged := false
		for i := range t.Nodes {
			n := t.Nodes[i]
			if n.isLeaf() {
				continue
			}
			if n.TotalWeight < minTarget {
				t.promoteChildren(i)
				merged = true
				continue
			}
			allChildrenBelowMinTarget := true
			for _, c := range n.childIndices() {
				if t.Nodes[c].TotalWeight >= minTarget || !t.Nodes[c].isLeaf() {
					allChildrenBelowMinTarget = false
					break
				}
			}
			if allChildrenBelowMinTarget && n.TotalWeight <= target {
				t.promoteChildren(i)
				merged = true
			}
		}
		if !merged {
			break
		}
	}
}

// promoteChildren deletes i's children, folding their weight into i and
// making i a leaf.
func (t *Tree) promoteChildren(i int) {
	n := &t.Nodes[i]
	n.Weight = n.TotalWeight
	n.Children = [4]int{noChild, noChild, noChild, noChild}
}

// LeafOf descends from the root following q's path, stopping at the
// deepest tree node reached — the leaf that owns q's objects.
func (t *Tree) LeafOf(q quadtree.Quadtree) quadtree.Quadtree {
	cur := 0
	depth := q.Depth()
	for d := 0; d < depth; d++ {
		child := q.Quad(d)
		next := t.Nodes[cur].Children[child]
		if next == noChild {
			break
		}
		cur = next
	}
	return t.Nodes[cur].Quadtree
}

// Leaves returns every leaf's quadtree key in pre-order, which I5 fixes
// as the output block order.
func (t *Tree) Leaves() []quadtree.Quadtree {
	var out []quadtree.Quadtree
	var walk func(i int)
	walk = func(i int) {
		n := t.Nodes[i]
		if n.isLeaf() {
			out = append(out, n.Quadtree)
			return
		}
		children := n.childIndices()
		sort.Slice(children, func(a, b int) bool { return t.Nodes[children[a]].Quadtree < t.Nodes[children[b]].Quadtree })
		for _, c := range children {
			walk(c)
		}
	}
	walk(0)
	return out
}

// LeafWeight returns the object count routed to leaf q, or 0 if q is not
// a current leaf.
func (t *Tree) LeafWeight(q quadtree.Quadtree) int64 {
	for _, n := range t.Nodes {
		if n.Quadtree == q && n.isLeaf() {
			return n.TotalWeight
		}
	}
	return 0
}
