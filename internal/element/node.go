package element

import "github.com/walkthru-earth/osmquadtree/internal/quadtree"

// Node is an OSM node: a point with tags.
type Node struct {
	ID         int64
	Changetype Changetype
	Info       *Info
	Tags       []Tag
	Lon, Lat   int32
	Quadtree   quadtree.Quadtree
}

// NewNode returns a Node with its quadtree unset, ready for callers to fill
// in location, tags and metadata.
func NewNode(id int64, ct Changetype) *Node {
	return &Node{ID: id, Changetype: ct, Quadtree: quadtree.Empty}
}

func (n *Node) GetID() int64                { return n.ID }
func (n *Node) GetKind() Kind               { return KindNode }
func (n *Node) GetInfo() *Info              { return n.Info }
func (n *Node) GetTags() []Tag              { return n.Tags }
func (n *Node) GetQuadtree() quadtree.Quadtree { return n.Quadtree }
func (n *Node) GetChangetype() Changetype   { return n.Changetype }

// Bbox returns the degenerate point bbox the node occupies, used by
// Calculate for nodes with no referring way.
func (n *Node) Bbox() quadtree.Bbox {
	return quadtree.NewBbox(n.Lon, n.Lat, n.Lon, n.Lat)
}
