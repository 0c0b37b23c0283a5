package element

import "github.com/walkthru-earth/osmquadtree/internal/quadtree"

// Way is an OSM way: an ordered list of node references with tags.
type Way struct {
	ID         int64
	Changetype Changetype
	Info       *Info
	Tags       []Tag
	Refs       []int64
	Quadtree   quadtree.Quadtree
}

// NewWay returns a Way with its quadtree unset.
func NewWay(id int64, ct Changetype) *Way {
	return &Way{ID: id, Changetype: ct, Quadtree: quadtree.Empty}
}

func (w *Way) GetID() int64                  { return w.ID }
func (w *Way) GetKind() Kind                 { return KindWay }
func (w *Way) GetInfo() *Info                { return w.Info }
func (w *Way) GetTags() []Tag                { return w.Tags }
func (w *Way) GetQuadtree() quadtree.Quadtree { return w.Quadtree }
func (w *Way) GetChangetype() Changetype     { return w.Changetype }
