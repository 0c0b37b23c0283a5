package element

import "github.com/walkthru-earth/osmquadtree/internal/quadtree"

// Member is one entry of a relation's member list.
type Member struct {
	Role    string
	MemType Kind
	MemRef  int64
}

// Relation is an OSM relation: a tagged, ordered list of members.
type Relation struct {
	ID         int64
	Changetype Changetype
	Info       *Info
	Tags       []Tag
	Members    []Member
	Quadtree   quadtree.Quadtree
}

// NewRelation returns a Relation with its quadtree unset.
func NewRelation(id int64, ct Changetype) *Relation {
	return &Relation{ID: id, Changetype: ct, Quadtree: quadtree.Empty}
}

func (r *Relation) GetID() int64                  { return r.ID }
func (r *Relation) GetKind() Kind                 { return KindRelation }
func (r *Relation) GetInfo() *Info                { return r.Info }
func (r *Relation) GetTags() []Tag                { return r.Tags }
func (r *Relation) GetQuadtree() quadtree.Quadtree { return r.Quadtree }
func (r *Relation) GetChangetype() Changetype     { return r.Changetype }

// FilterMembers drops members whose (kind, ref) is not present in ids,
// reporting whether anything was removed. Used when distributing a
// relation into a tile whose id-index only cares about touched members.
func (r *Relation) FilterMembers(contains func(Kind, int64) bool) bool {
	kept := r.Members[:0]
	removed := false
	for _, m := range r.Members {
		if contains(m.MemType, m.MemRef) {
			kept = append(kept, m)
		} else {
			removed = true
		}
	}
	r.Members = kept
	return removed
}
