package element

import "github.com/walkthru-earth/osmquadtree/internal/quadtree"

// Element is the common surface every pass needs: identity, changetype,
// and the attached metadata/quadtree any object carries.
type Element interface {
	GetID() int64
	GetKind() Kind
	GetInfo() *Info
	GetTags() []Tag
	GetQuadtree() quadtree.Quadtree
	GetChangetype() Changetype
}

func version(info *Info) int64 {
	if info == nil {
		return -1
	}
	return info.Version
}

// Compare orders two elements the way a sorted block does: by id, then by
// version, then by changetype. Group.SortObjects sorts with it.
func Compare(a, b Element) int {
	if a.GetID() != b.GetID() {
		if a.GetID() < b.GetID() {
			return -1
		}
		return 1
	}
	va, vb := version(a.GetInfo()), version(b.GetInfo())
	if va != vb {
		if va < vb {
			return -1
		}
		return 1
	}
	if a.GetChangetype() != b.GetChangetype() {
		if a.GetChangetype() < b.GetChangetype() {
			return -1
		}
		return 1
	}
	return 0
}

// Equal reports whether a and b share identity, version and changetype.
func Equal(a, b Element) bool {
	return a.GetID() == b.GetID() &&
		version(a.GetInfo()) == version(b.GetInfo()) &&
		a.GetChangetype() == b.GetChangetype()
}

// TagsEqual reports whether two tag slices hold the same pairs in the same
// order.
func TagsEqual(a, b []Tag) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
