// Package changeset parses an OSC changeset into a ChangeBlock indexed by
// id, and implements the combine/apply_change merge passes an update
// generation applies against a prior file.
package changeset

import (
	"encoding/xml"

	"github.com/samber/lo"

	"github.com/walkthru-earth/osmquadtree/internal/element"
	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
	"github.com/walkthru-earth/osmquadtree/internal/tstamp"
)

// ChangeBlock holds one OSC file's worth of create/modify/delete objects,
// deduplicated to the highest version seen per id within each kind.
type ChangeBlock struct {
	Nodes     map[int64]*element.Node
	Ways      map[int64]*element.Way
	Relations map[int64]*element.Relation
}

// NewChangeBlock returns an empty block.
func NewChangeBlock() *ChangeBlock {
	return &ChangeBlock{
		Nodes:     map[int64]*element.Node{},
		Ways:      map[int64]*element.Way{},
		Relations: map[int64]*element.Relation{},
	}
}

func versionOf(info *element.Info) int64 {
	if info == nil {
		return -1
	}
	return info.Version
}

// AddNode inserts n, keeping the higher-version record on an id collision.
func (cb *ChangeBlock) AddNode(n *element.Node) {
	if cur, ok := cb.Nodes[n.ID]; !ok || versionOf(n.Info) > versionOf(cur.Info) {
		cb.Nodes[n.ID] = n
	}
}

// AddWay inserts w, keeping the higher-version record on an id collision.
func (cb *ChangeBlock) AddWay(w *element.Way) {
	if cur, ok := cb.Ways[w.ID]; !ok || versionOf(w.Info) > versionOf(cur.Info) {
		cb.Ways[w.ID] = w
	}
}

// AddRelation inserts r, keeping the higher-version record on an id
// collision.
func (cb *ChangeBlock) AddRelation(r *element.Relation) {
	if cur, ok := cb.Relations[r.ID]; !ok || versionOf(r.Info) > versionOf(cur.Info) {
		cb.Relations[r.ID] = r
	}
}

// --- OSC XML parsing -------------------------------------------------

type tagXML struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type ndXML struct {
	Ref int64 `xml:"ref,attr"`
}

type memberXML struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type nodeXML struct {
	ID        int64    `xml:"id,attr"`
	Version   int64    `xml:"version,attr"`
	Timestamp string   `xml:"timestamp,attr"`
	Changeset int64    `xml:"changeset,attr"`
	UID       int64    `xml:"uid,attr"`
	User      string   `xml:"user,attr"`
	Lon       float64  `xml:"lon,attr"`
	Lat       float64  `xml:"lat,attr"`
	Tags      []tagXML `xml:"tag"`
}

type wayXML struct {
	ID        int64    `xml:"id,attr"`
	Version   int64    `xml:"version,attr"`
	Timestamp string   `xml:"timestamp,attr"`
	Changeset int64    `xml:"changeset,attr"`
	UID       int64    `xml:"uid,attr"`
	User      string   `xml:"user,attr"`
	Nds       []ndXML  `xml:"nd"`
	Tags      []tagXML `xml:"tag"`
}

type relationXML struct {
	ID        int64       `xml:"id,attr"`
	Version   int64       `xml:"version,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	Changeset int64       `xml:"changeset,attr"`
	UID       int64       `xml:"uid,attr"`
	User      string      `xml:"user,attr"`
	Members   []memberXML `xml:"member"`
	Tags      []tagXML    `xml:"tag"`
}

type actionXML struct {
	Nodes     []nodeXML     `xml:"node"`
	Ways      []wayXML      `xml:"way"`
	Relations []relationXML `xml:"relation"`
}

type osmChangeXML struct {
	XMLName  xml.Name    `xml:"osmChange"`
	Creates  []actionXML `xml:"create"`
	Modifies []actionXML `xml:"modify"`
	Deletes  []actionXML `xml:"delete"`
}

// degreeToCoord converts a decimal-degree OSC attribute to the package's
// 1e-7-degree fixed-point representation, the same rounding rule
// quadtree's coordinate conversion uses.
func degreeToCoord(v float64) int32 {
	if v > 0.0 {
		return int32(v*1e7 + 0.5)
	}
	return int32(v*1e7 - 0.5)
}

func memberKind(t string) element.Kind {
	switch t {
	case "way":
		return element.KindWay
	case "relation":
		return element.KindRelation
	default:
		return element.KindNode
	}
}

func convertNode(x nodeXML, ct element.Changetype) *element.Node {
	n := element.NewNode(x.ID, ct)
	n.Lon, n.Lat = degreeToCoord(x.Lon), degreeToCoord(x.Lat)
	n.Info = &element.Info{Version: x.Version, Changeset: x.Changeset, UserID: x.UID, User: x.User}
	if ts, err := tstamp.Parse(x.Timestamp); err == nil {
		n.Info.Timestamp = ts.Unix()
	}
	for _, t := range x.Tags {
		n.Tags = append(n.Tags, element.Tag{Key: t.K, Val: t.V})
	}
	return n
}

func convertWay(x wayXML, ct element.Changetype) *element.Way {
	w := element.NewWay(x.ID, ct)
	w.Info = &element.Info{Version: x.Version, Changeset: x.Changeset, UserID: x.UID, User: x.User}
	if ts, err := tstamp.Parse(x.Timestamp); err == nil {
		w.Info.Timestamp = ts.Unix()
	}
	for _, t := range x.Tags {
		w.Tags = append(w.Tags, element.Tag{Key: t.K, Val: t.V})
	}
	for _, nd := range x.Nds {
		w.Refs = append(w.Refs, nd.Ref)
	}
	return w
}

func convertRelation(x relationXML, ct element.Changetype) *element.Relation {
	r := element.NewRelation(x.ID, ct)
	r.Info = &element.Info{Version: x.Version, Changeset: x.Changeset, UserID: x.UID, User: x.User}
	if ts, err := tstamp.Parse(x.Timestamp); err == nil {
		r.Info.Timestamp = ts.Unix()
	}
	for _, t := range x.Tags {
		r.Tags = append(r.Tags, element.Tag{Key: t.K, Val: t.V})
	}
	for _, m := range x.Members {
		r.Members = append(r.Members, element.Member{Role: m.Role, MemType: memberKind(m.Type), MemRef: m.Ref})
	}
	return r
}

func addAction(cb *ChangeBlock, a actionXML, ct element.Changetype) {
	for _, x := range a.Nodes {
		cb.AddNode(convertNode(x, ct))
	}
	for _, x := range a.Ways {
		cb.AddWay(convertWay(x, ct))
	}
	for _, x := range a.Relations {
		cb.AddRelation(convertRelation(x, ct))
	}
}

// ParseOSC decodes an OSC changeset document into a ChangeBlock, tagging
// every object with the changetype its wrapping action implies.
func ParseOSC(data []byte) (*ChangeBlock, error) {
	var doc osmChangeXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "parse OSC changeset")
	}
	cb := NewChangeBlock()
	for _, a := range doc.Creates {
		addAction(cb, a, element.Create)
	}
	for _, a := range doc.Modifies {
		addAction(cb, a, element.Modify)
	}
	for _, a := range doc.Deletes {
		addAction(cb, a, element.Delete)
	}
	return cb, nil
}

// --- merge passes ------------------------------------------------------

// Combine performs an ordered merge of two batches of the same kind: b
// wins over a at equal id, the "later change takes precedence" rule used
// when folding several diffs into one batch.
func Combine(a, b *ChangeBlock) *ChangeBlock {
	out := NewChangeBlock()
	for id, n := range a.Nodes {
		out.Nodes[id] = n
	}
	for id, n := range b.Nodes {
		out.Nodes[id] = n
	}
	for id, w := range a.Ways {
		out.Ways[id] = w
	}
	for id, w := range b.Ways {
		out.Ways[id] = w
	}
	for id, r := range a.Relations {
		out.Relations[id] = r
	}
	for id, r := range b.Relations {
		out.Relations[id] = r
	}
	return out
}

// MergeChanges folds a batch of changesets into one via repeated Combine,
// in order, so the latest batch wins any id collision.
func MergeChanges(batches []*ChangeBlock) *ChangeBlock {
	out := NewChangeBlock()
	for _, b := range batches {
		out = Combine(out, b)
	}
	return out
}

// ApplyChange merges change onto base by id, following the version/
// changetype rule table: absent+Create inserts; present+higher-version
// replaces (Modify or Delete); present+version<=current is dropped. The
// returned block still carries Delete-changetype entries; Serialize
// drops them to make the deletion concrete in the output generation.
func ApplyChange(base, change *ChangeBlock) *ChangeBlock {
	out := NewChangeBlock()
	for id, n := range base.Nodes {
		out.Nodes[id] = n
	}
	for id, n := range change.Nodes {
		if cur, ok := out.Nodes[id]; !ok || versionOf(n.Info) > versionOf(cur.Info) {
			out.Nodes[id] = n
		}
	}
	for id, w := range base.Ways {
		out.Ways[id] = w
	}
	for id, w := range change.Ways {
		if cur, ok := out.Ways[id]; !ok || versionOf(w.Info) > versionOf(cur.Info) {
			out.Ways[id] = w
		}
	}
	for id, r := range base.Relations {
		out.Relations[id] = r
	}
	for id, r := range change.Relations {
		if cur, ok := out.Relations[id]; !ok || versionOf(r.Info) > versionOf(cur.Info) {
			out.Relations[id] = r
		}
	}
	return out
}

// Serialize drops every Delete/Remove-changetype entry, turning a merged
// block into the set of objects an output generation should actually
// contain.
func (cb *ChangeBlock) Serialize() *ChangeBlock {
	out := NewChangeBlock()
	for id, n := range cb.Nodes {
		if n.Changetype != element.Delete && n.Changetype != element.Remove {
			out.Nodes[id] = n
		}
	}
	for id, w := range cb.Ways {
		if w.Changetype != element.Delete && w.Changetype != element.Remove {
			out.Ways[id] = w
		}
	}
	for id, r := range cb.Relations {
		if r.Changetype != element.Delete && r.Changetype != element.Remove {
			out.Relations[id] = r
		}
	}
	return out
}

// TouchedIDs returns the id set a changeset directly names. The update
// orchestrator's update.ExpandIdSet performs the transitive-closure step
// on top of this set (ways referencing touched nodes, relations
// referencing touched members) once the named tiles are loaded.
func (cb *ChangeBlock) TouchedIDs() (nodeIDs, wayIDs, relationIDs []int64) {
	return lo.Keys(cb.Nodes), lo.Keys(cb.Ways), lo.Keys(cb.Relations)
}
