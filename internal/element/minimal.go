package element

import "github.com/walkthru-earth/osmquadtree/internal/pbf"

// MinimalWay is the tag-free Way variant used by passes that only need
// identity and topology: the delta-packed refs bytes are kept exactly as
// read, to be copied straight to output without re-encoding.
type MinimalWay struct {
	ID         int64
	Timestamp  int64
	Version    int64
	Changetype Changetype
	RefsBytes  []byte
}

// MinimalRelation is the tag-free Relation variant: packed kinds and
// delta-packed refs bytes, without role strings.
type MinimalRelation struct {
	ID         int64
	Timestamp  int64
	Version    int64
	Changetype Changetype
	KindsBytes []byte
	RefsBytes  []byte
}

// ToMinimalWay drops w's tags and most info detail, keeping only identity
// and topology.
func ToMinimalWay(w *Way) MinimalWay {
	m := MinimalWay{ID: w.ID, Changetype: w.Changetype, RefsBytes: pbf.PackDeltaInt(w.Refs)}
	if w.Info != nil {
		m.Timestamp = w.Info.Timestamp
		m.Version = w.Info.Version
	}
	return m
}
