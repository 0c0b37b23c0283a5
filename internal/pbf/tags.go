package pbf

import "github.com/walkthru-earth/osmquadtree/internal/oqerr"

// WireType is the low 3 bits of a protobuf field tag.
type WireType int

const (
	WireVarint WireType = 0
	WireBytes  WireType = 2
)

// Tag is one decoded (field, wire-type, value) triple. For WireVarint,
// Value holds the raw varint; for WireBytes, Data holds the payload.
type Tag struct {
	Field int
	Wire  WireType
	Value uint64
	Data  []byte
}

// IterTags decodes data into a sequence of Tag, field-tagged the way
// read_pbf::IterTags walks an OSM PBF message body.
func IterTags(data []byte) ([]Tag, error) {
	var tags []Tag
	pos := 0
	for pos < len(data) {
		key, next, err := ReadVarint(data, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		field := int(key >> 3)
		wire := WireType(key & 7)
		switch wire {
		case WireVarint:
			v, next, err := ReadVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			tags = append(tags, Tag{Field: field, Wire: wire, Value: v})
		case WireBytes:
			l, next, err := ReadVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			if pos+int(l) > len(data) {
				return nil, oqerr.PbfData("length-delimited field %d overruns buffer", field)
			}
			tags = append(tags, Tag{Field: field, Wire: wire, Data: data[pos : pos+int(l)]})
			pos += int(l)
		default:
			return nil, oqerr.PbfData("unsupported wire type %d for field %d", wire, field)
		}
	}
	return tags, nil
}
