// Package pbf implements the protocol-buffer primitives and the framed
// file-block codec OSM PBF files use: varints, zig-zag signed integers,
// length-delimited tag iteration, and per-block compression.
package pbf

import (
	"encoding/binary"

	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
)

// ReadVarint reads a base-128 varint starting at data[pos], returning the
// value and the index just past it.
func ReadVarint(data []byte, pos int) (uint64, int, error) {
	var result uint64
	var shift uint
	for {
		if pos >= len(data) {
			return 0, pos, oqerr.PbfData("truncated varint")
		}
		b := data[pos]
		pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, pos, oqerr.PbfData("varint too long")
		}
	}
}

// WriteVarint appends v to buf as a base-128 varint.
func WriteVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// ZigZag encodes a signed integer for varint packing.
func ZigZag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// UnZigZag decodes a zig-zag-encoded varint back to a signed integer.
func UnZigZag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// ReadUint32BE reads a fixed 4-byte big-endian uint32, used for the
// BlobHeader length prefix.
func ReadUint32BE(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, oqerr.PbfData("truncated length prefix")
	}
	return binary.BigEndian.Uint32(data), nil
}

// WriteUint32BE appends a fixed 4-byte big-endian uint32.
func WriteUint32BE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PackValue appends a varint-typed tag (field, v).
func PackValue(buf []byte, field int, v uint64) []byte {
	buf = WriteVarint(buf, uint64(field)<<3|0)
	return WriteVarint(buf, v)
}

// PackData appends a length-delimited tag (field, data).
func PackData(buf []byte, field int, data []byte) []byte {
	buf = WriteVarint(buf, uint64(field)<<3|2)
	buf = WriteVarint(buf, uint64(len(data)))
	return append(buf, data...)
}

// DataLength returns the byte overhead of a length-delimited tag with the
// given payload length, used to size-hint output buffers.
func DataLength(field, length int) int {
	return varintLen(uint64(field)<<3|2) + varintLen(uint64(length)) + length
}

// ValueLength returns the byte length of a varint-typed tag.
func ValueLength(field int, v uint64) int {
	return varintLen(uint64(field)<<3|0) + varintLen(v)
}

func varintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// PackInt varint-packs a slice of unsigned values with no delta encoding,
// used for string-table indices and relation member kinds.
func PackInt(vals []uint64) []byte {
	var buf []byte
	for _, v := range vals {
		buf = WriteVarint(buf, v)
	}
	return buf
}

// ReadPackedInt reads a concatenation of varints until data is exhausted.
func ReadPackedInt(data []byte) ([]uint64, error) {
	var res []uint64
	pos := 0
	for pos < len(data) {
		v, next, err := ReadVarint(data, pos)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
		pos = next
	}
	return res, nil
}

// PackDeltaInt delta-encodes then zig-zag-packs a slice of signed values,
// used for way refs and relation member refs.
func PackDeltaInt(vals []int64) []byte {
	var buf []byte
	var prev int64
	for _, v := range vals {
		buf = WriteVarint(buf, ZigZag(v-prev))
		prev = v
	}
	return buf
}

// ReadDeltaPackedInt reverses PackDeltaInt.
func ReadDeltaPackedInt(data []byte) ([]int64, error) {
	var res []int64
	pos := 0
	var prev int64
	for pos < len(data) {
		v, next, err := ReadVarint(data, pos)
		if err != nil {
			return nil, err
		}
		prev += UnZigZag(v)
		res = append(res, prev)
		pos = next
	}
	return res, nil
}
