package pbf

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"

	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
)

// CompressionType selects the per-block payload codec. The constant values
// are not the on-disk field numbers: a Blob carries raw data in field 1,
// zlib in 3, lzma in 4 and brotli in 8.
type CompressionType int

const (
	Uncompressed CompressionType = iota
	Zlib
	Lzma
	Brotli
)

// FileBlock is one framed record of an OSM PBF stream: a type tag plus a
// (possibly compressed) payload, with its file position recorded for
// index-assisted random access.
type FileBlock struct {
	Pos             int64
	Len             int64
	BlockType       string
	DataRaw         []byte
	DataLen         uint64
	CompressionType CompressionType
}

// Data decompresses the block's raw payload.
func (fb *FileBlock) Data() ([]byte, error) {
	switch fb.CompressionType {
	case Uncompressed:
		return fb.DataRaw, nil
	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(fb.DataRaw))
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "zlib init at pos %d", fb.Pos)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "zlib decompress at pos %d", fb.Pos)
		}
		return out, nil
	case Brotli:
		r := brotli.NewReader(bytes.NewReader(fb.DataRaw))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "brotli decompress at pos %d", fb.Pos)
		}
		return out, nil
	case Lzma:
		r, err := lzma.NewReader(bytes.NewReader(fb.DataRaw))
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "lzma init at pos %d", fb.Pos)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "lzma decompress at pos %d", fb.Pos)
		}
		return out, nil
	}
	return nil, oqerr.PbfData("unknown compression type %d at pos %d", fb.CompressionType, fb.Pos)
}

// ReadFileBlockAt decodes one FileBlock from data starting at pos, returning
// the position just past it.
func ReadFileBlockAt(data []byte, pos int64) (int64, *FileBlock, error) {
	fb := &FileBlock{Pos: pos}

	if pos+4 > int64(len(data)) {
		return pos, nil, io.EOF
	}
	headLen, err := ReadUint32BE(data[pos : pos+4])
	if err != nil {
		return pos, nil, err
	}
	pos += 4

	if pos+int64(headLen) > int64(len(data)) {
		return pos, nil, oqerr.PbfData("truncated block header at %d", pos)
	}
	head := data[pos : pos+int64(headLen)]
	pos += int64(headLen)

	headTags, err := IterTags(head)
	if err != nil {
		return pos, nil, err
	}
	var bodyLen uint64
	for _, t := range headTags {
		switch {
		case t.Field == 1 && t.Wire == WireBytes:
			fb.BlockType = string(t.Data)
		case t.Field == 3 && t.Wire == WireVarint:
			bodyLen = t.Value
		default:
			return pos, nil, oqerr.PbfData("unexpected tag %d in block header at %d", t.Field, pos)
		}
	}
	fb.Len = 4 + int64(headLen) + int64(bodyLen)

	if pos+int64(bodyLen) > int64(len(data)) {
		return pos, nil, oqerr.PbfData("truncated block body at %d", pos)
	}
	body := data[pos : pos+int64(bodyLen)]
	pos += int64(bodyLen)

	bodyTags, err := IterTags(body)
	if err != nil {
		return pos, nil, err
	}
	for _, t := range bodyTags {
		switch {
		case t.Field == 1 && t.Wire == WireBytes:
			fb.DataRaw = t.Data
			fb.CompressionType = Uncompressed
		case t.Field == 2 && t.Wire == WireVarint:
			fb.DataLen = t.Value
		case t.Field == 3 && t.Wire == WireBytes:
			fb.DataRaw = t.Data
			fb.CompressionType = Zlib
		case t.Field == 4 && t.Wire == WireBytes:
			fb.DataRaw = t.Data
			fb.CompressionType = Lzma
		case t.Field == 8 && t.Wire == WireBytes:
			fb.DataRaw = t.Data
			fb.CompressionType = Brotli
		default:
			return pos, nil, oqerr.PbfData("unexpected tag %d in block body at %d", t.Field, pos)
		}
	}

	return pos, fb, nil
}

// DefaultZlibLevel and DefaultBrotliLevel mirror the defaults the reference codec uses
// for zlib(6)/brotli(6); lzma always uses a fixed preset.
const (
	DefaultZlibLevel   = 6
	DefaultBrotliLevel = 6
	lzmaPreset         = 3
)

// PackFileBlock frames blockType/data into the on-disk BlobHeader+Blob
// encoding, compressing the payload per compressionType.
func PackFileBlock(blockType string, data []byte, compressionType CompressionType) ([]byte, error) {
	var body []byte
	switch compressionType {
	case Uncompressed:
		body = PackData(nil, 1, data)
	case Zlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, DefaultZlibLevel)
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "zlib writer init")
		}
		if _, err := w.Write(data); err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "zlib compress")
		}
		if err := w.Close(); err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "zlib finish")
		}
		body = PackValue(nil, 2, uint64(len(data)))
		body = PackData(body, 3, buf.Bytes())
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, DefaultBrotliLevel)
		if _, err := w.Write(data); err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "brotli compress")
		}
		if err := w.Close(); err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "brotli finish")
		}
		body = PackValue(nil, 2, uint64(len(data)))
		body = PackData(body, 8, buf.Bytes())
	case Lzma:
		var buf bytes.Buffer
		w, err := lzma.NewWriter(&buf)
		if err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "lzma writer init")
		}
		if _, err := w.Write(data); err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "lzma compress")
		}
		if err := w.Close(); err != nil {
			return nil, oqerr.Wrap(oqerr.KindPbfData, err, "lzma finish")
		}
		body = PackValue(nil, 2, uint64(len(data)))
		body = PackData(body, 4, buf.Bytes())
	default:
		return nil, oqerr.PbfData("unknown compression type %d", compressionType)
	}

	head := PackData(nil, 1, []byte(blockType))
	head = PackValue(head, 3, uint64(len(body)))

	result := WriteUint32BE(nil, uint32(len(head)))
	result = append(result, head...)
	result = append(result, body...)
	return result, nil
}

// ReadAllFileBlocks decodes every block in data, in order.
func ReadAllFileBlocks(data []byte) ([]*FileBlock, error) {
	var blocks []*FileBlock
	var pos int64
	for pos < int64(len(data)) {
		next, fb, err := ReadFileBlockAt(data, pos)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, fb)
		pos = next
	}
	return blocks, nil
}
