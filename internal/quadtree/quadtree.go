// Package quadtree implements the spatial quadtree key: a packed 64-bit
// integer encoding a node of the 4-ary tree over the Mercator-projected
// world, plus the bbox arithmetic used to compute it.
package quadtree

import (
	"fmt"
	"math"
)

// Quadtree is a packed quadtree key. The path is held as 2-bit children
// from bit 62 down, the child at depth d in bits [62-2d:61-2d]; bits [4:0]
// hold depth in [0,31]. -1 means "unassigned",
// -2 means "empty/absent".
type Quadtree int64

// Empty is the "no value computed yet" sentinel, distinct from Unset (-1)
// which participates in Common as an absorbing identity.
const Empty Quadtree = -2

// Unset is the "unassigned" sentinel used by Common's identity law.
const Unset Quadtree = -1

// Root is the depth-0 key, the whole world.
const Root Quadtree = 0

func coordAsInt(v float64) int32 {
	if v > 0.0 {
		return int32(v*1e7 + 0.5)
	}
	return int32(v*1e7 - 0.5)
}

func coordAsFloat(v int32) float64 {
	return float64(v) * 1e-7
}

func latitudeMercator(y, scale float64) float64 {
	return math.Log(math.Tan(math.Pi*(1.0+y/90.0)/4.0)) * scale / math.Pi
}

func latitudeUnMercator(d, scale float64) float64 {
	return (math.Atan(math.Exp(d*math.Pi/scale))*4.0/math.Pi - 1.0) * 90.0
}

// Bbox is an integer bounding box in 1e-7-degree WGS84 coordinates.
type Bbox struct {
	MinLon, MinLat, MaxLon, MaxLat int32
}

// NewBbox constructs a Bbox from its four corners.
func NewBbox(minlon, minlat, maxlon, maxlat int32) Bbox {
	return Bbox{minlon, minlat, maxlon, maxlat}
}

// EmptyBbox returns an inverted bbox suitable as an Expand accumulator seed.
func EmptyBbox() Bbox {
	return Bbox{1800000000, 900000000, -1800000000, -900000000}
}

// IsEmpty reports whether the bbox was never expanded.
func (b Bbox) IsEmpty() bool {
	return b.MinLon > b.MaxLon || b.MinLat > b.MaxLat
}

// Contains reports whether b wholly contains o.
func (b Bbox) Contains(o Bbox) bool {
	return b.MinLon <= o.MinLon && b.MinLat <= o.MinLat &&
		b.MaxLon >= o.MaxLon && b.MaxLat >= o.MaxLat
}

// ContainsPoint reports whether (lon, lat) falls within b.
func (b Bbox) ContainsPoint(lon, lat int32) bool {
	return b.MinLon <= lon && b.MinLat <= lat && b.MaxLon >= lon && b.MaxLat >= lat
}

// Expand grows b, in place, to include (lon, lat).
func (b *Bbox) Expand(lon, lat int32) {
	if lon < b.MinLon {
		b.MinLon = lon
	}
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lon > b.MaxLon {
		b.MaxLon = lon
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
}

// ExpandBbox grows b, in place, to include the whole of o.
func (b *Bbox) ExpandBbox(o Bbox) {
	b.Expand(o.MinLon, o.MinLat)
	b.Expand(o.MaxLon, o.MaxLat)
}

// Overlaps reports whether b and o share any point.
func (b Bbox) Overlaps(o Bbox) bool {
	if b.MinLon > o.MaxLon || b.MinLat > o.MaxLat {
		return false
	}
	if o.MinLon > b.MaxLon || o.MinLat > b.MaxLat {
		return false
	}
	return true
}

func (b Bbox) String() string {
	return fmt.Sprintf("[%-10d %-10d %-10d %-10d]", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Calculate returns the deepest key (at most maxLevel deep) whose
// buffer-expanded cell contains bbox, walking down from the root.
func Calculate(bbox Bbox, maxLevel int, buffer float64) Quadtree {
	return CalculateVals(bbox.MinLon, bbox.MinLat, bbox.MaxLon, bbox.MaxLat, maxLevel, buffer)
}

// CalculateVals is Calculate without needing a Bbox value.
func CalculateVals(minlon, minlat, maxlon, maxlat int32, maxLevel int, buffer float64) Quadtree {
	return Quadtree(makeQuadTreeFloating(
		coordAsFloat(minlon), coordAsFloat(minlat),
		coordAsFloat(maxlon), coordAsFloat(maxlat),
		buffer, maxLevel))
}

// CalculatePoint computes the key for a single point, treated as a
// one-integer-unit bbox the way the reference point-calc does.
func CalculatePoint(lon, lat int32, maxLevel int, buffer float64) Quadtree {
	return Quadtree(makeQuadTreeFloating(
		coordAsFloat(lon), coordAsFloat(lat),
		coordAsFloat(lon+1), coordAsFloat(lat+1),
		buffer, maxLevel))
}

// FromXYZ packs an explicit (x, y, z) tile tuple into a Quadtree key.
func FromXYZ(x, y uint32, z uint) Quadtree {
	if z > 20 {
		return Empty
	}
	var ans int64
	scale := int64(1)
	for i := uint(0); i < z; i++ {
		ans += int64((x>>i)&1|(((y>>i)&1)<<1)) * scale
		scale *= 4
	}
	ans <<= 63 - 2*z
	ans += int64(z)
	return Quadtree(ans)
}

// Tuple is the (x, y, z) slippy-tile-style unpacking of a Quadtree.
type Tuple struct {
	X, Y uint32
	Z    uint32
}

// AsTuple unpacks q into its (x, y, z) coordinates.
func (q Quadtree) AsTuple() Tuple {
	z := uint32(q) & 31
	var x, y uint32
	for i := uint32(0); i < z; i++ {
		x <<= 1
		y <<= 1
		t := (int64(q) >> (61 - 2*i)) & 3
		if t == 1 || t == 3 {
			x |= 1
		}
		if t == 2 || t == 3 {
			y |= 1
		}
	}
	return Tuple{X: x, Y: y, Z: z}
}

// Depth returns the key's tree depth, encoded in its low 5 bits.
func (q Quadtree) Depth() int {
	return int(q & 31)
}

// Quad returns the 2-bit child selector at depth d, or -1 if q is a
// sentinel.
func (q Quadtree) Quad(d int) int {
	if q < 0 {
		return -1
	}
	return int((int64(q) >> (61 - 2*d)) & 3)
}

// Round truncates q to the given depth, the deepest ancestor at or above
// level.
func (q Quadtree) Round(level int) Quadtree {
	if q.Depth() <= level {
		return q
	}
	v := int64(q)
	v >>= 63 - 2*level
	v <<= 63 - 2*level
	return Quadtree(v + int64(level))
}

// Common returns the longest prefix shared by q and o: the common ancestor
// in the quadtree. Unset (-1) is an absorbing identity.
func (q Quadtree) Common(o Quadtree) Quadtree {
	if q < 0 {
		return o
	}
	if o < 0 {
		return q
	}
	if q == o {
		return q
	}
	d := q.Depth()
	if o.Depth() < d {
		d = o.Depth()
	}
	var p int64
	for i := 0; i < d; i++ {
		qi := int64(q.Round(i + 1))
		oi := int64(o.Round(i + 1))
		if qi != oi {
			return Quadtree(p)
		}
		p = qi
	}
	return Quadtree(p)
}

// CommonAll folds Common over a slice, returning Unset for an empty slice.
func CommonAll(qs []Quadtree) Quadtree {
	r := Unset
	for _, q := range qs {
		r = r.Common(q)
	}
	return r
}

// AsBbox inverts q's cell back into a WGS84 bbox, expanded by a fraction
// buffer of the cell's side.
func (q Quadtree) AsBbox(buffer float64) Bbox {
	minX, minY := -180.0, -90.0
	maxX, maxY := 180.0, 90.0

	l := q.Depth()
	for i := 0; i < l; i++ {
		v := (int64(q) >> (61 - 2*i)) & 3
		if v == 0 || v == 2 {
			maxX -= (maxX - minX) / 2.0
		} else {
			minX += (maxX - minX) / 2.0
		}
		if v == 2 || v == 3 {
			maxY -= (maxY - minY) / 2.0
		} else {
			minY += (maxY - minY) / 2.0
		}
	}

	minYm := latitudeUnMercator(minY, 90.0)
	maxYm := latitudeUnMercator(maxY, 90.0)

	if buffer > 0.0 {
		xx := (maxX - minX) * buffer
		yy := (maxYm - minYm) * buffer
		minX -= xx
		minYm -= yy
		maxX += xx
		maxYm += yy
	}

	return NewBbox(coordAsInt(minX), coordAsInt(minYm), coordAsInt(maxX), coordAsInt(maxYm))
}

// AsString renders q as a letter path (A/B/C/D per quadrant), "NULL" for
// sentinels.
func (q Quadtree) AsString() string {
	if q < 0 {
		return "NULL"
	}
	l := q.Depth()
	buf := make([]byte, l)
	for i := 0; i < l; i++ {
		switch q.Quad(i) {
		case 0:
			buf[i] = 'A'
		case 1:
			buf[i] = 'B'
		case 2:
			buf[i] = 'C'
		case 3:
			buf[i] = 'D'
		}
	}
	return string(buf)
}

func (q Quadtree) String() string {
	return q.AsString()
}

func findQuad(minX, minY, maxX, maxY, buffer float64) int64 {
	if minX < (-1.0-buffer) || minY < (-1.0-buffer) || maxX > (1.0+buffer) || maxY > (1.0+buffer) {
		return -1
	}
	switch {
	case maxX <= 0.0 && minY >= 0.0:
		return 0
	case minX >= 0.0 && minY >= 0.0:
		return 1
	case maxX <= 0.0 && maxY <= 0.0:
		return 2
	case minX >= 0.0 && maxY <= 0.0:
		return 3
	case maxX < buffer && math.Abs(maxX) < math.Abs(minX) && minY > -buffer && math.Abs(maxY) >= math.Abs(minY):
		return 0
	case minX > -buffer && math.Abs(maxX) >= math.Abs(minX) && minY > -buffer && math.Abs(maxY) >= math.Abs(minY):
		return 1
	case maxX < buffer && math.Abs(maxX) < math.Abs(minX) && maxY < buffer && math.Abs(maxY) < math.Abs(minY):
		return 2
	case minX > -buffer && math.Abs(maxX) >= math.Abs(minX) && maxY < buffer && math.Abs(maxY) < math.Abs(minY):
		return 3
	}
	return -1
}

func makeQuadTreeInternal(minX, minY, maxX, maxY, buffer float64, maxLevel, currentLevel int) int64 {
	if maxLevel == 0 {
		return 0
	}
	q := findQuad(minX, minY, maxX, maxY, buffer)
	if q == -1 {
		return 0
	}
	if q == 0 || q == 2 {
		minX += 0.5
		maxX += 0.5
	} else {
		minX -= 0.5
		maxX -= 0.5
	}
	if q == 2 || q == 3 {
		minY += 0.5
		maxY += 0.5
	} else {
		minY -= 0.5
		maxY -= 0.5
	}
	return (q << (61 - 2*currentLevel)) + 1 +
		makeQuadTreeInternal(2.0*minX, 2.0*minY, 2.0*maxX, 2.0*maxY, buffer, maxLevel-1, currentLevel+1)
}

func makeQuadTreeFloating(minX, minY, maxX, maxY, buffer float64, maxLevel int) int64 {
	if minX > maxX || minY > maxY {
		return -1
	}
	if maxX == minX {
		maxX += 0.0000001
	}
	if maxY == minY {
		maxY += 0.0000001
	}
	minYMerc := latitudeMercator(minY, 1.0)
	maxYMerc := latitudeMercator(maxY, 1.0)
	minXMerc := minX / 180.0
	maxXMerc := maxX / 180.0

	return makeQuadTreeInternal(minXMerc, minYMerc, maxXMerc, maxYMerc, buffer, maxLevel, 0)
}
