// Package tstamp parses and formats the timestamp and bbox-filter syntaxes
// accepted on the CLI, in the layouts OSM planet/diff file names use.
package tstamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
)

const (
	// LayoutColon is "YYYY-MM-DDTHH:MM:SS".
	LayoutColon = "2006-01-02T15:04:05"
	// LayoutDash is the filesystem-safe alternative "YYYY-MM-DDTHH-MM-SS".
	LayoutDash = "2006-01-02T15-04-05"
	// LayoutDate is the bare "YYYYMMDD" form.
	LayoutDate = "20060102"
)

// Parse accepts any of the three CLI timestamp syntaxes, and RFC 3339.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, oqerr.InvalidInput("empty timestamp")
	}
	for _, layout := range []string{LayoutColon, LayoutDash, LayoutDate, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, oqerr.InvalidInput("unparseable timestamp %q", s)
}

// Format renders a timestamp using the colon layout, the canonical form
// used in filelist.json and state.csv.
func Format(t time.Time) string {
	return t.UTC().Format(LayoutColon)
}

// Bbox is an integer 1e-7-degree bounding box, as accepted by --filter.
type Bbox struct {
	MinLon, MinLat, MaxLon, MaxLat int32
}

// ParseBbox parses "minlon,minlat,maxlon,maxlat" in 1e-7-degree integers.
func ParseBbox(s string) (Bbox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bbox{}, oqerr.InvalidInput("malformed bbox filter %q: want 4 comma-separated integers", s)
	}
	vals := make([]int32, 4)
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return Bbox{}, oqerr.InvalidInput("malformed bbox filter %q: %v", s, err)
		}
		vals[i] = int32(v)
	}
	b := Bbox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return Bbox{}, oqerr.InvalidInput("malformed bbox filter %q: min exceeds max", s)
	}
	return b, nil
}

func (b Bbox) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Overlaps reports whether b and o share any point.
func (b Bbox) Overlaps(o Bbox) bool {
	return b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon &&
		b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat
}

// Contains reports whether b wholly contains o.
func (b Bbox) Contains(o Bbox) bool {
	return b.MinLon <= o.MinLon && b.MaxLon >= o.MaxLon &&
		b.MinLat <= o.MinLat && b.MaxLat >= o.MaxLat
}

// ContainsPoint reports whether (lon, lat) falls within b.
func (b Bbox) ContainsPoint(lon, lat int32) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}
