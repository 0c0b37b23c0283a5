// Package genconfig manages a generation directory's two small JSON
// control files, settings.json and filelist.json, merging a saved config
// over built-in defaults rather than failing on a partial or missing file.
package genconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/walkthru-earth/osmquadtree/internal/oqerr"
)

// Settings is prfx/settings.json: the directory's fixed parameters,
// written once by update_initial and read by every later update.
type Settings struct {
	InitialState  int     `json:"initial_state"`
	DiffsLocation string  `json:"diffs_location"`
	SourcePrfx    string  `json:"source_prfx"`
	MaxQtLevel    int     `json:"max_qt_level"`
	QtBuffer      float64 `json:"qt_buffer"`
}

// DefaultSettings mirrors the CLI's own flag defaults, so a directory
// created without overriding a field behaves the same as the flags would.
func DefaultSettings() Settings {
	return Settings{
		MaxQtLevel: 17,
		QtBuffer:   0.05,
	}
}

// LoadSettings reads prfx/settings.json, merging any field the file
// leaves at its zero value back to DefaultSettings. A missing file
// returns the defaults outright, rather than failing, so a fresh
// directory can proceed through update_initial.
func LoadSettings(prfx string) (Settings, error) {
	path := filepath.Join(prfx, "settings.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", path)
	}
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, oqerr.Wrap(oqerr.KindInvalidInput, err, "parse %s", path)
	}
	if s.MaxQtLevel == 0 {
		s.MaxQtLevel = DefaultSettings().MaxQtLevel
	}
	if s.QtBuffer == 0 {
		s.QtBuffer = DefaultSettings().QtBuffer
	}
	return s, nil
}

// Save writes s to prfx/settings.json, creating prfx if needed.
func (s Settings) Save(prfx string) error {
	if err := os.MkdirAll(prfx, 0o755); err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "create directory %s", prfx)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "encode settings")
	}
	path := filepath.Join(prfx, "settings.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "write %s", path)
	}
	return nil
}

// FilelistEntry is one generation's entry in filelist.json.
type FilelistEntry struct {
	Filename string `json:"filename"`
	EndDate  string `json:"end_date"`
	NumTiles int    `json:"num_tiles"`
	State    int    `json:"state"`
}

// Filelist is prfx/filelist.json: the ordered history of every generation
// written under this directory.
type Filelist struct {
	Entries []FilelistEntry `json:"entries"`
}

// LoadFilelist reads prfx/filelist.json, returning an empty Filelist if
// the file doesn't exist yet (a directory's very first generation).
func LoadFilelist(prfx string) (*Filelist, error) {
	path := filepath.Join(prfx, "filelist.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Filelist{}, nil
	}
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", path)
	}
	fl := &Filelist{}
	if err := json.Unmarshal(data, fl); err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "parse %s", path)
	}
	return fl, nil
}

// Save writes fl to prfx/filelist.json.
func (fl *Filelist) Save(prfx string) error {
	if err := os.MkdirAll(prfx, 0o755); err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "create directory %s", prfx)
	}
	data, err := json.MarshalIndent(fl, "", "  ")
	if err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "encode filelist")
	}
	path := filepath.Join(prfx, "filelist.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return oqerr.Wrap(oqerr.KindInvalidInput, err, "write %s", path)
	}
	return nil
}

// Latest returns the most recent entry, or false if the filelist is empty
// (no generation has been written yet).
func (fl *Filelist) Latest() (FilelistEntry, bool) {
	if len(fl.Entries) == 0 {
		return FilelistEntry{}, false
	}
	return fl.Entries[len(fl.Entries)-1], true
}

// Append adds e as the new latest generation.
func (fl *Filelist) Append(e FilelistEntry) {
	fl.Entries = append(fl.Entries, e)
}

// StateRow is one line of prfx/state.csv: a downloaded diff's state
// number and the timestamp it brings the data up to.
type StateRow struct {
	State     int
	Timestamp string
}

// LoadStateCSV reads prfx/state.csv, a plain "state,timestamp" file with
// no header, one row per downloaded diff.
func LoadStateCSV(prfx string) ([]StateRow, error) {
	path := filepath.Join(prfx, "state.csv")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "read %s", path)
	}
	var rows []StateRow
	var state int
	var ts string
	for _, line := range splitLines(string(data)) {
		if line == "" {
			continue
		}
		if _, err := fmtSscanCSV(line, &state, &ts); err != nil {
			return nil, oqerr.Wrap(oqerr.KindInvalidInput, err, "parse %s line %q", path, line)
		}
		rows = append(rows, StateRow{State: state, Timestamp: ts})
	}
	return rows, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, trimCR(s[start:i]))
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, trimCR(s[start:]))
	}
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

func fmtSscanCSV(line string, state *int, ts *string) (int, error) {
	for i := 0; i < len(line); i++ {
		if line[i] == ',' {
			n, err := parseInt(line[:i])
			if err != nil {
				return 0, err
			}
			*state = n
			*ts = line[i+1:]
			return 1, nil
		}
	}
	return 0, oqerr.InvalidInput("malformed state.csv row %q", line)
}

func parseInt(s string) (int, error) {
	n := 0
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return 0, oqerr.InvalidInput("empty integer field")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, oqerr.InvalidInput("malformed integer %q", s)
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// SortByState orders rows by ascending state number.
func SortByState(rows []StateRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].State < rows[j].State })
}
