package genconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSettingsReturnsDefaultsWhenMissing(t *testing.T) {
	s, err := LoadSettings(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), s)
}

func TestSettingsSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Settings{
		InitialState:  42,
		DiffsLocation: "https://example.org/diffs/",
		SourcePrfx:    "planet",
		MaxQtLevel:    16,
		QtBuffer:      0.1,
	}
	require.NoError(t, s.Save(dir))

	got, err := LoadSettings(dir)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestSettingsPartialFileMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"initial_state": 7}`), 0o644))

	got, err := LoadSettings(dir)
	require.NoError(t, err)
	require.Equal(t, 7, got.InitialState)
	require.Equal(t, DefaultSettings().MaxQtLevel, got.MaxQtLevel)
	require.Equal(t, DefaultSettings().QtBuffer, got.QtBuffer)
}

func TestFilelistAppendAndLatest(t *testing.T) {
	dir := t.TempDir()
	fl, err := LoadFilelist(dir)
	require.NoError(t, err)
	_, ok := fl.Latest()
	require.False(t, ok)

	fl.Append(FilelistEntry{Filename: "20240101.pbfc", EndDate: "2024-01-01T00:00:00", NumTiles: 100, State: 1})
	fl.Append(FilelistEntry{Filename: "20240102.pbfc", EndDate: "2024-01-02T00:00:00", NumTiles: 101, State: 2})
	require.NoError(t, fl.Save(dir))

	reloaded, err := LoadFilelist(dir)
	require.NoError(t, err)
	require.Len(t, reloaded.Entries, 2)
	latest, ok := reloaded.Latest()
	require.True(t, ok)
	require.Equal(t, "20240102.pbfc", latest.Filename)
}

func TestStateCSVParsesRowsInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.csv"), []byte("3,2024-01-03T00:00:00\n1,2024-01-01T00:00:00\n2,2024-01-02T00:00:00\n"), 0o644))

	rows, err := LoadStateCSV(dir)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	SortByState(rows)
	require.Equal(t, []int{1, 2, 3}, []int{rows[0].State, rows[1].State, rows[2].State})
	require.Equal(t, "2024-01-01T00:00:00", rows[0].Timestamp)
}

func TestStateCSVMissingFileReturnsNil(t *testing.T) {
	rows, err := LoadStateCSV(t.TempDir())
	require.NoError(t, err)
	require.Nil(t, rows)
}
