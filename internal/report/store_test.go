package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t "perflens/internal/types"
)

func fixedStore(dir string, at time.Time) *Store {
	s := NewStore(dir)
	s.now = func() time.Time { return at }
	return s
}

func TestSaveNamesAndIndexes(tt *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	s := fixedStore(tt.TempDir(), at)

	entry, err := s.Save(&t.Result{
		Project:  "/home/dev/ftl_sim",
		Language: "c",
		Hotspots: []t.Hotspot{{Rank: 1, Function: "gc_loop"}},
		Issues:   []t.MemoryIssue{{Kind: t.IssuePotentialLeak}},
		Report:   "# Performance Analysis Report\n",
	})
	require.NoError(tt, err)
	assert.Equal(tt, "ftl_sim-perf-20250314-092653.md", entry.Name)
	assert.Equal(tt, 1, entry.Hotspots)
	assert.Equal(tt, 1, entry.Issues)
	assert.Equal(tt, 0, entry.Suggestions)

	body, err := s.Read(entry.Name)
	require.NoError(tt, err)
	assert.Equal(tt, "# Performance Analysis Report\n", string(body))

	entries, err := s.List()
	require.NoError(tt, err)
	require.Len(tt, entries, 1)
	assert.Equal(tt, entry, entries[0])
}

func TestListNewestFirst(tt *testing.T) {
	dir := tt.TempDir()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s := fixedStore(dir, base.Add(time.Duration(i)*time.Minute))
		_, err := s.Save(&t.Result{Project: "p", Language: "go", Report: "r"})
		require.NoError(tt, err)
	}

	entries, err := NewStore(dir).List()
	require.NoError(tt, err)
	require.Len(tt, entries, 3)
	assert.Equal(tt, "p-perf-20250314-090200.md", entries[0].Name)
	assert.Equal(tt, "p-perf-20250314-090000.md", entries[2].Name)
}

func TestListWithoutIndex(tt *testing.T) {
	entries, err := NewStore(tt.TempDir()).List()
	require.NoError(tt, err)
	assert.Empty(tt, entries)
}

func TestReadRejectsPathNames(tt *testing.T) {
	s := NewStore(tt.TempDir())
	for _, name := range []string{"", "../secrets.md", "a/b.md", "a\\b.md", "report.txt"} {
		_, err := s.Read(name)
		assert.Error(tt, err, name)
	}
}

func TestProjectSlug(tt *testing.T) {
	assert.Equal(tt, "ftl_sim", projectSlug("/home/dev/ftl_sim/"))
	assert.Equal(tt, "my-proj", projectSlug("my proj"))
	assert.Equal(tt, "project", projectSlug("/"))
}
