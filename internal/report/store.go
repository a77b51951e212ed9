// Package report persists finished analysis reports. The primary store is a
// plain directory of Markdown files plus a JSON index; an optional S3-backed
// archive mirrors saved reports to object storage.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	t "perflens/internal/types"
)

const indexFile = "index.json"

// Entry is one saved report in the index.
type Entry struct {
	Name        string `json:"name"` // file name under the reports dir
	Project     string `json:"project"`
	Language    string `json:"language"`
	Hotspots    int    `json:"hotspots"`
	Issues      int    `json:"issues"`
	Suggestions int    `json:"suggestions"`
	SavedAt     string `json:"saved_at"` // RFC 3339
}

// Store writes reports under a single directory.
type Store struct {
	dir string
	// now is swappable for tests; nil uses time.Now.
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Save writes the report Markdown as <project>-perf-<YYYYMMDD-HHMMSS>.md and
// appends an index entry. The report body itself carries no timestamps, so
// only the file name and index vary between identical runs.
func (s *Store) Save(res *t.Result) (Entry, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("report: create dir %s: %w", s.dir, err)
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	ts := now().UTC()

	name := fmt.Sprintf("%s-perf-%s.md", projectSlug(res.Project), ts.Format("20060102-150405"))
	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(res.Report), 0o644); err != nil {
		return Entry{}, fmt.Errorf("report: write %s: %w", name, err)
	}

	entry := Entry{
		Name:        name,
		Project:     res.Project,
		Language:    res.Language,
		Hotspots:    len(res.Hotspots),
		Issues:      len(res.Issues),
		Suggestions: len(res.Suggestions),
		SavedAt:     ts.Format(time.RFC3339),
	}
	if err := s.appendIndex(entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns the index entries, newest first. A missing index means no
// reports were saved yet.
func (s *Store) List() ([]Entry, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report: read index: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("report: decode index: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].SavedAt > entries[j].SavedAt })
	return entries, nil
}

// Read returns one saved report's body. Names containing path separators or
// parent references are rejected so handlers cannot read outside the dir.
func (s *Store) Read(name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("report: invalid report name %q", name)
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", name, err)
	}
	return raw, nil
}

// ValidName reports whether name is a plain Markdown file name with no path
// structure.
func ValidName(name string) bool {
	return name != "" &&
		!strings.ContainsAny(name, "/\\") &&
		!strings.Contains(name, "..") &&
		strings.HasSuffix(name, ".md")
}

func (s *Store) appendIndex(entry Entry) error {
	entries, err := s.List()
	if err != nil {
		// A corrupt index is rebuilt from this entry onward rather
		// than blocking the save.
		entries = nil
	}
	entries = append(entries, entry)
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFile), raw, 0o644); err != nil {
		return fmt.Errorf("report: write index: %w", err)
	}
	return nil
}

// projectSlug reduces a project path to a file-name-safe base component.
func projectSlug(project string) string {
	base := filepath.Base(strings.TrimRight(project, "/\\"))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "project"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
