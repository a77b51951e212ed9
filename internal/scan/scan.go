// Package scan collects the candidate source files for one analysis run.
package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"perflens/internal/rules"
)

// Directories never worth descending into: build output, dependency trees,
// VCS metadata, interpreter caches.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"build":        true,
	".next":        true,
	".cache":       true,
	"__pycache__":  true,
	"venv":         true,
}

// Options narrows the collected set with doublestar globs applied to
// repo-relative slash paths.
type Options struct {
	Include []string // empty keeps everything with a matching extension
	Exclude []string
}

// Collect walks root and returns the repo-relative source files carrying one
// of the language's extensions, sorted so runs are reproducible. An
// unsupported language tag yields an empty list, not an error.
func Collect(root, language string, ruleset *rules.Compiled, opts Options) ([]string, error) {
	exts := ruleset.Extensions(language)
	if len(exts) == 0 {
		return nil, nil
	}
	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[strings.ToLower(e)] = true
	}
	for _, pat := range opts.Include {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("scan: bad include glob %q", pat)
		}
	}
	for _, pat := range opts.Exclude {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("scan: bad exclude glob %q", pat)
		}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			if path == root {
				return werr
			}
			return nil // unreadable subtree, keep going
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !extSet[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}
		if len(opts.Include) > 0 && !matchAny(opts.Include, rel) {
			return nil
		}
		if matchAny(opts.Exclude, rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan: walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
