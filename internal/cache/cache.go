// Package cache persists extraction snapshots between runs so unchanged
// projects skip the structural scan. Entries are keyed by a fingerprint of
// the analysis input: the language plus every scanned file's path and
// content. Any edit, rename, or addition changes the key, so stale entries
// are never served; they simply stop being referenced.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Store is a byte-level snapshot store. Get reports ok=false on a miss;
// errors are reserved for real I/O failures.
type Store interface {
	Get(ctx context.Context, key string) (content []byte, ok bool, err error)
	Put(ctx context.Context, key string, content []byte) error
}

// KeyedFile is one input file contributing to a fingerprint.
type KeyedFile struct {
	Path    string
	Content []byte
}

// Key fingerprints an analysis input. Files are hashed in path order, so
// callers may pass them unsorted; two runs over identical relevant files
// always produce the same key.
func Key(language string, files []KeyedFile) string {
	sorted := append([]KeyedFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	d := xxhash.New()
	d.WriteString(language)
	d.Write([]byte{0})
	for _, f := range sorted {
		d.WriteString(f.Path)
		d.Write([]byte{0})
		d.Write(f.Content)
		d.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return s.Put(ctx, key, raw)
}

// GetJSON loads and unmarshals the entry under key. A missing entry or an
// undecodable one (written by an older build, say) reports ok=false.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var zero T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, nil
	}
	return out, true, nil
}
