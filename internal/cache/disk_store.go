package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore persists snapshots as <key>.json files under a root directory.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: strings.TrimSpace(root)}
}

func (s *DiskStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return nil, false, err
	}
	raw, err := os.ReadFile(fullPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *DiskStore) Put(_ context.Context, key string, content []byte) error {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(fullPath, content, 0o644)
}

func (s *DiskStore) pathFor(key string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	root := strings.TrimSpace(s.root)
	if root == "" {
		return "", fmt.Errorf("root is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	if strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key: %s", key)
	}
	return filepath.Join(root, key+".json"), nil
}
