package update

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// VersionStore persists the installed version identifier in a plain-text file.
type VersionStore struct {
	path     string
	fallback string
}

// NewVersionStore creates a store for the version file at path. Read returns
// fallback when the file is absent or unreadable.
func NewVersionStore(path, fallback string) *VersionStore {
	return &VersionStore{path: path, fallback: fallback}
}

// Path returns the version file path.
func (s *VersionStore) Path() string {
	return s.path
}

// Read returns the persisted version or the fallback. It never fails.
func (s *VersionStore) Read() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.fallback
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return s.fallback
	}
	return v
}

// Write atomically replaces the version file with version.
func (s *VersionStore) Write(version string) error {
	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("refusing to persist an empty version")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create version directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp version file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(version); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write version: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync version file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close version file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set version file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace version file: %w", err)
	}
	return nil
}
