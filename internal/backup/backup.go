// Package backup snapshots the critical files of an installation before an
// update and restores them on rollback.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cl4nyz/elevadores-updater/internal/fsutil"
)

const (
	// DirPrefix starts the name of every snapshot directory.
	DirPrefix = "backup_"
	// ManifestName is the metadata file written inside each snapshot.
	ManifestName = ".snapshot.json"

	idLayout = "20060102_150405"
)

// ErrBackupNotFound is returned when a snapshot ID does not exist.
var ErrBackupNotFound = errors.New("backup not found")

// Snapshot is one backup generation.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version,omitempty"`
	Paths     []string  `json:"paths"` // Captured files, slash-separated and relative to the install dir

	// Dir is the snapshot directory on disk.
	Dir string `json:"-"`
	// Legacy is set for snapshots without a manifest.
	Legacy bool `json:"-"`
}

// Info provides summary information about a snapshot for listing.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version,omitempty"`
	Files     int       `json:"files"`
	Size      int64     `json:"size"`
	Legacy    bool      `json:"legacy,omitempty"`
	Dir       string    `json:"dir"`
}

// Manager handles snapshot operations for one installation.
type Manager struct {
	installDir string
	backupDir  string
	critical   []string
	logger     *log.Logger
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source used for snapshot IDs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a backup manager. Snapshots of the critical entries of
// installDir are written under backupDir.
func NewManager(installDir, backupDir string, critical []string, opts ...Option) *Manager {
	m := &Manager{
		installDir: installDir,
		backupDir:  backupDir,
		critical:   critical,
		logger:     log.New(io.Discard),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BackupDir returns the directory holding snapshots.
func (m *Manager) BackupDir() string {
	return m.backupDir
}

// Create copies every critical file or directory that currently exists into a
// fresh snapshot directory. On failure the partial snapshot is removed and no
// live file has been touched.
func (m *Manager) Create(ctx context.Context, version string) (*Snapshot, error) {
	if err := os.MkdirAll(m.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := m.now()
	id, dir, err := m.reserveDir(now)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:        id,
		CreatedAt: now,
		Version:   version,
		Paths:     []string{},
		Dir:       dir,
	}

	if err := m.capture(ctx, snap); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	if err := writeManifest(snap); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	m.logger.Info("backup created", "id", snap.ID, "files", len(snap.Paths))
	return snap, nil
}

// reserveDir creates a new, unique snapshot directory for the given time.
func (m *Manager) reserveDir(now time.Time) (string, string, error) {
	base := DirPrefix + now.Format(idLayout)
	for i := 0; i < 100; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s-%d", base, i)
		}
		dir := filepath.Join(m.backupDir, id)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return id, dir, nil
		}
		if !os.IsExist(err) {
			return "", "", fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	return "", "", fmt.Errorf("too many snapshots for %s", base)
}

func (m *Manager) capture(ctx context.Context, snap *Snapshot) error {
	for _, entry := range m.critical {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel := path.Clean(strings.TrimSuffix(filepath.ToSlash(entry), "/"))
		src := filepath.Join(m.installDir, filepath.FromSlash(rel))

		info, err := os.Lstat(src)
		if err != nil {
			if os.IsNotExist(err) {
				m.logger.Debug("critical entry missing, skipped", "path", rel)
				continue
			}
			return fmt.Errorf("failed to stat %s: %w", rel, err)
		}

		switch {
		case info.IsDir():
			err = fsutil.WalkFiles(src, func(sub string) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return m.captureFile(snap, path.Join(rel, sub))
			})
		case info.Mode().IsRegular():
			err = m.captureFile(snap, rel)
		default:
			m.logger.Debug("critical entry is not a regular file, skipped", "path", rel)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to back up %s: %w", rel, err)
		}
	}
	return nil
}

func (m *Manager) captureFile(snap *Snapshot, rel string) error {
	src := filepath.Join(m.installDir, filepath.FromSlash(rel))
	dst := filepath.Join(snap.Dir, filepath.FromSlash(rel))
	if err := fsutil.ReplaceFile(src, dst); err != nil {
		return err
	}
	snap.Paths = append(snap.Paths, rel)
	return nil
}

func writeManifest(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snap.Dir, ManifestName), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Restore copies every captured file of the snapshot back over the install
// dir. All files are attempted; failures are joined into the returned error.
// The snapshot itself is left in place.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("no snapshot to restore")
	}

	var errs []error
	restored := 0
	for _, rel := range snap.Paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		src := filepath.Join(snap.Dir, filepath.FromSlash(rel))
		dst := filepath.Join(m.installDir, filepath.FromSlash(rel))
		if err := fsutil.ReplaceFile(src, dst); err != nil {
			m.logger.Error("restore failed", "path", rel, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", rel, err))
			continue
		}
		restored++
	}

	m.logger.Info("backup restored", "id", snap.ID, "restored", restored, "failed", len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("restore of %s incomplete: %w", snap.ID, errors.Join(errs...))
	}
	return nil
}

// List returns all snapshots sorted by creation time (newest first).
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []Info{}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}

		snap, err := m.load(entry.Name())
		if err != nil {
			m.logger.Debug("skipping unreadable snapshot", "id", entry.Name(), "err", err)
			continue
		}

		info := Info{
			ID:        snap.ID,
			CreatedAt: snap.CreatedAt,
			Version:   snap.Version,
			Files:     len(snap.Paths),
			Legacy:    snap.Legacy,
			Dir:       snap.Dir,
		}
		for _, rel := range snap.Paths {
			if fi, err := os.Stat(filepath.Join(snap.Dir, filepath.FromSlash(rel))); err == nil {
				info.Size += fi.Size()
			}
		}
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].ID > backups[j].ID
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	return backups, nil
}

// Get retrieves a snapshot by ID. Use "latest" to get the most recent one.
func (m *Manager) Get(id string) (*Snapshot, error) {
	if id == "latest" {
		backups, err := m.List()
		if err != nil {
			return nil, err
		}
		if len(backups) == 0 {
			return nil, fmt.Errorf("no backups found: %w", ErrBackupNotFound)
		}
		id = backups[0].ID
	}

	if err := validateID(id); err != nil {
		return nil, err
	}
	return m.load(id)
}

// Delete removes a snapshot by ID.
func (m *Manager) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	dir := filepath.Join(m.backupDir, id)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	m.logger.Info("backup deleted", "id", id)
	return nil
}

func validateID(id string) error {
	if !strings.HasPrefix(id, DirPrefix) || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid id %q", ErrBackupNotFound, id)
	}
	return nil
}

// load reads a snapshot directory, falling back to a directory walk for
// snapshots written without a manifest.
func (m *Manager) load(id string) (*Snapshot, error) {
	dir := filepath.Join(m.backupDir, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	switch {
	case err == nil:
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		snap.ID = id
		snap.Dir = dir
		return &snap, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	snap := &Snapshot{
		ID:        id,
		CreatedAt: legacyTime(id, info.ModTime()),
		Paths:     []string{},
		Dir:       dir,
		Legacy:    true,
	}
	err = fsutil.WalkFiles(dir, func(rel string) error {
		snap.Paths = append(snap.Paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan legacy backup: %w", err)
	}
	sort.Strings(snap.Paths)
	return snap, nil
}

// legacyTime parses the timestamp encoded in a snapshot directory name.
func legacyTime(id string, fallback time.Time) time.Time {
	stamp := strings.TrimPrefix(id, DirPrefix)
	if i := strings.Index(stamp, "-"); i >= 0 {
		stamp = stamp[:i]
	}
	t, err := time.ParseInLocation(idLayout, stamp, time.Local)
	if err != nil {
		return fallback
	}
	return t
}
