// Package config handles updater configuration parsing and location resolution.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cl4nyz/elevadores-updater/internal/types"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "ELEVUPD_CONFIG"

// Built-in defaults for a stock installation.
const (
	DefaultVersion      = "1.0.0"
	DefaultVersionFile  = "version.txt"
	DefaultMetadataURL  = "https://api.github.com/repos/Cl4nyz/ElevadoresWebApp/releases/latest"
	DefaultFallbackURL  = "https://github.com/Cl4nyz/ElevadoresWebApp/archive/refs/heads/main.zip"
	DefaultWorkDir      = ".update"
	DefaultHistoryFile  = "history.db"
	DefaultServerAddr   = ":8090"
	DefaultKeepBackups  = 10
	DefaultCheckTimeout = 10 * time.Second
	DefaultDownloadTime = 5 * time.Minute
	DefaultLockStale    = time.Hour
)

// FileNames lists the config file names searched in a directory, in order.
var FileNames = []string{
	"updater.yaml",
	"updater.yml",
	"updater.toml",
	"updater.json",
	"updater",
}

// ReleaseConfig describes where release metadata and artifacts come from.
type ReleaseConfig struct {
	MetadataURL  string         `yaml:"metadata_url" toml:"metadata_url" json:"metadata_url"`
	FallbackURL  string         `yaml:"fallback_url" toml:"fallback_url" json:"fallback_url"`
	Token        string         `yaml:"token,omitempty" toml:"token,omitempty" json:"token,omitempty"`
	CheckTimeout types.Duration `yaml:"check_timeout" toml:"check_timeout" json:"check_timeout"`
}

// DownloadConfig bounds artifact downloads.
type DownloadConfig struct {
	Timeout    types.Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	ScratchDir string         `yaml:"scratch_dir,omitempty" toml:"scratch_dir,omitempty" json:"scratch_dir,omitempty"` // Empty means the OS temp dir
}

// BackupConfig controls where snapshots live and how many prune keeps.
type BackupConfig struct {
	Dir  string `yaml:"dir,omitempty" toml:"dir,omitempty" json:"dir,omitempty"` // Relative to the install dir; empty means the install dir
	Keep int    `yaml:"keep" toml:"keep" json:"keep"`
}

// HistoryConfig controls the attempt ledger.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path    string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
}

// ServerConfig controls the HTTP endpoints.
type ServerConfig struct {
	Addr            string `yaml:"addr" toml:"addr" json:"addr"`
	ExitAfterUpdate bool   `yaml:"exit_after_update" toml:"exit_after_update" json:"exit_after_update"`
}

// Config is the complete updater configuration. It is passed explicitly into
// every component at construction.
type Config struct {
	InstallDir     string         `yaml:"install_dir,omitempty" toml:"install_dir,omitempty" json:"install_dir,omitempty"`
	DefaultVersion string         `yaml:"default_version" toml:"default_version" json:"default_version"`
	VersionFile    string         `yaml:"version_file" toml:"version_file" json:"version_file"`
	Release        ReleaseConfig  `yaml:"release" toml:"release" json:"release"`
	Download       DownloadConfig `yaml:"download" toml:"download" json:"download"`
	Protected      []string       `yaml:"protected" toml:"protected" json:"protected"`
	Critical       []string       `yaml:"critical" toml:"critical" json:"critical"`
	Backup         BackupConfig   `yaml:"backup" toml:"backup" json:"backup"`
	LockStaleAfter types.Duration `yaml:"lock_stale_after" toml:"lock_stale_after" json:"lock_stale_after"`
	History        HistoryConfig  `yaml:"history" toml:"history" json:"history"`
	Server         ServerConfig   `yaml:"server" toml:"server" json:"server"`

	// Path is the file the config was loaded from, empty for defaults.
	Path string `yaml:"-" toml:"-" json:"-"`
}

// DefaultProtected returns the stock protection rules.
func DefaultProtected() []string {
	return []string{
		"postgre.py",
		".venv/",
		"*.db",
		"config.ini",
		"*.log",
		".git/",
		"version.txt",
		"backup_*",
		".update/",
		"updater.yaml",
	}
}

// DefaultCritical returns the stock list of files and directories captured
// before an update.
func DefaultCritical() []string {
	return []string{
		"app.py",
		"homemanager.py",
		"requirements.txt",
		"postgre.py",
		"templates/",
		"static/",
	}
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		InstallDir:     ".",
		DefaultVersion: DefaultVersion,
		VersionFile:    DefaultVersionFile,
		Release: ReleaseConfig{
			MetadataURL:  DefaultMetadataURL,
			FallbackURL:  DefaultFallbackURL,
			CheckTimeout: types.Duration(DefaultCheckTimeout),
		},
		Download: DownloadConfig{
			Timeout: types.Duration(DefaultDownloadTime),
		},
		Protected:      DefaultProtected(),
		Critical:       DefaultCritical(),
		Backup:         BackupConfig{Keep: DefaultKeepBackups},
		LockStaleAfter: types.Duration(DefaultLockStale),
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(DefaultWorkDir, DefaultHistoryFile),
		},
		Server: ServerConfig{Addr: DefaultServerAddr},
	}
}

// ErrNotFound is returned by Find when no config file exists.
var ErrNotFound = errors.New("no updater config found")

// Find searches for a config file in the standard locations.
// Search order: explicit path, $ELEVUPD_CONFIG, then the install directory.
func Find(explicitPath, installDir string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	if installDir == "" {
		installDir = "."
	}
	for _, name := range FileNames {
		path := filepath.Join(installDir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", ErrNotFound
}

// Load reads and parses a config file from the given path. Fields absent from
// the file keep their default values.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	format := detectFormat(path, content)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unable to detect file format for %s", path)
	}

	cfg, err := parse(content, format)
	if err != nil {
		return nil, err
	}
	cfg.Path = path

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Resolve finds and loads the config, falling back to Default when no file
// exists. installDir overrides the file's install_dir when non-empty.
func Resolve(explicitPath, installDir string) (*Config, error) {
	path, err := Find(explicitPath, installDir)
	var cfg *Config
	switch {
	case errors.Is(err, ErrNotFound):
		cfg = Default()
	case err != nil:
		return nil, err
	default:
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}

	if installDir != "" {
		cfg.InstallDir = installDir
	}
	if cfg.InstallDir == "" {
		cfg.InstallDir = "."
	}
	return cfg, nil
}

// InPath resolves p against the install directory unless it is absolute.
func (c *Config) InPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.InstallDir, p)
}

// VersionPath returns the absolute-or-install-relative version file path.
func (c *Config) VersionPath() string {
	return c.InPath(c.VersionFile)
}

// BackupRoot returns the directory that holds backup snapshots.
func (c *Config) BackupRoot() string {
	if c.Backup.Dir == "" {
		return c.InstallDir
	}
	return c.InPath(c.Backup.Dir)
}

// WorkDir returns the updater's private directory inside the installation.
func (c *Config) WorkDir() string {
	return c.InPath(DefaultWorkDir)
}

// LockPath returns the installation lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.WorkDir(), "lock")
}

// HistoryPath returns the sqlite ledger path, empty when history is disabled.
func (c *Config) HistoryPath() string {
	if !c.History.Enabled {
		return ""
	}
	if c.History.Path == "" {
		return filepath.Join(c.WorkDir(), DefaultHistoryFile)
	}
	return c.InPath(c.History.Path)
}

// OwnedPaths returns the install-relative slash paths the updater itself
// writes: files such as the version record and this config, and directories
// such as the work dir and a dedicated backup root. Paths outside the install
// dir are omitted. A backup root equal to the install dir is not listed.
func (c *Config) OwnedPaths() (files, dirs []string) {
	for _, p := range []string{c.VersionPath(), c.Path, c.HistoryPath()} {
		if rel, ok := c.relInstall(p); ok {
			files = append(files, rel)
		}
	}
	for _, p := range []string{c.WorkDir(), c.BackupRoot()} {
		if rel, ok := c.relInstall(p); ok {
			dirs = append(dirs, rel)
		}
	}
	return files, dirs
}

// relInstall reports p relative to the install dir when p lies strictly
// inside it.
func (c *Config) relInstall(p string) (string, bool) {
	if p == "" {
		return "", false
	}
	root, err := filepath.Abs(c.InstallDir)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
