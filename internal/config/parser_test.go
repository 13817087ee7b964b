package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		content  string
		expected Format
	}{
		{"yaml extension", "updater.yaml", "", FormatYAML},
		{"yml extension", "updater.yml", "", FormatYAML},
		{"toml extension", "updater.toml", "", FormatTOML},
		{"json extension", "updater.json", "", FormatJSON},
		{"json content", "updater", `{"version_file": "v.txt"}`, FormatJSON},
		{"yaml content", "updater", `version_file: v.txt`, FormatYAML},
		{"toml content", "updater", `version_file = "v.txt"`, FormatTOML},
		{"toml section", "updater", "# comment\n[release]\n", FormatTOML},
		{"unknown content", "updater", `plain`, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectFormat(tt.path, []byte(tt.content))
			if got != tt.expected {
				t.Errorf("detectFormat() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")
	t.Setenv("EMPTY_VAR", "")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple var", "${TEST_VAR}", "test_value"},
		{"var with default", "${MISSING_VAR:-default_value}", "default_value"},
		{"existing var ignores default", "${TEST_VAR:-default_value}", "test_value"},
		{"empty var uses default", "${EMPTY_VAR:-default_value}", "default_value"},
		{"missing var no default", "${MISSING_VAR}", ""},
		{"no var", "plain text", "plain text"},
		{"mixed content", "prefix ${TEST_VAR} suffix", "prefix test_value suffix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(expandEnvVars([]byte(tt.input)))
			if got != tt.expected {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseYAML(t *testing.T) {
	t.Setenv("ELEVUPD_TEST_TOKEN", "secret")

	content := []byte(`
default_version: 0.9.0
release:
  metadata_url: https://example.com/releases/latest
  token: ${ELEVUPD_TEST_TOKEN}
  check_timeout: 3s
download:
  timeout: 1m
protected:
  - postgre.py
  - .venv/
backup:
  keep: 4
server:
  exit_after_update: true
`)

	cfg, err := parse(content, FormatYAML)
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.DefaultVersion != "0.9.0" {
		t.Errorf("DefaultVersion = %s, want 0.9.0", cfg.DefaultVersion)
	}
	if cfg.Release.MetadataURL != "https://example.com/releases/latest" {
		t.Errorf("MetadataURL = %s", cfg.Release.MetadataURL)
	}
	if cfg.Release.Token != "secret" {
		t.Errorf("Token = %q, want secret", cfg.Release.Token)
	}
	if cfg.Release.CheckTimeout.Std() != 3*time.Second {
		t.Errorf("CheckTimeout = %v, want 3s", cfg.Release.CheckTimeout)
	}
	if cfg.Download.Timeout.Std() != time.Minute {
		t.Errorf("Download.Timeout = %v, want 1m", cfg.Download.Timeout)
	}
	if len(cfg.Protected) != 2 {
		t.Errorf("Protected count = %d, want 2", len(cfg.Protected))
	}
	if cfg.Backup.Keep != 4 {
		t.Errorf("Backup.Keep = %d, want 4", cfg.Backup.Keep)
	}
	if !cfg.Server.ExitAfterUpdate {
		t.Error("Server.ExitAfterUpdate should be true")
	}

	// Untouched fields keep their defaults
	if cfg.Release.FallbackURL != DefaultFallbackURL {
		t.Errorf("FallbackURL = %s, want default", cfg.Release.FallbackURL)
	}
	if cfg.VersionFile != DefaultVersionFile {
		t.Errorf("VersionFile = %s, want default", cfg.VersionFile)
	}
	if len(cfg.Critical) != len(DefaultCritical()) {
		t.Errorf("Critical count = %d, want default", len(cfg.Critical))
	}
}

func TestParseTOML(t *testing.T) {
	content := []byte(`
version_file = "VERSION"
protected = ["*.db", "logs/"]

[release]
check_timeout = "15s"

[history]
enabled = false
`)

	cfg, err := parse(content, FormatTOML)
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.VersionFile != "VERSION" {
		t.Errorf("VersionFile = %s, want VERSION", cfg.VersionFile)
	}
	if cfg.Release.CheckTimeout.Std() != 15*time.Second {
		t.Errorf("CheckTimeout = %v, want 15s", cfg.Release.CheckTimeout)
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled should be false")
	}
	if len(cfg.Protected) != 2 || cfg.Protected[1] != "logs/" {
		t.Errorf("Protected = %v", cfg.Protected)
	}
}

func TestParseJSON(t *testing.T) {
	content := []byte(`{"backup": {"dir": "snapshots", "keep": 2}, "lock_stale_after": "30m"}`)

	cfg, err := parse(content, FormatJSON)
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.Backup.Dir != "snapshots" || cfg.Backup.Keep != 2 {
		t.Errorf("Backup = %+v", cfg.Backup)
	}
	if cfg.LockStaleAfter.Std() != 30*time.Minute {
		t.Errorf("LockStaleAfter = %v, want 30m", cfg.LockStaleAfter)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		format  Format
	}{
		{"bad yaml", "release: [unclosed", FormatYAML},
		{"bad toml", "release = = 1", FormatTOML},
		{"bad json", "{", FormatJSON},
		{"bad duration", "release:\n  check_timeout: soon\n", FormatYAML},
		{"unknown format", "x", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parse([]byte(tt.content), tt.format); err == nil {
				t.Error("parse() expected error")
			}
		})
	}
}

func TestFind(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	t.Run("explicit path", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "custom.yaml")
		if err := os.WriteFile(path, []byte("version_file: v\n"), 0644); err != nil {
			t.Fatal(err)
		}
		got, err := Find(path, "")
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if got != path {
			t.Errorf("Find() = %s, want %s", got, path)
		}
	})

	t.Run("explicit path missing", func(t *testing.T) {
		if _, err := Find(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
			t.Error("Find() expected error for missing explicit path")
		}
	})

	t.Run("env var", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "env.toml")
		if err := os.WriteFile(path, []byte(`version_file = "v"`), 0644); err != nil {
			t.Fatal(err)
		}
		t.Setenv(EnvConfigPath, path)
		got, err := Find("", t.TempDir())
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if got != path {
			t.Errorf("Find() = %s, want %s", got, path)
		}
	})

	t.Run("install dir", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "updater.yml")
		if err := os.WriteFile(path, []byte("version_file: v\n"), 0644); err != nil {
			t.Fatal(err)
		}
		got, err := Find("", dir)
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if got != path {
			t.Errorf("Find() = %s, want %s", got, path)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := Find("", t.TempDir()); err != ErrNotFound {
			t.Errorf("Find() error = %v, want ErrNotFound", err)
		}
	})
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	t.Run("defaults when missing", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := Resolve("", dir)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if cfg.InstallDir != dir {
			t.Errorf("InstallDir = %s, want %s", cfg.InstallDir, dir)
		}
		if cfg.Path != "" {
			t.Errorf("Path = %s, want empty", cfg.Path)
		}
		if cfg.VersionPath() != filepath.Join(dir, DefaultVersionFile) {
			t.Errorf("VersionPath() = %s", cfg.VersionPath())
		}
		if cfg.HistoryPath() != filepath.Join(dir, DefaultWorkDir, DefaultHistoryFile) {
			t.Errorf("HistoryPath() = %s", cfg.HistoryPath())
		}
		if cfg.BackupRoot() != dir {
			t.Errorf("BackupRoot() = %s, want %s", cfg.BackupRoot(), dir)
		}
	})

	t.Run("loads file in install dir", func(t *testing.T) {
		dir := t.TempDir()
		content := "backup:\n  dir: snaps\nhistory:\n  enabled: false\n"
		if err := os.WriteFile(filepath.Join(dir, "updater.yaml"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Resolve("", dir)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if cfg.BackupRoot() != filepath.Join(dir, "snaps") {
			t.Errorf("BackupRoot() = %s", cfg.BackupRoot())
		}
		if cfg.HistoryPath() != "" {
			t.Errorf("HistoryPath() = %s, want empty when disabled", cfg.HistoryPath())
		}
	})

	t.Run("invalid file", func(t *testing.T) {
		dir := t.TempDir()
		content := "release:\n  metadata_url: ftp://example.com\n"
		if err := os.WriteFile(filepath.Join(dir, "updater.yaml"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Resolve("", dir); err == nil {
			t.Error("Resolve() expected validation error")
		}
	})
}

func TestOwnedPaths(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantFiles []string
		wantDirs  []string
	}{
		{
			name:      "defaults",
			mutate:    func(c *Config) {},
			wantFiles: []string{"version.txt", ".update/history.db"},
			wantDirs:  []string{".update"},
		},
		{
			name: "custom version file and config",
			mutate: func(c *Config) {
				c.VersionFile = "VERSION"
				c.Path = filepath.Join(dir, "conf", "updater.toml")
				c.Backup.Dir = "snapshots"
			},
			wantFiles: []string{"VERSION", "conf/updater.toml", ".update/history.db"},
			wantDirs:  []string{".update", "snapshots"},
		},
		{
			name: "paths outside the install dir",
			mutate: func(c *Config) {
				c.VersionFile = filepath.Join(outside, "version.txt")
				c.Path = filepath.Join(outside, "updater.yaml")
				c.Backup.Dir = outside
				c.History.Enabled = false
			},
			wantDirs: []string{".update"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.InstallDir = dir
			tt.mutate(cfg)
			files, dirs := cfg.OwnedPaths()
			if strings.Join(files, ",") != strings.Join(tt.wantFiles, ",") {
				t.Errorf("files = %v, want %v", files, tt.wantFiles)
			}
			if strings.Join(dirs, ",") != strings.Join(tt.wantDirs, ",") {
				t.Errorf("dirs = %v, want %v", dirs, tt.wantDirs)
			}
		})
	}
}
