// Package update implements the self-update pipeline of an installation:
// release resolution, artifact download and staging, classified file
// replacement, and the orchestrating state machine with rollback.
package update

import (
	"time"
)

// VersionInfo is the result of one release check.
type VersionInfo struct {
	Available      bool       `json:"available" yaml:"available"`
	CurrentVersion string     `json:"currentVersion" yaml:"current_version"`
	RemoteVersion  string     `json:"remoteVersion" yaml:"remote_version"`
	DownloadURL    string     `json:"downloadUrl" yaml:"download_url"`
	ReleaseNotes   string     `json:"releaseNotes" yaml:"release_notes"`
	PublishedAt    *time.Time `json:"publishedAt" yaml:"published_at"`
	ReleaseURL     string     `json:"releaseUrl,omitempty" yaml:"release_url,omitempty"`

	// Degraded is set when metadata could not be fetched and the result was
	// synthesized with RemoteVersion "latest". Treat it as "unknown, verify".
	Degraded bool `json:"degraded" yaml:"degraded"`
	// Newer is set when both versions are semantic versions and the remote
	// one is greater.
	Newer bool `json:"newer" yaml:"newer"`
}

// ApplyResult is the audit record of one apply pass.
type ApplyResult struct {
	Updated []string `json:"updatedPaths" yaml:"updated_paths"`
	Skipped []string `json:"skippedPaths" yaml:"skipped_paths"`
}

// Plan is a dry-run classification of a staged tree.
type Plan struct {
	Update    []string `json:"update" yaml:"update"`
	Unchanged []string `json:"unchanged" yaml:"unchanged"`
	Protected []string `json:"protected" yaml:"protected"`
}

// Target pins the release an apply should install. Empty fields are taken
// from a fresh check.
type Target struct {
	DownloadURL string `json:"downloadUrl"`
	Version     string `json:"version"`
}

// Result is the outcome of one PerformUpdate call.
type Result struct {
	ID             string       `json:"id" yaml:"id"`
	Success        bool         `json:"success" yaml:"success"`
	Message        string       `json:"message" yaml:"message"`
	FromVersion    string       `json:"fromVersion" yaml:"from_version"`
	ToVersion      string       `json:"toVersion" yaml:"to_version"`
	BackupLocation string       `json:"backupLocation,omitempty" yaml:"backup_location,omitempty"`
	RolledBack     bool         `json:"rolledBack" yaml:"rolled_back"`
	Applied        *ApplyResult `json:"applied,omitempty" yaml:"applied,omitempty"`
	NotRestored    []string     `json:"notRestored,omitempty" yaml:"not_restored,omitempty"` // Updated paths a rollback could not restore
	StartedAt      time.Time    `json:"startedAt" yaml:"started_at"`
	FinishedAt     time.Time    `json:"finishedAt" yaml:"finished_at"`
}

// ProgressFunc receives download progress. total is -1 when the server did
// not advertise a size.
type ProgressFunc func(received, total int64)
