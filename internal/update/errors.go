package update

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUpdateInProgress is returned when another attempt holds the installation.
	ErrUpdateInProgress = errors.New("update already in progress")
	// ErrShortDownload is returned when the artifact stream ends early.
	ErrShortDownload = errors.New("download ended before the advertised length")
	// ErrUnsupportedArchive is returned for artifacts that are neither zip nor tar.gz.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	// ErrUnsafeArchivePath is returned for archive entries that escape the extraction root.
	ErrUnsafeArchivePath = errors.New("archive entry escapes extraction root")
	// ErrArchiveTooLarge is returned when an archive entry exceeds the size bound.
	ErrArchiveTooLarge = errors.New("archive entry too large")
)

// StageError records which pipeline stage failed.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RollbackError means restoring the backup failed after an apply failure.
// The live tree may be inconsistent.
type RollbackError struct {
	Cause error // The failure that triggered the rollback
	Err   error // The failure of the rollback itself
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed: %v (after: %v)", e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}

// FileError is one failed file copy during apply.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// ApplyError aggregates the per-file failures of one apply pass.
type ApplyError struct {
	Failures []FileError
}

func (e *ApplyError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("failed to apply %s", e.Failures[0])
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("failed to apply %d files: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *ApplyError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
