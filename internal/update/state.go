package update

import (
	"errors"
	"fmt"
)

const (
	// StateIdle means no attempt is running.
	StateIdle State = iota
	// StateCheckingUpdate means release metadata is being resolved.
	StateCheckingUpdate
	// StateUpToDate means the check found nothing to apply.
	StateUpToDate
	// StateUpdateAvailable means a release differs from the installed version.
	StateUpdateAvailable
	// StateBackingUp means critical files are being snapshotted.
	StateBackingUp
	// StateDownloading means the artifact is being fetched.
	StateDownloading
	// StateExtracting means the artifact is being staged.
	StateExtracting
	// StateApplying means live files are being replaced.
	StateApplying
	// StatePersisting means the new version is being recorded.
	StatePersisting
	// StateRollingBack means the snapshot is being restored.
	StateRollingBack
	// StateCleanup means scratch directories are being removed.
	StateCleanup
)

// ErrInvalidState is returned when a State value is not a defined state.
var ErrInvalidState = errors.New("invalid state")

type (
	// State is a step of the update state machine.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	// It wraps ErrInvalidState for errors.Is() compatibility.
	InvalidStateError struct {
		Value State
	}
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingUpdate:
		return "checking_update"
	case StateUpToDate:
		return "up_to_date"
	case StateUpdateAvailable:
		return "update_available"
	case StateBackingUp:
		return "backing_up"
	case StateDownloading:
		return "downloading"
	case StateExtracting:
		return "extracting"
	case StateApplying:
		return "applying"
	case StatePersisting:
		return "persisting"
	case StateRollingBack:
		return "rolling_back"
	case StateCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states render by name.
func (s State) MarshalText() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return []byte(s.String()), nil
}

// Error implements the error interface for InvalidStateError.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %d", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// Validate returns nil if the State is one of the defined states.
func (s State) Validate() error {
	if s < StateIdle || s > StateCleanup {
		return &InvalidStateError{Value: s}
	}
	return nil
}

// IsBusy returns true while an attempt is running.
func (s State) IsBusy() bool {
	return s != StateIdle
}
