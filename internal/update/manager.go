package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/cl4nyz/elevadores-updater/internal/backup"
	"github.com/cl4nyz/elevadores-updater/internal/types"
)

// Attempt is the ledger entry of one update attempt that got past the check.
type Attempt struct {
	ID             string        `json:"id" yaml:"id"`
	StartedAt      time.Time     `json:"startedAt" yaml:"started_at"`
	FinishedAt     time.Time     `json:"finishedAt" yaml:"finished_at"`
	FromVersion    string        `json:"fromVersion" yaml:"from_version"`
	ToVersion      string        `json:"toVersion" yaml:"to_version"`
	Outcome        types.Outcome `json:"outcome" yaml:"outcome"`
	Message        string        `json:"message" yaml:"message"`
	BackupLocation string        `json:"backupLocation,omitempty" yaml:"backup_location,omitempty"`
	Updated        int           `json:"updated" yaml:"updated"`
	Skipped        int           `json:"skipped" yaml:"skipped"`
	Failed         int           `json:"failed" yaml:"failed"`
}

// Recorder persists attempts. Recording failures never fail an update.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// Manager orchestrates check, backup, download, staging, apply, persist,
// rollback and cleanup for one installation. At most one attempt runs at a
// time, both within the process and across processes sharing the lock file.
type Manager struct {
	installDir string
	store      *VersionStore
	resolver   *ReleaseResolver
	backups    *backup.Manager
	fetcher    *Fetcher
	stager     *Stager
	applier    *Applier

	lock       installLock
	scratchDir string
	recorder   Recorder
	logger     *log.Logger
	now        func() time.Time

	mu    sync.Mutex
	state atomic.Int32

	lastMu sync.RWMutex
	last   *Result
}

// NewManager wires the pipeline for the installation at installDir. The
// options are shared with the fetcher, stager and applier it builds.
func NewManager(installDir string, store *VersionStore, resolver *ReleaseResolver, classifier *Classifier, backups *backup.Manager, opts ...Option) *Manager {
	o := buildOptions(opts)

	lockPath := o.lockFile
	if lockPath == "" {
		lockPath = filepath.Join(installDir, ".update", "lock")
	}

	return &Manager{
		installDir: installDir,
		store:      store,
		resolver:   resolver,
		backups:    backups,
		fetcher:    NewFetcher(opts...),
		stager:     NewStager(opts...),
		applier:    NewApplier(installDir, classifier, opts...),
		lock:       installLock{path: lockPath, stale: o.lockStale, now: o.now},
		scratchDir: o.scratchDir,
		recorder:   o.recorder,
		logger:     o.logger,
		now:        o.now,
	}
}

// State returns the current state of the pipeline.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// LastResult returns the result of the most recent attempt, or nil.
func (m *Manager) LastResult() *Result {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last
}

// CurrentVersion returns the persisted version.
func (m *Manager) CurrentVersion() string {
	return m.store.Read()
}

// Check resolves the latest release against the installed version. It has no
// side effects and never fails.
func (m *Manager) Check(ctx context.Context) *VersionInfo {
	return m.resolver.Resolve(ctx, m.store.Read())
}

// Plan downloads and stages the release described by target and reports what
// an apply would change, without touching the live tree or taking a backup.
func (m *Manager) Plan(ctx context.Context, target Target) (*VersionInfo, *Plan, error) {
	if !m.mu.TryLock() {
		return nil, nil, ErrUpdateInProgress
	}
	defer m.mu.Unlock()

	info := m.Resolve(ctx, target)
	scratch, err := m.makeScratch()
	if err != nil {
		return info, nil, err
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	archive, err := m.fetcher.Download(ctx, info.DownloadURL, scratch)
	if err != nil {
		return info, nil, &StageError{Stage: StateDownloading, Err: err}
	}
	root, err := m.stager.Extract(ctx, archive, scratch)
	if err != nil {
		return info, nil, &StageError{Stage: StateExtracting, Err: err}
	}
	plan, err := m.applier.Plan(ctx, root)
	if err != nil {
		return info, nil, err
	}
	return info, plan, nil
}

// PerformUpdate runs one full attempt. A release that is not available ends
// the attempt with no side effects. Once a backup exists, failures during
// apply or persist, and any cancellation, restore the backup before
// returning. The returned Result is nil only when the attempt could not
// start, typically with ErrUpdateInProgress.
func (m *Manager) PerformUpdate(ctx context.Context, target Target) (*Result, error) {
	if !m.mu.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer m.mu.Unlock()

	release, err := m.lock.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	res := &Result{ID: uuid.NewString(), StartedAt: m.now()}
	err = m.run(ctx, target, res)
	res.FinishedAt = m.now()
	res.Success = err == nil

	m.transition(StateIdle)
	m.lastMu.Lock()
	m.last = res
	m.lastMu.Unlock()
	return res, err
}

func (m *Manager) run(ctx context.Context, target Target, res *Result) error {
	m.transition(StateCheckingUpdate)
	info := m.Resolve(ctx, target)
	res.FromVersion = info.CurrentVersion
	res.ToVersion = info.RemoteVersion

	if !info.Available {
		m.transition(StateUpToDate)
		res.ToVersion = info.CurrentVersion
		res.Message = fmt.Sprintf("already up to date (%s)", info.CurrentVersion)
		return nil
	}
	m.transition(StateUpdateAvailable)
	if info.Degraded {
		m.logger.Warn("release metadata unavailable, installing fallback artifact", "url", redactURL(info.DownloadURL))
	}

	m.transition(StateBackingUp)
	snap, err := m.backups.Create(ctx, info.CurrentVersion)
	if err != nil {
		return m.fail(res, &StageError{Stage: StateBackingUp, Err: err})
	}
	res.BackupLocation = snap.Dir

	scratch, err := m.makeScratch()
	if err != nil {
		return m.abort(ctx, res, snap, &StageError{Stage: StateDownloading, Err: err})
	}
	defer m.cleanup(scratch)

	m.transition(StateDownloading)
	archive, err := m.fetcher.Download(ctx, info.DownloadURL, scratch)
	if err != nil {
		return m.abort(ctx, res, snap, &StageError{Stage: StateDownloading, Err: err})
	}

	m.transition(StateExtracting)
	root, err := m.stager.Extract(ctx, archive, scratch)
	if err != nil {
		return m.abort(ctx, res, snap, &StageError{Stage: StateExtracting, Err: err})
	}

	m.transition(StateApplying)
	applied, err := m.applier.Apply(ctx, root)
	res.Applied = applied
	if err != nil {
		return m.rollback(res, snap, &StageError{Stage: StateApplying, Err: err})
	}

	m.transition(StatePersisting)
	if err := m.store.Write(info.RemoteVersion); err != nil {
		return m.rollback(res, snap, &StageError{Stage: StatePersisting, Err: err})
	}

	res.Message = fmt.Sprintf("updated %s -> %s (%d files updated, %d skipped)",
		info.CurrentVersion, info.RemoteVersion, len(applied.Updated), len(applied.Skipped))
	m.logger.Info("update applied", "from", info.CurrentVersion, "to", info.RemoteVersion, "backup", snap.ID)
	m.record(res, types.OutcomeSucceeded, 0)
	return nil
}

// Resolve checks for the latest release, then lets the target override the
// artifact URL and version.
func (m *Manager) Resolve(ctx context.Context, target Target) *VersionInfo {
	info := m.Check(ctx)
	if target.DownloadURL != "" {
		info.DownloadURL = target.DownloadURL
	}
	if v := NormalizeVersion(target.Version); v != "" {
		info.RemoteVersion = v
		info.Degraded = v == LatestSentinel
		info.Available = v != info.CurrentVersion
		info.Newer = IsNewer(v, info.CurrentVersion)
	}
	return info
}

// abort ends an attempt that failed before any live file was written. A
// cancellation still restores the snapshot, since the caller cannot tell
// how far the attempt got.
func (m *Manager) abort(ctx context.Context, res *Result, snap *backup.Snapshot, err error) error {
	if ctx.Err() != nil {
		return m.rollback(res, snap, err)
	}
	return m.fail(res, err)
}

func (m *Manager) fail(res *Result, err error) error {
	m.logger.Error("update failed", "err", err)
	res.Message = err.Error()
	m.record(res, types.OutcomeFailed, 0)
	return err
}

// rollback restores the snapshot over the live tree. It runs to completion
// even when the attempt's context was canceled.
func (m *Manager) rollback(res *Result, snap *backup.Snapshot, cause error) error {
	m.transition(StateRollingBack)
	m.logger.Warn("rolling back", "backup", snap.ID, "cause", cause)

	failed := failureCount(cause)
	if err := m.backups.Restore(context.Background(), snap); err != nil {
		rbErr := &RollbackError{Cause: cause, Err: err}
		m.logger.Error("rollback failed, installation may be inconsistent", "backup", snap.Dir, "err", err)
		res.Message = rbErr.Error()
		m.record(res, types.OutcomeRollbackFailed, failed)
		return rbErr
	}

	res.RolledBack = true
	res.Message = fmt.Sprintf("%v; restored backup %s", cause, snap.ID)
	if res.Applied != nil {
		res.NotRestored = notCaptured(res.Applied.Updated, snap.Paths)
	}
	if n := len(res.NotRestored); n > 0 {
		m.logger.Warn("files outside the backup keep the new release", "count", n, "paths", res.NotRestored)
		res.Message += fmt.Sprintf(" (%d updated files not in the backup were left as installed)", n)
	}
	m.record(res, types.OutcomeRolledBack, failed)
	return cause
}

// notCaptured returns the updated paths the snapshot does not cover.
func notCaptured(updated, captured []string) []string {
	have := make(map[string]struct{}, len(captured))
	for _, p := range captured {
		have[p] = struct{}{}
	}
	var out []string
	for _, p := range updated {
		if _, ok := have[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// RestoreBackup restores the snapshot named by id ("latest" for the newest)
// over the live tree and resets the persisted version to the one recorded in
// the snapshot. It holds the same locks as PerformUpdate.
func (m *Manager) RestoreBackup(ctx context.Context, id string) (*backup.Snapshot, error) {
	if !m.mu.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer m.mu.Unlock()

	release, err := m.lock.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	snap, err := m.backups.Get(id)
	if err != nil {
		return nil, err
	}

	m.transition(StateRollingBack)
	defer m.transition(StateIdle)
	if err := m.backups.Restore(ctx, snap); err != nil {
		return snap, err
	}
	if snap.Version != "" {
		if err := m.store.Write(snap.Version); err != nil {
			return snap, fmt.Errorf("backup restored but version not reset: %w", err)
		}
	}
	m.logger.Info("backup restored", "id", snap.ID, "version", snap.Version)
	return snap, nil
}

func (m *Manager) makeScratch() (string, error) {
	if m.scratchDir != "" {
		if err := os.MkdirAll(m.scratchDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create scratch directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(m.scratchDir, "elevupd-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return dir, nil
}

func (m *Manager) cleanup(scratch string) {
	m.transition(StateCleanup)
	if err := os.RemoveAll(scratch); err != nil {
		m.logger.Warn("failed to remove scratch directory", "dir", scratch, "err", err)
	}
}

func (m *Manager) transition(to State) {
	from := State(m.state.Swap(int32(to)))
	if from != to {
		m.logger.Debug("state transition", "from", from, "to", to)
	}
}

func (m *Manager) record(res *Result, outcome types.Outcome, failed int) {
	if m.recorder == nil {
		return
	}

	a := Attempt{
		ID:             res.ID,
		StartedAt:      res.StartedAt,
		FinishedAt:     m.now(),
		FromVersion:    res.FromVersion,
		ToVersion:      res.ToVersion,
		Outcome:        outcome,
		Message:        res.Message,
		BackupLocation: res.BackupLocation,
		Failed:         failed,
	}
	if res.Applied != nil {
		a.Updated = len(res.Applied.Updated)
		a.Skipped = len(res.Applied.Skipped) - failed
	}

	if err := m.recorder.Record(context.Background(), a); err != nil {
		m.logger.Warn("failed to record update attempt", "id", res.ID, "err", err)
	}
}

func failureCount(err error) int {
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return len(applyErr.Failures)
	}
	return 0
}
