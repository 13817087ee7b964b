package update

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// installLock is a lock file guarding one installation across processes.
// The file holds the owner's pid and acquisition time, one per line.
type installLock struct {
	path  string
	stale time.Duration
	now   func() time.Time
}

// acquire creates the lock file exclusively. A lock whose owner process is
// gone, or that is older than the stale age, is treated as abandoned and
// replaced once.
func (l *installLock) acquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), l.now().UTC().Format(time.RFC3339))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			return func() { _ = os.Remove(l.path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, held, err := l.owner()
		if err != nil {
			return nil, err
		}
		abandoned := pid > 0 && !processAlive(pid)
		if !abandoned && (l.stale <= 0 || l.now().Sub(held) < l.stale) {
			return nil, fmt.Errorf("%w: lock %s held since %s", ErrUpdateInProgress, l.path, held.Format(time.RFC3339))
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: lock %s was taken concurrently", ErrUpdateInProgress, l.path)
}

// owner reads the owner pid and acquisition time from the lock file. An
// unreadable file yields pid 0 and its modification time.
func (l *installLock) owner() (int, time.Time, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, fmt.Errorf("failed to read lock file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	var lines []string
	for sc.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if len(lines) == 2 {
		if pid, err := strconv.Atoi(lines[0]); err == nil {
			if t, err := time.Parse(time.RFC3339, lines[1]); err == nil {
				return pid, t, nil
			}
		}
	}

	info, err := f.Stat()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to stat lock file: %w", err)
	}
	return 0, info.ModTime(), nil
}
