package update

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/cl4nyz/elevadores-updater/internal/fsutil"
)

// Applier copies a staged tree over the live installation, honoring the
// classifier.
type Applier struct {
	liveDir    string
	classifier *Classifier
	logger     *log.Logger
}

// NewApplier creates an applier for the installation at liveDir.
func NewApplier(liveDir string, classifier *Classifier, opts ...Option) *Applier {
	o := buildOptions(opts)
	return &Applier{liveDir: liveDir, classifier: classifier, logger: o.logger}
}

// Apply replaces every updatable live file with its staged counterpart and
// records protected files as skipped. Per-file failures do not stop the pass;
// they are collected and returned as an *ApplyError alongside the partial
// result. Cancellation stops the pass between files.
func (a *Applier) Apply(ctx context.Context, stagedRoot string) (*ApplyResult, error) {
	result := &ApplyResult{Updated: []string{}, Skipped: []string{}}
	var failures []FileError

	err := fsutil.WalkFiles(stagedRoot, func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if rule, protected := a.classifier.Match(rel); protected {
			a.logger.Debug("protected, skipped", "path", rel, "rule", rule.String())
			result.Skipped = append(result.Skipped, rel)
			return nil
		}

		src := filepath.Join(stagedRoot, filepath.FromSlash(rel))
		dst := filepath.Join(a.liveDir, filepath.FromSlash(rel))
		if err := fsutil.ReplaceFile(src, dst); err != nil {
			a.logger.Warn("failed to update file", "path", rel, "err", err)
			failures = append(failures, FileError{Path: rel, Err: err})
			result.Skipped = append(result.Skipped, rel)
			return nil
		}

		result.Updated = append(result.Updated, rel)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("applying staged tree: %w", err)
	}

	a.logger.Info("apply finished", "updated", len(result.Updated), "skipped", len(result.Skipped), "failed", len(failures))
	if len(failures) > 0 {
		return result, &ApplyError{Failures: failures}
	}
	return result, nil
}

// Plan classifies the staged tree without writing anything.
func (a *Applier) Plan(ctx context.Context, stagedRoot string) (*Plan, error) {
	plan := &Plan{Update: []string{}, Unchanged: []string{}, Protected: []string{}}

	err := fsutil.WalkFiles(stagedRoot, func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !a.classifier.IsUpdatable(rel) {
			plan.Protected = append(plan.Protected, rel)
			return nil
		}

		same, err := fsutil.SameContents(
			filepath.Join(stagedRoot, filepath.FromSlash(rel)),
			filepath.Join(a.liveDir, filepath.FromSlash(rel)),
		)
		if err != nil {
			return fmt.Errorf("comparing %s: %w", rel, err)
		}
		if same {
			plan.Unchanged = append(plan.Unchanged, rel)
		} else {
			plan.Update = append(plan.Update, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("planning staged tree: %w", err)
	}
	return plan, nil
}
