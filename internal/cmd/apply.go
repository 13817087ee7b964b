package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cl4nyz/elevadores-updater/internal/interactive"
	"github.com/cl4nyz/elevadores-updater/internal/output"
	"github.com/cl4nyz/elevadores-updater/internal/update"
)

// errConfirmationRequired is returned on a non-interactive stdin without --yes.
var errConfirmationRequired = errors.New("refusing to update without confirmation: stdin is not a terminal (use --yes)")

type applyOptions struct {
	yes    bool
	dryRun bool
	target update.Target
}

func newApplyCmd() *cobra.Command {
	var opts applyOptions

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Download and install the latest release",
		Long: `Apply installs the latest release over the installation.

The critical files are snapshotted first. Every file of the release is then
copied over the live tree except the protected ones (local database settings,
the virtualenv, logs, databases). If anything fails after the snapshot was
taken, the snapshot is restored.

Examples:
  elevupd apply                   # Confirm, then update to the latest release
  elevupd apply --dry-run         # Show which files would change
  elevupd apply --yes             # Update without asking
  elevupd apply --url https://example.com/v1.2.0.zip --version v1.2.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompter := interactive.NewPrompterWithIO(cmd.InOrStdin(), os.Stdout)
			return runApply(cmd.Context(), opts, prompter, interactive.IsTerminal(), os.Stdout)
		},
	}

	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Skip confirmation prompt")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Download and classify the release without changing anything")
	cmd.Flags().StringVar(&opts.target.DownloadURL, "url", "", "Install this artifact instead of the resolved one")
	cmd.Flags().StringVar(&opts.target.Version, "version", "", "Version to record for the installed artifact")

	return cmd
}

func runApply(ctx context.Context, opts applyOptions, prompter *interactive.Prompter, interactiveIn bool, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w, err := newWriter(stdout)
	if err != nil {
		return err
	}

	var extra []update.Option
	var progress *output.DownloadProgress
	if pw := progressWriter(); pw != nil {
		progress = output.NewDownloadProgress(pw)
		extra = append(extra, update.WithProgress(progress.Update))
	}

	e, err := newEnv(extra...)
	if err != nil {
		return err
	}
	defer e.Close()

	if opts.dryRun {
		info, plan, err := e.manager.Plan(ctx, opts.target)
		finishProgress(progress)
		if err != nil {
			return err
		}
		return w.Write(planReport{Info: info, Plan: plan})
	}

	if !opts.yes {
		info := e.manager.Resolve(ctx, opts.target)
		if info.Available {
			if !interactiveIn {
				return errConfirmationRequired
			}
			if !prompter.ConfirmUpdate(info) {
				return nil
			}
			// Install exactly the release that was confirmed.
			opts.target = update.Target{DownloadURL: info.DownloadURL, Version: info.RemoteVersion}
		}
	}

	res, err := e.manager.PerformUpdate(ctx, opts.target)
	finishProgress(progress)
	if res != nil {
		if werr := w.Write(applyReport{*res}); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func finishProgress(p *output.DownloadProgress) {
	if p != nil {
		p.Finish()
	}
}

// planReport is the dry-run output.
type planReport struct {
	Info *update.VersionInfo `json:"release" yaml:"release"`
	Plan *update.Plan        `json:"plan" yaml:"plan"`
}

func (r planReport) RenderText(w io.Writer) error {
	_, _ = fmt.Fprintf(w, "Release %s (installed %s)\n\n", r.Info.RemoteVersion, r.Info.CurrentVersion)
	printPaths(w, "Would update", "~", r.Plan.Update)
	printPaths(w, "Protected", "!", r.Plan.Protected)
	_, err := fmt.Fprintf(w, "\n%d to update, %d unchanged, %d protected\n",
		len(r.Plan.Update), len(r.Plan.Unchanged), len(r.Plan.Protected))
	return err
}

func printPaths(w io.Writer, title, symbol string, paths []string) {
	if len(paths) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "%s:\n", title)
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "  %s %s\n", symbol, p)
	}
}

// applyReport renders the result of one attempt.
type applyReport struct {
	update.Result `yaml:",inline"`
}

func (r applyReport) RenderText(w io.Writer) error {
	switch {
	case r.Success && r.Applied == nil:
		_, _ = fmt.Fprintf(w, "Already up to date (%s)\n", r.ToVersion)
		return nil
	case r.Success:
		_, _ = fmt.Fprintf(w, "Updated %s -> %s\n", r.FromVersion, r.ToVersion)
		_, _ = fmt.Fprintf(w, "  %d files updated, %d skipped\n", len(r.Applied.Updated), len(r.Applied.Skipped))
		_, _ = fmt.Fprintf(w, "  Backup: %s\n", r.BackupLocation)
		_, err := fmt.Fprintln(w, "\nRestart the application to load the new version.")
		return err
	}

	_, _ = fmt.Fprintf(w, "Update failed: %s\n", strings.TrimSpace(r.Message))
	if r.RolledBack {
		_, _ = fmt.Fprintf(w, "  Restored backup %s\n", r.BackupLocation)
	} else if r.BackupLocation != "" {
		_, _ = fmt.Fprintf(w, "  Backup kept at %s\n", r.BackupLocation)
	}
	return nil
}
