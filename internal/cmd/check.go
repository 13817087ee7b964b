package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cl4nyz/elevadores-updater/internal/update"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check whether a new release is available",
		Long: `Check queries the release source and compares the latest release with the
installed version. It never changes the installation.

If the release source is unreachable the fallback artifact is reported with
version "latest".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), os.Stdout)
		},
	}
}

func runCheck(ctx context.Context, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	w, err := newWriter(stdout)
	if err != nil {
		return err
	}
	return w.Write(checkReport{*e.manager.Check(ctx)})
}

// checkReport renders a VersionInfo for humans.
type checkReport struct {
	update.VersionInfo `yaml:",inline"`
}

func (r checkReport) RenderText(w io.Writer) error {
	_, _ = fmt.Fprintf(w, "Current version: %s\n", r.CurrentVersion)
	_, _ = fmt.Fprintf(w, "Latest release:  %s\n", r.RemoteVersion)
	if r.PublishedAt != nil {
		_, _ = fmt.Fprintf(w, "Published:       %s\n", r.PublishedAt.Local().Format("2006-01-02 15:04"))
	}
	if r.Degraded {
		_, _ = fmt.Fprintln(w, "\nRelease source unreachable; the fallback artifact would be installed.")
	}

	if !r.Available {
		_, _ = fmt.Fprintln(w, "\nAlready up to date.")
		return nil
	}

	_, _ = fmt.Fprintf(w, "\nUpdate available: %s -> %s\n", r.CurrentVersion, r.RemoteVersion)
	if r.ReleaseURL != "" {
		_, _ = fmt.Fprintf(w, "Release page: %s\n", r.ReleaseURL)
	}
	_, err := fmt.Fprintln(w, "Run 'elevupd apply' to install.")
	return err
}
