package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cl4nyz/elevadores-updater/internal/update"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show updater and installed application versions",
		Long: `Display the elevupd build and the application version recorded in the
installation's version file.

Use 'elevupd check' to look for a new release.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(os.Stdout)
		},
	}
}

type versionReport struct {
	Updater   string `json:"updater" yaml:"updater"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"buildDate" yaml:"build_date"`
	Installed string `json:"installed" yaml:"installed"`
	Dir       string `json:"installDir" yaml:"install_dir"`
}

func (r versionReport) RenderText(w io.Writer) error {
	_, _ = fmt.Fprintf(w, "elevupd version %s (%s, %s)\n", r.Updater, r.Commit, r.BuildDate)
	_, err := fmt.Fprintf(w, "installed application: %s (%s)\n", r.Installed, r.Dir)
	return err
}

func runVersion(stdout io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w, err := newWriter(stdout)
	if err != nil {
		return err
	}

	store := update.NewVersionStore(cfg.VersionPath(), cfg.DefaultVersion)
	return w.Write(versionReport{
		Updater:   buildVersion,
		Commit:    buildCommit,
		BuildDate: buildDate,
		Installed: store.Read(),
		Dir:       cfg.InstallDir,
	})
}
