// Package cmd implements the elevupd command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cl4nyz/elevadores-updater/internal/output"
	"github.com/cl4nyz/elevadores-updater/internal/types"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	installDir   string
	logFormat    string
	verbose      bool
	quiet        bool
)

// build metadata, set by Execute
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// logger is built once the global flags are parsed.
var logger = log.New(io.Discard)

func Execute(version, commit, date string) error {
	buildVersion, buildCommit, buildDate = version, commit, date

	rootCmd := &cobra.Command{
		Use:   "elevupd",
		Short: "Self-updater for the Elevadores web application",
		Long: `elevupd checks for new releases of an Elevadores installation and applies
them in place: it snapshots the critical files, downloads and stages the
release, replaces every file that is not protected, and rolls back on failure.

Settings come from updater.yaml in the install directory (see 'elevupd init').`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to updater config")
	rootCmd.PersistentFlags().StringVarP(&installDir, "dir", "C", "", "Installation directory (default: config install_dir or .)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json, logfmt")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newApplyCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "logfmt"}, cobra.ShellCompDirectiveNoFileComp
	})

	// An interrupt cancels the running command, so an update in progress
	// rolls back and releases its lock. A second one exits immediately.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	return rootCmd.ExecuteContext(ctx)
}

// newLogger builds the process logger from the global flags.
func newLogger(w io.Writer) (*log.Logger, error) {
	format, err := types.ParseLogFormat(logFormat)
	if err != nil {
		return nil, err
	}
	if verbose && quiet {
		return nil, fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}

	l := log.NewWithOptions(w, log.Options{
		Prefix:          "elevupd",
		ReportTimestamp: true,
	})
	switch {
	case verbose:
		l.SetLevel(log.DebugLevel)
	case quiet:
		l.SetLevel(log.ErrorLevel)
	default:
		l.SetLevel(log.InfoLevel)
	}
	switch format {
	case types.LogFormatJSON:
		l.SetFormatter(log.JSONFormatter)
	case types.LogFormatLogfmt:
		l.SetFormatter(log.LogfmtFormatter)
	default:
		l.SetFormatter(log.TextFormatter)
	}
	return l, nil
}

// newWriter returns an output writer for the -o flag.
func newWriter(w io.Writer) (*output.Writer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(w, format), nil
}

// progressWriter returns where the download progress goes, nil for none.
func progressWriter() io.Writer {
	if quiet || outputFormat != string(output.FormatText) {
		return nil
	}
	return os.Stderr
}
