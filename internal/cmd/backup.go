package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cl4nyz/elevadores-updater/internal/backup"
	"github.com/cl4nyz/elevadores-updater/internal/interactive"
	"github.com/cl4nyz/elevadores-updater/internal/output"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage pre-update snapshots",
		Long: `Backup manages the snapshots taken before every update.

Snapshots are backup_YYYYMMDD_HHMMSS directories (in the install directory
unless backup.dir is set) holding a copy of the critical files.

Updates never prune snapshots; run 'elevupd backup prune' to remove old ones.`,
	}

	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupRestoreCmd())
	cmd.AddCommand(newBackupDeleteCmd())
	cmd.AddCommand(newBackupPruneCmd())

	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all backups",
		Long:  `List displays all snapshots with their creation time, version, and size.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupList(os.Stdout)
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore from a backup",
		Long: `Restore copies a snapshot's files back over the installation and resets
the recorded version to the one the snapshot was taken from.

Use 'latest' as the ID to restore the most recent backup.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompter := interactive.NewPrompterWithIO(cmd.InOrStdin(), os.Stdout)
			return runBackupRestore(cmd.Context(), args[0], yes, prompter, os.Stdout)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a backup",
		Long:  `Delete removes a snapshot by its ID.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupDelete(args[0], os.Stdout)
		},
	}
}

func newBackupPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old backups",
		Long: `Prune deletes old snapshots, keeping only the most recent N.

By default, keeps backup.keep snapshots from the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = -1
			}
			return runBackupPrune(keep, os.Stdout)
		},
	}

	cmd.Flags().IntVar(&keep, "keep", backup.DefaultKeepCount, "Number of backups to keep")

	return cmd
}

// runBackupList lists all backups.
func runBackupList(stdout io.Writer) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	backups, err := e.backups.List()
	if err != nil {
		return err
	}

	w, err := newWriter(stdout)
	if err != nil {
		return err
	}
	if !w.IsText() {
		return w.Write(backups)
	}

	if len(backups) == 0 {
		_, _ = fmt.Fprintln(stdout, "No backups found.")
		_, _ = fmt.Fprintf(stdout, "Backup directory: %s\n", e.backups.BackupDir())
		return nil
	}

	_, _ = fmt.Fprintf(stdout, "Backups stored in %s:\n\n", e.backups.BackupDir())

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCreated\tVersion\tFiles\tSize")
	for _, b := range backups {
		version := b.Version
		if b.Legacy {
			version = "(legacy)"
		} else if version == "" {
			version = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			b.ID,
			b.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			version,
			b.Files,
			output.Bytes(b.Size),
		)
	}
	return tw.Flush()
}

// runBackupRestore restores from a backup through the update manager, so it
// cannot interleave with a running update.
func runBackupRestore(ctx context.Context, id string, skipConfirm bool, prompter *interactive.Prompter, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	snap, err := e.backups.Get(id)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Restoring from backup: %s\n", snap.ID)
	_, _ = fmt.Fprintf(stdout, "Created: %s\n", snap.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if snap.Version != "" {
		_, _ = fmt.Fprintf(stdout, "Version: %s (installed %s)\n", snap.Version, e.store.Read())
	}
	_, _ = fmt.Fprintf(stdout, "Files:   %d\n\n", len(snap.Paths))

	if !skipConfirm && !prompter.Confirm("Overwrite the live files with this backup?") {
		_, _ = fmt.Fprintln(stdout, "Restore cancelled.")
		return nil
	}

	if _, err := e.manager.RestoreBackup(ctx, snap.ID); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	_, _ = fmt.Fprintln(stdout, "Restored successfully. Restart the application to load the restored files.")
	return nil
}

// runBackupDelete deletes a backup.
func runBackupDelete(id string, stdout io.Writer) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.backups.Delete(id); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Backup deleted: %s\n", id)
	return nil
}

// runBackupPrune removes old backups. A negative keep means the configured
// retention.
func runBackupPrune(keep int, stdout io.Writer) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if keep < 0 {
		keep = e.cfg.Backup.Keep
	}

	result, err := e.backups.Prune(keep)
	if err != nil {
		return err
	}

	w, err := newWriter(stdout)
	if err != nil {
		return err
	}
	if !w.IsText() {
		return w.Write(result)
	}

	if len(result.Deleted) == 0 {
		_, _ = fmt.Fprintf(stdout, "No backups to prune. Keeping %d backups.\n", result.Kept)
		return nil
	}

	_, _ = fmt.Fprintf(stdout, "Pruned %d backup(s), keeping %d:\n", len(result.Deleted), result.Kept)
	for _, b := range result.Deleted {
		_, _ = fmt.Fprintf(stdout, "  - %s (%s)\n", b.ID, b.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}
