package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cl4nyz/elevadores-updater/internal/history"
	"github.com/cl4nyz/elevadores-updater/internal/update"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded update attempts",
		Long:  `History lists the most recent update attempts, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), limit, os.Stdout)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Maximum number of attempts to show")

	return cmd
}

func runHistory(ctx context.Context, limit int, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if e.history == nil {
		return fmt.Errorf("update history is disabled")
	}

	attempts, err := e.history.List(ctx, limit)
	if err != nil {
		return err
	}

	w, err := newWriter(stdout)
	if err != nil {
		return err
	}
	return w.Write(historyReport(attempts))
}

type historyReport []update.Attempt

func (r historyReport) RenderText(w io.Writer) error {
	if len(r) == 0 {
		_, err := fmt.Fprintln(w, "No update attempts recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Started\tFrom\tTo\tOutcome\tUpdated\tSkipped\tFailed")
	for _, a := range r {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			a.StartedAt.Local().Format("2006-01-02 15:04:05"),
			a.FromVersion,
			a.ToVersion,
			a.Outcome,
			a.Updated,
			a.Skipped,
			a.Failed,
		)
	}
	return tw.Flush()
}
