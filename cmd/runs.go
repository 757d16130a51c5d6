package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/surgeon-pipeline/internal/model"
	"github.com/sells-group/surgeon-pipeline/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stage run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent stage runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stage, _ := cmd.Flags().GetString("stage")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListStageRuns(ctx, store.StageRunFilter{
			Stage:  model.Stage(stage),
			Status: model.StageStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No stage runs found.")
			return nil
		}

		formatStageRuns(os.Stdout, runs)
		return nil
	},
}

// formatStageRuns writes a stage run table to out.
func formatStageRuns(out io.Writer, runs []model.StageRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTAGE\tSTATUS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-------\t--------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		errMsg := r.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Stage,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID to its first 8 characters.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsListCmd.Flags().String("stage", "", "filter by stage")
	runsListCmd.Flags().String("status", "", "filter by status (running|complete|failed)")
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to show")

	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}
