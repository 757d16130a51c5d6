package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/surgeon-pipeline/internal/model"
	"github.com/sells-group/surgeon-pipeline/internal/pipeline"
)

// stageCmd builds the command that runs a single stage.
func stageCmd(stage model.Stage, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   string(stage),
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(string(stage)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			env, err := initPipeline(ctx, cfg, stage)
			if err != nil {
				return err
			}
			defer env.Close()

			report, err := env.Pipeline.RunStage(ctx, stage)
			formatReports(os.Stdout, []pipeline.StageReport{report})
			return err
		},
	}
}

// formatReports writes one line per stage report to out.
func formatReports(out io.Writer, reports []pipeline.StageReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t--------\t------")

	for _, r := range reports {
		detail := formatDetail(r.Detail)
		if r.Error != "" {
			detail = r.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.Stage,
			r.Status,
			r.Duration.Round(time.Millisecond),
			detail,
		)
	}
	_ = w.Flush()
}

// formatDetail renders a detail map as sorted key=value pairs.
func formatDetail(d map[string]any) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d[k]))
	}
	return strings.Join(parts, " ")
}

func init() {
	rootCmd.AddCommand(
		stageCmd(model.StageExtract, "Extract the directory listing to raw_entries.json",
			"Loads the directory source in a headless browser, waits for the listing, and writes every rendered row to the artifacts directory. Fails without writing when the listing never renders or its fields cannot be read."),
		stageCmd(model.StageNormalize, "Normalize raw entries into clinics and surgeons",
			"Reads raw_entries.json and writes clinics.json and surgeons_mapped.json. Rows missing a name, profile link or clinic are dropped and counted."),
		stageCmd(model.StageLoad, "Load normalized artifacts into the store",
			"Upserts clinics by name and surgeons by profile URL. Re-loading never clears enrichment or trust attributes."),
		stageCmd(model.StageEnrich, "Enrich unenriched surgeons through Claude",
			"Selects surgeons without specialties in batches, asks the oracle for specialties, languages and a trust prior, and writes validated results back. Failed surgeons stay unenriched for the next run."),
		stageCmd(model.StageAggregate, "Recompute trust scores",
			"Runs the store's trust score procedure once and writes every defined score back to its surgeon."),
	)
}
