package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

var runFrom string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline stages in order",
	Long:  "Runs extract, normalize, load, enrich and aggregate in sequence, starting at --from. Stops at the first failed stage; earlier output is kept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stages, err := stagesFrom(model.Stage(runFrom))
		if err != nil {
			return err
		}
		for _, stage := range stages {
			if err := cfg.Validate(string(stage)); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, cfg, stages...)
		if err != nil {
			return err
		}
		defer env.Close()

		reports, err := env.Pipeline.Run(ctx, stages[0])
		formatReports(os.Stdout, reports)
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", string(model.StageExtract), "first stage to run (extract|normalize|load|enrich|aggregate)")
	rootCmd.AddCommand(runCmd)
}
