package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/surgeon-pipeline/internal/model"
	"github.com/sells-group/surgeon-pipeline/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run the pipeline through Temporal",
}

var workflowWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a Temporal worker that executes pipeline workflows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("worker"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initPipeline(ctx, cfg, model.Stages()...)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := workflow.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		w := workflow.NewWorker(c, cfg.Temporal.TaskQueue, &workflow.Activities{Pipeline: env.Pipeline})
		zap.L().Info("workflow: worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "workflow: worker")
		}
		return nil
	},
}

var (
	workflowFrom string
	workflowCron string
	workflowWait bool
)

var workflowStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a pipeline workflow execution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := stagesFrom(model.Stage(workflowFrom)); err != nil {
			return err
		}
		ctx := cmd.Context()

		c, err := workflow.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		run, err := workflow.StartPipeline(ctx, c, workflow.StartOptions{
			TaskQueue:    cfg.Temporal.TaskQueue,
			CronSchedule: workflowCron,
		}, workflow.PipelineInput{From: model.Stage(workflowFrom)})
		if err != nil {
			return err
		}

		if !workflowWait || workflowCron != "" {
			cmd.Printf("started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
			return nil
		}

		var out workflow.PipelineOutput
		err = run.Get(ctx, &out)
		formatReports(cmd.OutOrStdout(), out.Reports)
		if err != nil {
			return eris.Wrap(err, "workflow: pipeline")
		}
		return nil
	},
}

func init() {
	workflowStartCmd.Flags().StringVar(&workflowFrom, "from", string(model.StageExtract), "first stage to run")
	workflowStartCmd.Flags().StringVar(&workflowCron, "cron", "", "repeat on a cron schedule, e.g. \"0 3 * * *\"")
	workflowStartCmd.Flags().BoolVar(&workflowWait, "wait", false, "wait for the workflow to finish and print its reports")

	workflowCmd.AddCommand(workflowWorkerCmd, workflowStartCmd)
	rootCmd.AddCommand(workflowCmd)
}
