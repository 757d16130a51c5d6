package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/surgeon-pipeline/internal/config"
)

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: dial %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker registers the pipeline workflow and its activities on
// taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		// Stages share one browser and one store; run them one at a time.
		MaxConcurrentActivityExecutionSize: 1,
	})
	w.RegisterWorkflowWithOptions(PipelineWorkflow, workflow.RegisterOptions{Name: PipelineWorkflowName})
	w.RegisterActivity(acts)
	return w
}

// StartOptions configures StartPipeline.
type StartOptions struct {
	TaskQueue string
	// CronSchedule, when set, repeats the workflow on a cron spec.
	CronSchedule string
}

// StartPipeline starts a pipeline workflow execution.
func StartPipeline(ctx context.Context, c client.Client, opts StartOptions, in PipelineInput) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           "surgeon-pipeline-" + uuid.NewString(),
		TaskQueue:    opts.TaskQueue,
		CronSchedule: opts.CronSchedule,
	}, PipelineWorkflowName, in)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: start pipeline")
	}
	zap.L().Info("workflow: pipeline started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("from", string(in.From)),
	)
	return run, nil
}
