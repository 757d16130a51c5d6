// Package workflow runs the pipeline as a Temporal workflow, one activity
// per stage.
package workflow

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/surgeon-pipeline/internal/aggregate"
	"github.com/sells-group/surgeon-pipeline/internal/extract"
	"github.com/sells-group/surgeon-pipeline/internal/model"
	"github.com/sells-group/surgeon-pipeline/internal/pipeline"
)

// PipelineWorkflowName is the registered workflow type.
const PipelineWorkflowName = "SurgeonPipeline"

// PipelineInput selects the first stage to run.
type PipelineInput struct {
	From model.Stage `json:"from"`
}

// PipelineOutput holds one report per stage that ran.
type PipelineOutput struct {
	Reports []pipeline.StageReport `json:"reports"`
}

// Activities exposes pipeline stages to Temporal.
type Activities struct {
	Pipeline *pipeline.Pipeline
}

// RunStage runs one stage. Failures that a retry cannot fix are returned as
// non-retryable.
func (a *Activities) RunStage(ctx context.Context, stage model.Stage) (*pipeline.StageReport, error) {
	report, err := a.Pipeline.RunStage(ctx, stage)
	if err == nil {
		return &report, nil
	}
	if errors.Is(err, extract.ErrStructureChanged) ||
		errors.Is(err, extract.ErrSourceUnavailable) ||
		errors.Is(err, aggregate.ErrMalformedAggregationResult) {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "StageFailed", nil)
	}
	return nil, err
}

// activityOptions bounds each stage. Extraction is never retried: a missing
// listing is treated as absent, not flaky.
func activityOptions(stage model.Stage) workflow.ActivityOptions {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    3,
		},
	}
	switch stage {
	case model.StageExtract:
		opts.StartToCloseTimeout = 5 * time.Minute
		opts.RetryPolicy.MaximumAttempts = 1
	case model.StageEnrich:
		opts.StartToCloseTimeout = 2 * time.Hour
	}
	return opts
}

// PipelineWorkflow runs the stages from in.From onward as sequential
// activities and stops at the first failure.
func PipelineWorkflow(ctx workflow.Context, in PipelineInput) (*PipelineOutput, error) {
	from := in.From
	if from == "" {
		from = model.StageExtract
	}
	stages := model.Stages()
	idx := slices.Index(stages, from)
	if idx < 0 {
		return nil, temporal.NewNonRetryableApplicationError("unknown stage "+string(from), "InvalidInput", nil)
	}

	logger := workflow.GetLogger(ctx)
	out := &PipelineOutput{}

	var a *Activities
	for _, stage := range stages[idx:] {
		actx := workflow.WithActivityOptions(ctx, activityOptions(stage))

		var report pipeline.StageReport
		if err := workflow.ExecuteActivity(actx, a.RunStage, stage).Get(actx, &report); err != nil {
			logger.Error("stage failed", "stage", string(stage), "error", err)
			return out, err
		}
		logger.Info("stage complete", "stage", string(stage))
		out.Reports = append(out.Reports, report)
	}
	return out, nil
}
