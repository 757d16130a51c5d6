// Package pipeline sequences the stages and records each invocation as a
// stage run.
package pipeline

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/surgeon-pipeline/internal/aggregate"
	"github.com/sells-group/surgeon-pipeline/internal/artifact"
	"github.com/sells-group/surgeon-pipeline/internal/enrich"
	"github.com/sells-group/surgeon-pipeline/internal/model"
	"github.com/sells-group/surgeon-pipeline/internal/normalize"
	"github.com/sells-group/surgeon-pipeline/internal/store"
)

// Extractor returns the rendered listing rows.
type Extractor interface {
	Run(ctx context.Context) ([]model.RawDirectoryEntry, error)
}

// Enricher drains the unenriched set.
type Enricher interface {
	Run(ctx context.Context) (*enrich.Stats, error)
}

// Aggregator runs one trust score pass.
type Aggregator interface {
	Run(ctx context.Context) (*aggregate.Result, error)
}

// Deps holds the stage implementations. A stage whose dependency is nil
// fails when it is run.
type Deps struct {
	Store      store.Store
	Extractor  Extractor
	Enricher   Enricher
	Aggregator Aggregator
}

// Pipeline runs stages against an artifacts directory and a store.
type Pipeline struct {
	deps      Deps
	artifacts artifact.Dir
	normalize normalize.Options
}

// New creates a Pipeline.
func New(deps Deps, artifacts artifact.Dir, opts normalize.Options) *Pipeline {
	return &Pipeline{deps: deps, artifacts: artifacts, normalize: opts}
}

// ExtractResult summarizes the extract stage.
type ExtractResult struct {
	Entries int    `json:"entries"`
	Path    string `json:"path"`
}

// NormalizeResult summarizes the normalize stage.
type NormalizeResult struct {
	Clinics  int `json:"clinics"`
	Surgeons int `json:"surgeons"`
	Rejected int `json:"rejected"`
}

// StageReport is the outcome of one stage in a Run.
type StageReport struct {
	Stage    model.Stage       `json:"stage"`
	Status   model.StageStatus `json:"status"`
	Detail   map[string]any    `json:"detail,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Run executes the stages from `from` onward in order. It stops at the
// first failed stage; output already committed by earlier stages is kept.
func (p *Pipeline) Run(ctx context.Context, from model.Stage) ([]StageReport, error) {
	stages := model.Stages()
	idx := slices.Index(stages, from)
	if idx < 0 {
		return nil, eris.Errorf("pipeline: unknown stage %q", from)
	}

	var reports []StageReport
	for _, stage := range stages[idx:] {
		report, err := p.RunStage(ctx, stage)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// RunStage runs one stage and records it as a stage run when a store is
// configured.
func (p *Pipeline) RunStage(ctx context.Context, stage model.Stage) (StageReport, error) {
	switch stage {
	case model.StageExtract:
		return p.track(ctx, stage, func() (any, error) { return p.Extract(ctx) })
	case model.StageNormalize:
		return p.track(ctx, stage, func() (any, error) { return p.Normalize(ctx) })
	case model.StageLoad:
		return p.track(ctx, stage, func() (any, error) { return p.Load(ctx) })
	case model.StageEnrich:
		return p.track(ctx, stage, func() (any, error) { return p.Enrich(ctx) })
	case model.StageAggregate:
		return p.track(ctx, stage, func() (any, error) { return p.Aggregate(ctx) })
	default:
		return StageReport{Stage: stage, Status: model.StageStatusFailed},
			eris.Errorf("pipeline: unknown stage %q", stage)
	}
}

// Extract writes the rendered listing to the raw entries artifact. Nothing
// is written when extraction fails.
func (p *Pipeline) Extract(ctx context.Context) (*ExtractResult, error) {
	if p.deps.Extractor == nil {
		return nil, eris.New("pipeline: extract: no extractor configured")
	}
	entries, err := p.deps.Extractor.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.artifacts.WriteRawEntries(entries); err != nil {
		return nil, eris.Wrap(err, "pipeline: extract")
	}
	return &ExtractResult{Entries: len(entries), Path: p.artifacts.Path(artifact.RawEntriesFile)}, nil
}

// Normalize reads the raw entries artifact and writes the clinic and
// surgeon artifacts.
func (p *Pipeline) Normalize(_ context.Context) (*NormalizeResult, error) {
	entries, err := p.artifacts.ReadRawEntries()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: normalize")
	}

	res := normalize.Normalize(entries, p.normalize)
	if err := p.artifacts.WriteClinics(res.Clinics); err != nil {
		return nil, eris.Wrap(err, "pipeline: normalize")
	}
	if err := p.artifacts.WriteSurgeons(res.Surgeons); err != nil {
		return nil, eris.Wrap(err, "pipeline: normalize")
	}

	zap.L().Info("normalize: complete",
		zap.Int("entries", len(entries)),
		zap.Int("clinics", len(res.Clinics)),
		zap.Int("surgeons", len(res.Surgeons)),
		zap.Int("rejected", res.Rejected),
	)
	return &NormalizeResult{
		Clinics:  len(res.Clinics),
		Surgeons: len(res.Surgeons),
		Rejected: res.Rejected,
	}, nil
}

// Load writes the clinic and surgeon artifacts to the store.
func (p *Pipeline) Load(ctx context.Context) (*store.LoadResult, error) {
	if p.deps.Store == nil {
		return nil, eris.New("pipeline: load: no store configured")
	}
	clinics, err := p.artifacts.ReadClinics()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load")
	}
	surgeons, err := p.artifacts.ReadSurgeons()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load")
	}

	res, err := p.deps.Store.LoadDirectory(ctx, clinics, surgeons)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load")
	}
	zap.L().Info("load: complete",
		zap.Int64("clinics", res.Clinics),
		zap.Int64("surgeons", res.Surgeons),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// Enrich runs the enricher.
func (p *Pipeline) Enrich(ctx context.Context) (*enrich.Stats, error) {
	if p.deps.Enricher == nil {
		return nil, eris.New("pipeline: enrich: no enricher configured")
	}
	return p.deps.Enricher.Run(ctx)
}

// Aggregate runs the aggregator.
func (p *Pipeline) Aggregate(ctx context.Context) (*aggregate.Result, error) {
	if p.deps.Aggregator == nil {
		return nil, eris.New("pipeline: aggregate: no aggregator configured")
	}
	return p.deps.Aggregator.Run(ctx)
}

func (p *Pipeline) track(ctx context.Context, stage model.Stage, fn func() (any, error)) (StageReport, error) {
	log := zap.L().With(zap.String("stage", string(stage)))
	report := StageReport{Stage: stage}

	var run *model.StageRun
	if p.deps.Store != nil {
		var err error
		run, err = p.deps.Store.CreateStageRun(ctx, stage)
		if err != nil {
			log.Warn("pipeline: failed to record stage start", zap.Error(err))
		}
	}

	start := time.Now()
	out, fnErr := fn()
	report.Duration = time.Since(start)
	report.Detail = toDetail(out)

	if fnErr != nil {
		report.Status = model.StageStatusFailed
		report.Error = fnErr.Error()
		log.Error("pipeline: stage failed", zap.Duration("duration", report.Duration), zap.Error(fnErr))
	} else {
		report.Status = model.StageStatusComplete
		log.Info("pipeline: stage complete", zap.Duration("duration", report.Duration))
	}

	if run != nil {
		run.Status = report.Status
		run.Detail = report.Detail
		run.Error = report.Error
		// A cancelled stage still gets its final status recorded.
		if err := p.deps.Store.FinishStageRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("pipeline: failed to record stage finish", zap.Error(err))
		}
	}
	return report, fnErr
}

// toDetail flattens a stage result into the map stored on its stage run.
func toDetail(v any) map[string]any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
