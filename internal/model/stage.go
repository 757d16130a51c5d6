package model

import "time"

// Stage names a pipeline stage.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageLoad      Stage = "load"
	StageEnrich    Stage = "enrich"
	StageAggregate Stage = "aggregate"
)

// Stages lists every stage in execution order.
func Stages() []Stage {
	return []Stage{StageExtract, StageNormalize, StageLoad, StageEnrich, StageAggregate}
}

// StageStatus is the lifecycle state of a recorded stage run.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
)

// StageRun records one invocation of a stage.
type StageRun struct {
	ID         string         `json:"id"`
	Stage      Stage          `json:"stage"`
	Status     StageStatus    `json:"status"`
	Detail     map[string]any `json:"detail,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
