package store

import (
	"context"
	"strings"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// StageRunFilter specifies criteria for listing stage runs.
type StageRunFilter struct {
	Stage  model.Stage       `json:"stage,omitempty"`
	Status model.StageStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

// LoadResult summarizes one LoadDirectory call.
type LoadResult struct {
	Clinics  int64 `json:"clinics"`
	Surgeons int64 `json:"surgeons"`
	Skipped  int   `json:"skipped"`
}

// Store defines the persistence interface for the surgeon pipeline.
type Store interface {
	// Directory
	LoadDirectory(ctx context.Context, clinics []model.Clinic, surgeons []model.Surgeon) (*LoadResult, error)
	ListUnenriched(ctx context.Context, limit int, exclude []int64) ([]model.Surgeon, error)
	UpdateEnrichment(ctx context.Context, surgeonID int64, e model.Enrichment) error

	// Aggregation
	CallTrustScoreProcedure(ctx context.Context) ([]byte, error)
	UpdateTrustScore(ctx context.Context, surgeonID int64, score float64) error

	// Stage runs
	CreateStageRun(ctx context.Context, stage model.Stage) (*model.StageRun, error)
	FinishStageRun(ctx context.Context, run *model.StageRun) error
	ListStageRuns(ctx context.Context, filter StageRunFilter) ([]model.StageRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// loadPlan is the store-independent part of LoadDirectory: clinic names to
// write, each artifact clinic id mapped to its name, and the surgeons that
// survive deduplication by profile URL.
type loadPlan struct {
	clinics  []model.Clinic
	names    []string
	nameByID map[int64]string
	surgeons []model.Surgeon
	skipped  int
}

func planLoad(clinics []model.Clinic, surgeons []model.Surgeon) loadPlan {
	p := loadPlan{nameByID: make(map[int64]string, len(clinics))}
	seen := make(map[string]bool, len(clinics))
	for _, c := range clinics {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		p.nameByID[c.ClinicID] = name
		if seen[name] {
			continue
		}
		seen[name] = true
		c.Name = name
		p.clinics = append(p.clinics, c)
		p.names = append(p.names, name)
	}

	urls := make(map[string]bool, len(surgeons))
	for _, s := range surgeons {
		if _, ok := p.nameByID[s.ClinicID]; !ok || s.ProfileURL == "" || urls[s.ProfileURL] {
			p.skipped++
			continue
		}
		urls[s.ProfileURL] = true
		p.surgeons = append(p.surgeons, s)
	}
	return p
}

// resolve rewrites artifact clinic ids to store ids. Surgeons whose clinic
// did not come back from the store are counted as skipped.
func (p *loadPlan) resolve(storeIDs map[string]int64) []model.Surgeon {
	out := make([]model.Surgeon, 0, len(p.surgeons))
	for _, s := range p.surgeons {
		id, ok := storeIDs[p.nameByID[s.ClinicID]]
		if !ok {
			p.skipped++
			continue
		}
		s.ClinicID = id
		out = append(out, s)
	}
	return out
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
