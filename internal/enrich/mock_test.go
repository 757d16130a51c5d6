package enrich

import (
	"context"
	"slices"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// --- Oracle Mock ---

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// --- Store Fake ---

// memStore is an in-memory Store that honors the exclusion list and limit.
type memStore struct {
	mu         sync.Mutex
	surgeons   []model.Surgeon
	updateErr  error
	selections int
	updates    map[int64]model.Enrichment
}

func newMemStore(surgeons ...model.Surgeon) *memStore {
	return &memStore{surgeons: surgeons, updates: make(map[int64]model.Enrichment)}
}

func (s *memStore) ListUnenriched(_ context.Context, limit int, exclude []int64) ([]model.Surgeon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections++

	var out []model.Surgeon
	for _, sg := range s.surgeons {
		if sg.Enriched() || slices.Contains(exclude, sg.SurgeonID) {
			continue
		}
		out = append(out, sg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) UpdateEnrichment(_ context.Context, id int64, e model.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	for i := range s.surgeons {
		if s.surgeons[i].SurgeonID == id {
			s.surgeons[i].Specialties = e.Specialties
			s.surgeons[i].Languages = e.Languages
			s.surgeons[i].TrustPrior = e.TrustPrior
			s.updates[id] = e
			return nil
		}
	}
	return nil
}

func surgeon(id int64, name string) model.Surgeon {
	return model.Surgeon{SurgeonID: id, Name: name, ClinicID: 1, ProfileURL: "https://example.org/" + name}
}
