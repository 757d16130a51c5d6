package aggregate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/surgeon-pipeline/internal/model"
	"github.com/sells-group/surgeon-pipeline/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CallTrustScoreProcedure(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockStore) UpdateTrustScore(ctx context.Context, surgeonID int64, score float64) error {
	args := m.Called(ctx, surgeonID, score)
	return args.Error(0)
}

func TestRun_FiltersNullScores(t *testing.T) {
	st := new(mockStore)
	st.On("CallTrustScoreProcedure", mock.Anything).
		Return([]byte(`[{"id":1,"trust_score":8},{"id":2,"trust_score":null}]`), nil)
	st.On("UpdateTrustScore", mock.Anything, int64(1), 8.0).Return(nil).Once()

	res, err := New(st, 4).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Returned)
	assert.Equal(t, 1, res.Scored)
	assert.Equal(t, 1, res.Updated)
	st.AssertExpectations(t)
	st.AssertNumberOfCalls(t, "UpdateTrustScore", 1)
}

func TestRun_EmptyResult(t *testing.T) {
	st := new(mockStore)
	st.On("CallTrustScoreProcedure", mock.Anything).Return([]byte(`[]`), nil)

	res, err := New(st, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
	st.AssertNotCalled(t, "UpdateTrustScore", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_UpdateFailureIsIndependent(t *testing.T) {
	st := new(mockStore)
	st.On("CallTrustScoreProcedure", mock.Anything).
		Return([]byte(`[{"id":1,"trust_score":8},{"id":2,"trust_score":6.5},{"id":3,"trust_score":9}]`), nil)
	st.On("UpdateTrustScore", mock.Anything, int64(1), 8.0).Return(nil)
	st.On("UpdateTrustScore", mock.Anything, int64(2), 6.5).Return(errors.New("deadlock detected"))
	st.On("UpdateTrustScore", mock.Anything, int64(3), 9.0).Return(nil)

	res, err := New(st, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Failed)
	st.AssertExpectations(t)
}

func TestRun_ProcedureFailure(t *testing.T) {
	st := new(mockStore)
	st.On("CallTrustScoreProcedure", mock.Anything).Return(nil, errors.New("function calculate_trust_score() does not exist"))

	res, err := New(st, 1).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrAggregationUnavailable))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestRun_MalformedResult(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		received string
	}{
		{"object", `{"id":1,"trust_score":8}`, `{"id":1,"trust_score":8}`},
		{"null", `null`, `null`},
		{"empty", ``, `null`},
		{"bad element", `[{"id":"one","trust_score":8}]`, `[{"id":"one","trust_score":8}]`},
		{"not json", `oops`, `"oops"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := new(mockStore)
			st.On("CallTrustScoreProcedure", mock.Anything).Return([]byte(tt.raw), nil)

			_, err := New(st, 1).Run(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedAggregationResult))

			var mr *MalformedResultError
			require.True(t, errors.As(err, &mr))
			assert.JSONEq(t, tt.received, string(mr.Received))
			st.AssertNotCalled(t, "UpdateTrustScore", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRun_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "aggregate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	_, err = s.LoadDirectory(ctx,
		[]model.Clinic{{ClinicID: 1, Name: "Acme Clinic", Country: "Turkey"}},
		[]model.Surgeon{
			{Name: "Dr. A", ClinicID: 1, ProfileURL: "https://example.org/a"},
			{Name: "Dr. B", ClinicID: 1, ProfileURL: "https://example.org/b"},
		})
	require.NoError(t, err)

	pending, err := s.ListUnenriched(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	spec, prior := "Rhinoplasty", 7.0
	require.NoError(t, s.UpdateEnrichment(ctx, pending[0].SurgeonID,
		model.Enrichment{Specialties: &spec, TrustPrior: &prior}))

	res, err := New(s, 2).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Returned)
	assert.Equal(t, 1, res.Updated)
}
