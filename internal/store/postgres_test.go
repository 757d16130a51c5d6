package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func expectBulkUpsert(mock pgxmock.PgxPoolIface, table string, cols []string, rows int64) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_` + table + `"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_" + table}, cols).
		WillReturnResult(rows)
	mock.ExpectExec(`INSERT INTO "` + table + `"`).
		WillReturnResult(pgxmock.NewResult("INSERT", rows))
	mock.ExpectCommit()
	mock.ExpectRollback()
}

func TestPostgresStore_LoadDirectory(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	clinics, surgeons := sampleDirectory()

	expectBulkUpsert(mock, "clinics", []string{"name", "city", "country"}, 2)
	mock.ExpectQuery(`SELECT clinic_id, name FROM clinics WHERE name = ANY\(\$1\)`).
		WithArgs([]string{"Acme Clinic", "Bosphorus Aesthetics"}).
		WillReturnRows(pgxmock.NewRows([]string{"clinic_id", "name"}).
			AddRow(int64(10), "Acme Clinic").
			AddRow(int64(11), "Bosphorus Aesthetics"))
	expectBulkUpsert(mock, "surgeons", []string{"name", "clinic_id", "profile_url"}, 3)

	res, err := s.LoadDirectory(context.Background(), clinics, surgeons)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Clinics)
	assert.Equal(t, int64(3), res.Surgeons)
	assert.Equal(t, 0, res.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadDirectory_NoClinics(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res, err := s.LoadDirectory(context.Background(), nil, []model.Surgeon{{Name: "Dr. A", ClinicID: 1, ProfileURL: "/a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadDirectory_ClinicUpsertFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	clinics, surgeons := sampleDirectory()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := s.LoadDirectory(context.Background(), clinics, surgeons)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load clinics")
}

func TestPostgresStore_ListUnenriched_NilExclusion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT surgeon_id, name, clinic_id, profile_url FROM surgeons`).
		WithArgs(10, []int64{}).
		WillReturnRows(pgxmock.NewRows([]string{"surgeon_id", "name", "clinic_id", "profile_url"}).
			AddRow(int64(1), "Dr. A", int64(1), "https://example.org/a"))

	got, err := s.ListUnenriched(context.Background(), 10, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].SurgeonID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateEnrichment(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	e := model.Enrichment{Specialties: ptr("Rhinoplasty"), Languages: ptr("Turkish"), TrustPrior: ptr(7.0)}

	mock.ExpectExec(`UPDATE surgeons SET specialties = \$1, languages = \$2, trust_prior = \$3 WHERE surgeon_id = \$4`).
		WithArgs(e.Specialties, e.Languages, e.TrustPrior, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateEnrichment(context.Background(), 5, e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateEnrichment_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE surgeons SET specialties`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), int64(404)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateEnrichment(context.Background(), 404, model.Enrichment{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surgeon not found")
}

func TestPostgresStore_CallTrustScoreProcedure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	payload := []byte(`[{"id":1,"trust_score":8},{"id":2,"trust_score":null}]`)
	mock.ExpectQuery(`SELECT calculate_trust_score\(\)`).
		WillReturnRows(pgxmock.NewRows([]string{"calculate_trust_score"}).AddRow(payload))

	raw, err := s.CallTrustScoreProcedure(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(raw))
}

func TestPostgresStore_CallTrustScoreProcedure_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT calculate_trust_score\(\)`).
		WillReturnError(assert.AnError)

	_, err := s.CallTrustScoreProcedure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calculate_trust_score")
}

func TestPostgresStore_UpdateTrustScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE surgeons SET trust_score = \$1 WHERE surgeon_id = \$2`).
		WithArgs(8.0, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateTrustScore(context.Background(), 1, 8.0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StageRunLifecycle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO stage_runs`).
		WithArgs(pgxmock.AnyArg(), "load", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateStageRun(ctx, model.StageLoad)
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE stage_runs SET status = \$1`).
		WithArgs("complete", []byte(`{"surgeons":3}`), (*string)(nil), pgxmock.AnyArg(), run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	run.Status = model.StageStatusComplete
	run.Detail = map[string]any{"surgeons": 3}
	require.NoError(t, s.FinishStageRun(ctx, run))
	assert.NotNil(t, run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStageRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	errMsg := "extract: source unavailable"

	mock.ExpectQuery(`SELECT id, stage, status, detail, error, started_at, finished_at FROM stage_runs WHERE true AND stage = \$1 ORDER BY started_at DESC LIMIT \$2`).
		WithArgs("extract", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "stage", "status", "detail", "error", "started_at", "finished_at"}).
			AddRow("run-1", "extract", "failed", []byte(`{"url":"https://example.org"}`), &errMsg, started, &finished))

	runs, err := s.ListStageRuns(context.Background(), StageRunFilter{Stage: model.StageExtract, Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.StageStatusFailed, runs[0].Status)
	assert.Equal(t, errMsg, runs[0].Error)
	assert.Equal(t, "https://example.org", runs[0].Detail["url"])
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, finished, *runs[0].FinishedAt)
}
