package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_TrustPriorCheckConstraint(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	clinics, surgeons := sampleDirectory()
	_, err := st.LoadDirectory(ctx, clinics, surgeons)
	require.NoError(t, err)

	pending, err := st.ListUnenriched(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = st.UpdateEnrichment(ctx, pending[0].SurgeonID, model.Enrichment{
		Specialties: ptr("Rhinoplasty"),
		TrustPrior:  ptr(11.0),
	})
	assert.Error(t, err)
}

func TestSQLite_TrustScoreBlendsSocialSignal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	clinics, surgeons := sampleDirectory()
	_, err := st.LoadDirectory(ctx, clinics, surgeons)
	require.NoError(t, err)

	pending, err := st.ListUnenriched(ctx, 10, nil)
	require.NoError(t, err)
	id := pending[0].SurgeonID

	require.NoError(t, st.UpdateEnrichment(ctx, id, model.Enrichment{Specialties: ptr("Facelift"), TrustPrior: ptr(6.0)}))
	_, err = st.db.ExecContext(ctx, `UPDATE surgeons SET social_media_score = 9 WHERE surgeon_id = ?`, id)
	require.NoError(t, err)

	raw, err := st.CallTrustScoreProcedure(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"trust_score":7.5`)
}

func TestSQLite_ListUnenriched_LargeExclusionList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	clinics, surgeons := sampleDirectory()
	_, err := st.LoadDirectory(ctx, clinics, surgeons)
	require.NoError(t, err)

	all, err := st.ListUnenriched(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Well past SQLite's default limit of 32766 bound variables.
	exclude := []int64{all[1].SurgeonID}
	for id := int64(1_000_000); len(exclude) < 40_000; id++ {
		exclude = append(exclude, id)
	}

	rest, err := st.ListUnenriched(ctx, 10, exclude)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, all[0].SurgeonID, rest[0].SurgeonID)
	assert.Equal(t, all[2].SurgeonID, rest[1].SurgeonID)
}

func TestSQLite_EmptyLoad(t *testing.T) {
	st := newTestSQLiteStore(t)

	res, err := st.LoadDirectory(context.Background(), nil, []model.Surgeon{{Name: "Dr. A", ClinicID: 1, ProfileURL: "/a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Surgeons)
	assert.Equal(t, 1, res.Skipped)
}
