package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "surgeons",
		Columns:      []string{"name", "profile_url"},
		ConflictKeys: []string{"profile_url"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "surgeons",
		ConflictKeys: []string{"profile_url"},
	}, [][]any{{"Dr. A", "/a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "surgeons",
		Columns: []string{"name", "profile_url"},
	}, [][]any{{"Dr. A", "/a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_clinics"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_clinics"}, []string{"name", "country"}).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("name"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "clinics",
		Columns:      []string{"name", "country"},
		ConflictKeys: []string{"name"},
		UpdateCols:   []string{},
	}, [][]any{{"Acme Clinic", "Turkey"}, {"Beta Clinic", "Turkey"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBulkUpsert_CopyFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_surgeons"}, []string{"name", "profile_url"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "surgeons",
		Columns:      []string{"name", "profile_url"},
		ConflictKeys: []string{"profile_url"},
	}, [][]any{{"Dr. A", "/a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for surgeons")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStatement_DefaultUpdatesNonConflictColumns(t *testing.T) {
	stmt := upsertStatement(UpsertConfig{
		Table:        "surgeons",
		Columns:      []string{"name", "clinic_id", "profile_url"},
		ConflictKeys: []string{"profile_url"},
	}, "_tmp")

	assert.Equal(t,
		`INSERT INTO "surgeons" ("name", "clinic_id", "profile_url") SELECT "name", "clinic_id", "profile_url" FROM "_tmp" ON CONFLICT ("profile_url") DO UPDATE SET "name" = EXCLUDED."name", "clinic_id" = EXCLUDED."clinic_id"`,
		stmt)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"surgeons", `"surgeons"`},
		{"public.surgeons", `"public"."surgeons"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"clinic_id", "name", "country"`, quoteAndJoin([]string{"clinic_id", "name", "country"}))
}
