package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/surgeon-pipeline/internal/db"
	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"update_enrichment":  `UPDATE surgeons SET specialties = $1, languages = $2, trust_prior = $3 WHERE surgeon_id = $4`,
	"update_trust_score": `UPDATE surgeons SET trust_score = $1 WHERE surgeon_id = $2`,
	"insert_stage_run":   `INSERT INTO stage_runs (id, stage, status, started_at) VALUES ($1, $2, $3, $4)`,
	"finish_stage_run":   `UPDATE stage_runs SET status = $1, detail = $2, error = $3, finished_at = $4 WHERE id = $5`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// The aggregation procedure is installed only when absent so an operator's
// own definition survives re-migration.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS clinics (
	clinic_id BIGSERIAL PRIMARY KEY,
	name      TEXT NOT NULL UNIQUE,
	city      TEXT,
	country   TEXT NOT NULL DEFAULT 'Turkey'
);

CREATE TABLE IF NOT EXISTS surgeons (
	surgeon_id         BIGSERIAL PRIMARY KEY,
	name               TEXT NOT NULL,
	clinic_id          BIGINT NOT NULL REFERENCES clinics(clinic_id),
	profile_url        TEXT NOT NULL UNIQUE,
	profile_image_url  TEXT,
	specialties        TEXT,
	languages          TEXT,
	trust_prior        DOUBLE PRECISION CHECK (trust_prior IS NULL OR trust_prior BETWEEN 1 AND 10),
	trust_score        DOUBLE PRECISION,
	social_media_score DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_surgeons_clinic_id ON surgeons(clinic_id);
CREATE INDEX IF NOT EXISTS idx_surgeons_unenriched ON surgeons(surgeon_id) WHERE specialties IS NULL;

CREATE TABLE IF NOT EXISTS stage_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	detail      JSONB,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_stage_runs_started_at ON stage_runs(started_at DESC);

DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_proc WHERE proname = 'calculate_trust_score') THEN
		CREATE FUNCTION calculate_trust_score() RETURNS jsonb
		LANGUAGE sql STABLE AS $fn$
			SELECT COALESCE(jsonb_agg(jsonb_build_object(
				'id', s.surgeon_id,
				'trust_score', CASE
					WHEN s.trust_prior IS NULL AND s.social_media_score IS NULL THEN NULL
					ELSE round(((COALESCE(s.trust_prior, s.social_media_score)
						+ COALESCE(s.social_media_score, s.trust_prior)) / 2.0)::numeric, 2)
				END
			) ORDER BY s.surgeon_id), '[]'::jsonb)
			FROM surgeons s
		$fn$;
	END IF;
END
$$;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// LoadDirectory upserts clinics by name and surgeons by profile URL. Artifact
// clinic ids are remapped to the ids the store holds for the same names, and
// re-loading leaves enrichment and trust columns untouched.
func (s *PostgresStore) LoadDirectory(ctx context.Context, clinics []model.Clinic, surgeons []model.Surgeon) (*LoadResult, error) {
	plan := planLoad(clinics, surgeons)
	res := &LoadResult{}
	if len(plan.clinics) == 0 {
		res.Skipped = plan.skipped
		return res, nil
	}

	clinicRows := make([][]any, len(plan.clinics))
	for i, c := range plan.clinics {
		clinicRows[i] = []any{c.Name, c.City, c.Country}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "clinics",
		Columns:      []string{"name", "city", "country"},
		ConflictKeys: []string{"name"},
		UpdateCols:   []string{},
	}, clinicRows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load clinics")
	}
	res.Clinics = n

	ids, err := s.clinicIDs(ctx, plan.names)
	if err != nil {
		return nil, err
	}
	resolved := plan.resolve(ids)
	res.Skipped = plan.skipped

	surgeonRows := make([][]any, len(resolved))
	for i, sg := range resolved {
		surgeonRows[i] = []any{sg.Name, sg.ClinicID, sg.ProfileURL}
	}
	n, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "surgeons",
		Columns:      []string{"name", "clinic_id", "profile_url"},
		ConflictKeys: []string{"profile_url"},
		UpdateCols:   []string{"name", "clinic_id"},
	}, surgeonRows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load surgeons")
	}
	res.Surgeons = n
	return res, nil
}

func (s *PostgresStore) clinicIDs(ctx context.Context, names []string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT clinic_id, name FROM clinics WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query clinic ids")
	}
	defer rows.Close()

	ids := make(map[string]int64, len(names))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan clinic id")
		}
		ids[name] = id
	}
	return ids, eris.Wrap(rows.Err(), "postgres: clinic ids iterate")
}

func (s *PostgresStore) ListUnenriched(ctx context.Context, limit int, exclude []int64) ([]model.Surgeon, error) {
	// A NULL array would make NOT (x = ANY(...)) NULL and filter every row.
	if exclude == nil {
		exclude = []int64{}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT surgeon_id, name, clinic_id, profile_url FROM surgeons
		WHERE specialties IS NULL AND NOT (surgeon_id = ANY($2))
		ORDER BY surgeon_id LIMIT $1`,
		limitOrDefault(limit), exclude,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unenriched")
	}
	defer rows.Close()

	var out []model.Surgeon
	for rows.Next() {
		var sg model.Surgeon
		if err := rows.Scan(&sg.SurgeonID, &sg.Name, &sg.ClinicID, &sg.ProfileURL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan surgeon")
		}
		out = append(out, sg)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unenriched iterate")
}

func (s *PostgresStore) UpdateEnrichment(ctx context.Context, surgeonID int64, e model.Enrichment) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE surgeons SET specialties = $1, languages = $2, trust_prior = $3 WHERE surgeon_id = $4`,
		e.Specialties, e.Languages, e.TrustPrior, surgeonID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update enrichment %d", surgeonID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("surgeon not found: %d", surgeonID)
	}
	return nil
}

func (s *PostgresStore) CallTrustScoreProcedure(ctx context.Context) ([]byte, error) {
	var raw []byte
	if err := s.pool.QueryRow(ctx, `SELECT calculate_trust_score()`).Scan(&raw); err != nil {
		return nil, eris.Wrap(err, "postgres: call calculate_trust_score")
	}
	return raw, nil
}

func (s *PostgresStore) UpdateTrustScore(ctx context.Context, surgeonID int64, score float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE surgeons SET trust_score = $1 WHERE surgeon_id = $2`,
		score, surgeonID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update trust score %d", surgeonID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("surgeon not found: %d", surgeonID)
	}
	return nil
}

func (s *PostgresStore) CreateStageRun(ctx context.Context, stage model.Stage) (*model.StageRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_runs (id, stage, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, string(stage), string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert stage run %s", stage)
	}

	return &model.StageRun{
		ID:        id,
		Stage:     stage,
		Status:    model.StageStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) FinishStageRun(ctx context.Context, run *model.StageRun) error {
	detail, err := marshalDetail(run.Detail)
	if err != nil {
		return err
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE stage_runs SET status = $1, detail = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(run.Status), detail, nullString(run.Error), finished, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish stage run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("stage run not found: %s", run.ID)
	}
	run.FinishedAt = &finished
	return nil
}

func (s *PostgresStore) ListStageRuns(ctx context.Context, filter StageRunFilter) ([]model.StageRun, error) {
	query := `SELECT id, stage, status, detail, error, started_at, finished_at FROM stage_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stage runs")
	}
	defer rows.Close()

	var runs []model.StageRun
	for rows.Next() {
		var r model.StageRun
		var stage, status string
		var detail []byte
		var errMsg *string
		if err := rows.Scan(&r.ID, &stage, &status, &detail, &errMsg, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage run")
		}
		r.Stage = model.Stage(stage)
		r.Status = model.StageStatus(status)
		if err := unmarshalDetail(detail, &r); err != nil {
			return nil, err
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list stage runs iterate")
}

func marshalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal stage detail")
	}
	return b, nil
}

func unmarshalDetail(raw []byte, r *model.StageRun) error {
	if len(raw) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(raw, &r.Detail), "store: unmarshal stage detail")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
