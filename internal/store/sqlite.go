package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS clinics (
	clinic_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL UNIQUE,
	city      TEXT,
	country   TEXT NOT NULL DEFAULT 'Turkey'
);

CREATE TABLE IF NOT EXISTS surgeons (
	surgeon_id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL,
	clinic_id          INTEGER NOT NULL REFERENCES clinics(clinic_id),
	profile_url        TEXT NOT NULL UNIQUE,
	profile_image_url  TEXT,
	specialties        TEXT,
	languages          TEXT,
	trust_prior        REAL CHECK (trust_prior IS NULL OR trust_prior BETWEEN 1 AND 10),
	trust_score        REAL,
	social_media_score REAL
);

CREATE INDEX IF NOT EXISTS idx_surgeons_clinic_id ON surgeons(clinic_id);

CREATE TABLE IF NOT EXISTS stage_runs (
	id          TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	detail      TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_stage_runs_started_at ON stage_runs(started_at);
`

// sqliteTrustScoreQuery mirrors the Postgres calculate_trust_score function.
const sqliteTrustScoreQuery = `
SELECT COALESCE(json_group_array(json_object(
	'id', surgeon_id,
	'trust_score', CASE
		WHEN trust_prior IS NULL AND social_media_score IS NULL THEN NULL
		ELSE round((COALESCE(trust_prior, social_media_score)
			+ COALESCE(social_media_score, trust_prior)) / 2.0, 2)
	END
)), '[]')
FROM (SELECT surgeon_id, trust_prior, social_media_score FROM surgeons ORDER BY surgeon_id)
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadDirectory writes clinics and surgeons in a single transaction with the
// same upsert semantics as the Postgres store.
func (s *SQLiteStore) LoadDirectory(ctx context.Context, clinics []model.Clinic, surgeons []model.Surgeon) (*LoadResult, error) {
	plan := planLoad(clinics, surgeons)
	res := &LoadResult{}
	if len(plan.clinics) == 0 {
		res.Skipped = plan.skipped
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin load")
	}
	defer tx.Rollback() //nolint:errcheck

	ids := make(map[string]int64, len(plan.clinics))
	for _, c := range plan.clinics {
		r, err := tx.ExecContext(ctx,
			`INSERT INTO clinics (name, city, country) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			c.Name, c.City, c.Country,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert clinic %q", c.Name)
		}
		n, _ := r.RowsAffected()
		res.Clinics += n

		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT clinic_id FROM clinics WHERE name = ?`, c.Name).Scan(&id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: clinic id for %q", c.Name)
		}
		ids[c.Name] = id
	}

	for _, sg := range plan.resolve(ids) {
		r, err := tx.ExecContext(ctx,
			`INSERT INTO surgeons (name, clinic_id, profile_url) VALUES (?, ?, ?)
			ON CONFLICT(profile_url) DO UPDATE SET name = excluded.name, clinic_id = excluded.clinic_id`,
			sg.Name, sg.ClinicID, sg.ProfileURL,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert surgeon %q", sg.ProfileURL)
		}
		n, _ := r.RowsAffected()
		res.Surgeons += n
	}
	res.Skipped = plan.skipped

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit load")
	}
	return res, nil
}

func (s *SQLiteStore) ListUnenriched(ctx context.Context, limit int, exclude []int64) ([]model.Surgeon, error) {
	query := `SELECT surgeon_id, name, clinic_id, profile_url FROM surgeons WHERE specialties IS NULL`
	var args []any
	if len(exclude) > 0 {
		// One JSON array parameter keeps long exclusion lists under SQLite's
		// bound variable limit.
		ids, err := json.Marshal(exclude)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: encode exclusions")
		}
		query += ` AND surgeon_id NOT IN (SELECT value FROM json_each(?))`
		args = append(args, string(ids))
	}
	query += ` ORDER BY surgeon_id LIMIT ?`
	args = append(args, limitOrDefault(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unenriched")
	}
	defer rows.Close()

	var out []model.Surgeon
	for rows.Next() {
		var sg model.Surgeon
		if err := rows.Scan(&sg.SurgeonID, &sg.Name, &sg.ClinicID, &sg.ProfileURL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan surgeon")
		}
		out = append(out, sg)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unenriched iterate")
}

func (s *SQLiteStore) UpdateEnrichment(ctx context.Context, surgeonID int64, e model.Enrichment) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE surgeons SET specialties = ?, languages = ?, trust_prior = ? WHERE surgeon_id = ?`,
		e.Specialties, e.Languages, e.TrustPrior, surgeonID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update enrichment %d", surgeonID)
	}
	return checkRowsAffected(res, "surgeon", surgeonID)
}

func (s *SQLiteStore) CallTrustScoreProcedure(ctx context.Context) ([]byte, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, sqliteTrustScoreQuery).Scan(&raw); err != nil {
		return nil, eris.Wrap(err, "sqlite: compute trust scores")
	}
	return []byte(raw), nil
}

func (s *SQLiteStore) UpdateTrustScore(ctx context.Context, surgeonID int64, score float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE surgeons SET trust_score = ? WHERE surgeon_id = ?`,
		score, surgeonID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update trust score %d", surgeonID)
	}
	return checkRowsAffected(res, "surgeon", surgeonID)
}

func (s *SQLiteStore) CreateStageRun(ctx context.Context, stage model.Stage) (*model.StageRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(stage), string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert stage run %s", stage)
	}

	return &model.StageRun{
		ID:        id,
		Stage:     stage,
		Status:    model.StageStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishStageRun(ctx context.Context, run *model.StageRun) error {
	detail, err := marshalDetail(run.Detail)
	if err != nil {
		return err
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	var detailArg any
	if detail != nil {
		detailArg = string(detail)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE stage_runs SET status = ?, detail = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), detailArg, nullString(run.Error), finished, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish stage run %s", run.ID)
	}
	if err := checkRowsAffected(res, "stage run", run.ID); err != nil {
		return err
	}
	run.FinishedAt = &finished
	return nil
}

func (s *SQLiteStore) ListStageRuns(ctx context.Context, filter StageRunFilter) ([]model.StageRun, error) {
	query := `SELECT id, stage, status, detail, error, started_at, finished_at FROM stage_runs WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stage runs")
	}
	defer rows.Close()

	var runs []model.StageRun
	for rows.Next() {
		var r model.StageRun
		var stage, status string
		var detail, errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &stage, &status, &detail, &errMsg, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage run")
		}
		r.Stage = model.Stage(stage)
		r.Status = model.StageStatus(status)
		if detail.Valid {
			if err := unmarshalDetail([]byte(detail.String), &r); err != nil {
				return nil, err
			}
		}
		r.Error = errMsg.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list stage runs iterate")
}

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %v", entity, id)
	}
	return nil
}
