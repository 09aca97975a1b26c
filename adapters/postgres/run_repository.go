// Package postgres archives completed scenario runs for cross-run
// comparison. The archive is optional; the pipeline runs file-only when no
// DATABASE_URL is configured.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"falseneg/domain/scenario"
	"falseneg/internal/errors"
	"falseneg/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS scenario_runs (
	run_id       UUID PRIMARY KEY,
	label        TEXT NOT NULL,
	hyper        JSONB NOT NULL,
	attack_rate  JSONB NOT NULL,
	day_series   JSONB NOT NULL,
	diagnostics  JSONB NOT NULL,
	converged    BOOLEAN NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS scenario_runs_label_idx ON scenario_runs (label, created_at DESC);
`

// RunRepository implements ports.RunArchive on PostgreSQL.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository connects and ensures the archive schema exists.
func NewRunRepository(databaseURL string) (ports.RunArchive, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to run archive")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring archive schema")
	}
	return &RunRepository{db: db}, nil
}

// SaveRun persists one completed run. Stored rows are immutable; a rerun
// of the same scenario gets a new run ID.
func (r *RunRepository) SaveRun(ctx context.Context, result *scenario.Result) error {
	runID, err := uuid.Parse(result.RunID)
	if err != nil {
		return errors.Wrapf(err, "run %q has a malformed id", result.Label)
	}
	hyper, err := json.Marshal(result.Hyper)
	if err != nil {
		return errors.Wrap(err, "encoding hyperparameters")
	}
	attack, err := json.Marshal(result.AttackRate)
	if err != nil {
		return errors.Wrap(err, "encoding attack-rate summary")
	}
	days, err := json.Marshal(result.Days)
	if err != nil {
		return errors.Wrap(err, "encoding day series")
	}
	diag, err := json.Marshal(result.Diagnostics)
	if err != nil {
		return errors.Wrap(err, "encoding diagnostics")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scenario_runs (
			run_id, label, hyper, attack_rate, day_series, diagnostics, converged, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		runID, result.Label, hyper, attack, days, diag, result.Diagnostics.Converged, time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "archiving run %s", result.RunID)
	}
	return nil
}

// Close releases the database connection pool.
func (r *RunRepository) Close() error {
	return r.db.Close()
}
