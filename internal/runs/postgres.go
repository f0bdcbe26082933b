package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PostgresStore keeps run records in the prediction_runs table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the prediction_runs table if needed
func NewPostgresStore(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*PostgresStore, error) {
	store := &PostgresStore{db: db}

	if err := store.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure prediction_runs table: %w", err)
	}

	logger.Info().Msg("prediction_runs table ready")
	return store, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS prediction_runs (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			seed BIGINT,
			outputs JSONB NOT NULL DEFAULT '[]',
			dropped INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create prediction_runs table: %w", err)
	}
	return nil
}

// Put implements Store
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	outputs, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal outputs: %w", err)
	}

	// Upsert: a run is written once when it starts and again when it finishes
	query := `
		INSERT INTO prediction_runs (run_id, status, seed, outputs, dropped, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE
		SET status = EXCLUDED.status,
		    seed = EXCLUDED.seed,
		    outputs = EXCLUDED.outputs,
		    dropped = EXCLUDED.dropped,
		    error = EXCLUDED.error,
		    finished_at = EXCLUDED.finished_at
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Status,
		rec.Seed,
		string(outputs),
		rec.Dropped,
		rec.Error,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, runID string) (*Record, error) {
	query := `
		SELECT run_id, status, seed, outputs, dropped, error, started_at, finished_at
		FROM prediction_runs
		WHERE run_id = $1
	`

	var (
		rec      Record
		seed     sql.NullInt64
		outputs  []byte
		finished sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&rec.RunID,
		&rec.Status,
		&seed,
		&outputs,
		&rec.Dropped,
		&rec.Error,
		&rec.StartedAt,
		&finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if seed.Valid {
		rec.Seed = &seed.Int64
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	if err := json.Unmarshal(outputs, &rec.Outputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outputs: %w", err)
	}
	return &rec, nil
}
