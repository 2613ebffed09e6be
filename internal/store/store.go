// Package store persists run records and execution-state snapshots in a
// local sqlite database. The engine only writes through the Persister
// surface; reads exist for the CLI and the event server's status endpoints.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bottleneck-bots/botengine/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	goal         TEXT NOT NULL,
	final_status TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS snapshots (
	run_id     TEXT PRIMARY KEY,
	state      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id)
);
`

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID          string
	Goal        string
	FinalStatus string
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, log: logger.Global().WithPrefix("store")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run record.
func (s *Store) CreateRun(ctx context.Context, runID, goal string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, goal, created_at) VALUES (?, ?, ?)`,
		runID, goal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", runID, err)
	}
	return nil
}

// SaveSnapshot stores the latest state snapshot for a run, replacing any
// previous one.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		runID, snapshot, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", runID, err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID, finalStatus string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET final_status = ?, finished_at = ? WHERE id = ?`,
		finalStatus, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// LoadSnapshot returns the latest snapshot for a run.
func (s *Store) LoadSnapshot(ctx context.Context, runID string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM snapshots WHERE run_id = ?`, runID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot for run %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", runID, err)
	}
	return state, nil
}

// GetRun returns a single run record.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, goal, final_status, created_at, finished_at FROM runs WHERE id = ?`, runID)

	var record RunRecord
	var finished sql.NullTime
	if err := row.Scan(&record.ID, &record.Goal, &record.FinalStatus, &record.CreatedAt, &finished); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	if finished.Valid {
		record.FinishedAt = &finished.Time
	}
	return &record, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, goal, final_status, created_at, finished_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&record.ID, &record.Goal, &record.FinalStatus, &record.CreatedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if finished.Valid {
			record.FinishedAt = &finished.Time
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
