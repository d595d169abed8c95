// Package history records completed batch runs in SQLite. The filesystem
// session tree stays the source of truth; this store only serves queries
// ("what ran, when, with what outcome") without directory scans.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pokt-foundation/shannon-orch/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed batch run history
type Store struct {
	db *sql.DB
}

// BatchRun is one recorded orchestrator run over a session
type BatchRun struct {
	ID         string
	SessionID  string
	Kind       string
	Network    string
	Signer     string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
}

// UnitRun is one recorded work unit outcome
type UnitRun struct {
	Index    int
	Name     string
	Status   string
	Attempts int
	Address  string
	TxHash   string
	Error    string
}

// New creates a Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordBatch persists a finished batch report with its per-unit outcomes
func (s *Store) RecordBatch(report *domain.BatchReport, network, signer string) (string, error) {
	runID := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO batch_runs (id, session_id, kind, network, signer, started_at, finished_at, succeeded, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		report.SessionID,
		string(report.Kind),
		network,
		signer,
		report.StartedAt,
		report.FinishedAt,
		report.Succeeded,
		report.Failed,
	)
	if err != nil {
		return "", err
	}

	for _, u := range report.Units {
		_, err = tx.Exec(`
			INSERT INTO unit_runs (batch_run_id, unit_index, name, status, attempts, address, tx_hash, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			runID, u.Index, u.Name, string(u.Status), u.Attempts, u.Address, u.TxHash, u.Error,
		)
		if err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}

// ListRecentBatches returns the most recent batch runs
func (s *Store) ListRecentBatches(limit int) ([]*BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, kind, network, signer, started_at, finished_at, succeeded, failed
		FROM batch_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*BatchRun
	for rows.Next() {
		var r BatchRun
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Kind, &r.Network, &r.Signer,
			&r.StartedAt, &r.FinishedAt, &r.Succeeded, &r.Failed); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// GetBatchUnits returns the per-unit outcomes of one batch run
func (s *Store) GetBatchUnits(runID string) ([]UnitRun, error) {
	rows, err := s.db.Query(`
		SELECT unit_index, name, status, attempts, address, tx_hash, error_message
		FROM unit_runs WHERE batch_run_id = ? ORDER BY unit_index
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []UnitRun
	for rows.Next() {
		var u UnitRun
		if err := rows.Scan(&u.Index, &u.Name, &u.Status, &u.Attempts, &u.Address, &u.TxHash, &u.Error); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// SessionHistory returns every recorded run for one session, newest first
func (s *Store) SessionHistory(sessionID string) ([]*BatchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, kind, network, signer, started_at, finished_at, succeeded, failed
		FROM batch_runs WHERE session_id = ? ORDER BY started_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*BatchRun
	for rows.Next() {
		var r BatchRun
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Kind, &r.Network, &r.Signer,
			&r.StartedAt, &r.FinishedAt, &r.Succeeded, &r.Failed); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
