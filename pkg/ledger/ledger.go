// Package ledger keeps an SQLite audit trail of de-identification runs and
// the outcome of every study they touched.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run describes one batch invocation.
type Run struct {
	ID        string
	InputDir  string
	OutputDir string
	Preset    string
	Workers   int
	StartedAt time.Time
}

// Entry is the stored outcome of one study within a run.
type Entry struct {
	RunID      string
	File       string
	Output     string
	Status     string
	Reason     string
	BoxReason  string
	Digest     string
	DurationMS int64
	RecordedAt time.Time
}

// Ledger is an SQLite-backed audit store. Safe for concurrent use.
type Ledger struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// one writer at a time keeps sqlite from returning SQLITE_BUSY to workers
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			input_dir TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			preset TEXT NOT NULL,
			workers INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS outcomes (
			run_id TEXT NOT NULL,
			file TEXT NOT NULL,
			output TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			box_reason TEXT,
			digest TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (run_id, file),
			FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := l.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := l.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	return nil
}

// RecordRun stores the run header. It must be called before RecordOutcome.
func (l *Ledger) RecordRun(r Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO runs (run_id, input_dir, output_dir, preset, workers, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.InputDir, r.OutputDir, r.Preset, r.Workers, r.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecordOutcome stores or replaces the outcome of one study.
func (l *Ledger) RecordOutcome(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err := l.db.Exec(`
		INSERT OR REPLACE INTO outcomes
		(run_id, file, output, status, reason, box_reason, digest, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.File, e.Output, e.Status, e.Reason, e.BoxReason, e.Digest, e.DurationMS, e.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", e.File, err)
	}
	return nil
}

// GetRun loads a run header.
func (l *Ledger) GetRun(id string) (*Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var r Run
	err := l.db.QueryRow(`
		SELECT run_id, input_dir, output_dir, preset, workers, started_at
		FROM runs WHERE run_id = ?`, id).
		Scan(&r.ID, &r.InputDir, &r.OutputDir, &r.Preset, &r.Workers, &r.StartedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return &r, nil
}

// Outcomes lists the outcomes of a run ordered by file name.
func (l *Ledger) Outcomes(runID string) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`
		SELECT run_id, file, COALESCE(output, ''), status, COALESCE(reason, ''),
		       COALESCE(box_reason, ''), COALESCE(digest, ''), duration_ms, recorded_at
		FROM outcomes WHERE run_id = ? ORDER BY file`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.File, &e.Output, &e.Status, &e.Reason,
			&e.BoxReason, &e.Digest, &e.DurationMS, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
