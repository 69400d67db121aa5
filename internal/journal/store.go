// Package journal keeps an SQLite audit trail of dispatched repetitions.
// It is write-mostly: resumption never consults it, the logs on disk stay
// the only source of truth.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed journal.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open opens or creates the journal at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Workers record concurrently; a single connection serializes writers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Ping checks that the journal database still answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping journal: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Run is one dispatch of a batch.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or after an abort
	Workers    int
	Items      int
}

// Entry is the recorded outcome of one repetition within a run.
type Entry struct {
	Name     string
	Rep      int
	State    string
	Status   string
	Resume   int
	Executed int
	Crashed  bool
	Error    string
	Duration time.Duration
}

// BeginRun records the start of a dispatch and returns its ID.
func (s *Store) BeginRun(ctx context.Context, workers, items int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, workers, items) VALUES (?, ?, ?, ?)`,
		id, time.Now().UnixMilli(), workers, items)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// Record stores the outcome of one repetition.
func (s *Store) Record(ctx context.Context, runID string, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO repetitions
		 (run_id, name, rep, state, status, resume_from, executed, crashed, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Name, e.Rep, e.State, e.Status, e.Resume, e.Executed, e.Crashed, e.Error, e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record %s rep %d: %w", e.Name, e.Rep, err)
	}
	return nil
}

// FinishRun marks a dispatch as finished.
func (s *Store) FinishRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Runs lists the recorded dispatches, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, finished_at, workers, items FROM runs ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Workers, &r.Items); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Entries lists the repetitions of a run ordered by name and repetition.
func (s *Store) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, rep, state, status, resume_from, executed, crashed, error, duration_ms
		 FROM repetitions WHERE run_id = ? ORDER BY name, rep`, runID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var msg sql.NullString
		var ms int64
		if err := rows.Scan(&e.Name, &e.Rep, &e.State, &e.Status, &e.Resume, &e.Executed, &e.Crashed, &msg, &ms); err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		e.Error = msg.String
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
