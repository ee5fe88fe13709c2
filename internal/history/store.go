// Package history persists build outcomes and state transitions in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Build is one finished build as stored in the history database.
type Build struct {
	JobID    string
	Source   string
	Mode     string
	State    string
	Artifact string
	Objects  []string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// Transition is one recorded state change.
type Transition struct {
	JobID string
	From  string
	To    string
	At    time.Time
}

// SQLiteStore stores builds and transitions using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the history database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// an in-memory database exists per connection
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		job_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		mode TEXT NOT NULL,
		state TEXT NOT NULL,
		artifact TEXT,
		objects TEXT,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT
	);
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);
	CREATE INDEX IF NOT EXISTS idx_transitions_job ON transitions(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordTransition appends one state change.
func (s *SQLiteStore) RecordTransition(ctx context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO transitions (job_id, from_state, to_state, at) VALUES (?, ?, ?, ?)",
		t.JobID, t.From, t.To, t.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// RecordBuild stores a finished build, replacing an earlier row with the same job ID.
func (s *SQLiteStore) RecordBuild(ctx context.Context, b Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, err := json.Marshal(b.Objects)
	if err != nil {
		return fmt.Errorf("marshal objects: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO builds (job_id, source, mode, state, artifact, objects, started_at, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.JobID, b.Source, b.Mode, b.State, b.Artifact, objects, b.Started.UnixMilli(), b.Duration.Milliseconds(), b.Error,
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

// Recent returns up to limit builds, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, source, mode, state, artifact, objects, started_at, duration_ms, error
		 FROM builds ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		var (
			b                   Build
			artifact, errText   sql.NullString
			objects             []byte
			startedMS, duration int64
		)
		if err := rows.Scan(&b.JobID, &b.Source, &b.Mode, &b.State, &artifact, &objects, &startedMS, &duration, &errText); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		b.Artifact = artifact.String
		b.Error = errText.String
		b.Started = time.UnixMilli(startedMS)
		b.Duration = time.Duration(duration) * time.Millisecond
		if len(objects) > 0 {
			if err := json.Unmarshal(objects, &b.Objects); err != nil {
				return nil, fmt.Errorf("unmarshal objects: %w", err)
			}
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return builds, nil
}

// Transitions returns the recorded state changes of one job in order.
func (s *SQLiteStore) Transitions(ctx context.Context, jobID string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT job_id, from_state, to_state, at FROM transitions WHERE job_id = ? ORDER BY id", jobID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at int64
		if err := rows.Scan(&t.JobID, &t.From, &t.To, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.At = time.UnixMilli(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
