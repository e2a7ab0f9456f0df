// Package store persists finished runs, their telemetry, their artifacts,
// and the reference cases the similarity gate compares against. The
// pipeline core never touches it; the CLI saves results after a run ends.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"caseweaver/internal/pipeline"
	"caseweaver/internal/similarity"
)

// Store manages the caseweaver run database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the run database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		premise TEXT NOT NULL,
		total_cost REAL NOT NULL,
		total_duration_ms INTEGER NOT NULL,
		revisions INTEGER NOT NULL,
		warnings TEXT,
		errors TEXT,
		similarity TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stage_records (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		stage_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		cost REAL NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		run_id TEXT NOT NULL,
		stage_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (run_id, stage_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS reference_cases (
		id TEXT PRIMARY KEY,
		artifact TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID        string
	Status    string
	Premise   string
	TotalCost float64
	Duration  time.Duration
	Revisions int
	CreatedAt time.Time
}

// SaveResult persists a finished run with its telemetry and artifacts.
func (s *Store) SaveResult(premise string, result *pipeline.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	warnings, err := json.Marshal(result.Telemetry.Warnings)
	if err != nil {
		return fmt.Errorf("store: marshal warnings: %w", err)
	}
	errorsJSON, err := json.Marshal(result.Telemetry.Errors)
	if err != nil {
		return fmt.Errorf("store: marshal errors: %w", err)
	}
	var simJSON []byte
	if result.Similarity != nil {
		simJSON, err = json.Marshal(result.Similarity)
		if err != nil {
			return fmt.Errorf("store: marshal similarity report: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO runs
		(id, status, premise, total_cost, total_duration_ms, revisions, warnings, errors, similarity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, string(result.Status), premise,
		result.Telemetry.TotalCost, result.Telemetry.TotalDuration.Milliseconds(),
		result.Telemetry.Revisions, string(warnings), string(errorsJSON), string(simJSON))
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}

	for i, record := range result.Telemetry.Records {
		_, err = tx.Exec(`INSERT INTO stage_records
			(run_id, position, stage_id, attempt, duration_ms, cost, outcome, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, i, record.StageID, record.Attempt,
			record.Duration.Milliseconds(), record.Cost, string(record.Outcome), record.Error)
		if err != nil {
			return fmt.Errorf("store: insert stage record %d: %w", i, err)
		}
	}

	for stageID, payload := range result.Artifacts {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("store: marshal artifact %s: %w", stageID, err)
		}
		_, err = tx.Exec(`INSERT INTO artifacts (run_id, stage_id, payload) VALUES (?, ?, ?)`,
			result.RunID, stageID, string(data))
		if err != nil {
			return fmt.Errorf("store: insert artifact %s: %w", stageID, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, status, premise, total_cost, total_duration_ms, revisions, created_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.Status, &r.Premise, &r.TotalCost, &durationMS, &r.Revisions, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetArtifact loads one stage's payload for a run.
func (s *Store) GetArtifact(runID, stageID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`SELECT payload FROM artifacts WHERE run_id = ? AND stage_id = ?`,
		runID, stageID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: no artifact %s for run %s", stageID, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get artifact: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("store: decode artifact: %w", err)
	}
	return payload, nil
}

// SaveReference upserts a reference case for the similarity gate.
func (s *Store) SaveReference(id string, artifact map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("store: marshal reference: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO reference_cases (id, artifact) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET artifact = excluded.artifact`, id, string(data))
	if err != nil {
		return fmt.Errorf("store: save reference: %w", err)
	}
	return nil
}

// ListReferences loads every reference case, oldest first, in the shape
// the similarity scorer consumes.
func (s *Store) ListReferences() ([]similarity.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, artifact FROM reference_cases ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list references: %w", err)
	}
	defer rows.Close()

	var out []similarity.Reference
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("store: scan reference: %w", err)
		}
		var artifact map[string]any
		if err := json.Unmarshal([]byte(data), &artifact); err != nil {
			return nil, fmt.Errorf("store: decode reference %s: %w", id, err)
		}
		out = append(out, similarity.Reference{ID: id, Artifact: artifact})
	}
	return out, rows.Err()
}
