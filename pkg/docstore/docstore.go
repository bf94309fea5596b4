// Package docstore persists processed records and run history in the SQLite
// database the settings name as document_db.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/datakiln/refinery/pkg/records"
)

// Processing stages a stored record can be in.
const (
	StagePreprocessed  = "preprocessed"
	StagePostprocessed = "postprocessed"
)

// ErrNotFound is returned when a record id has no row.
var ErrNotFound = errors.New("docstore: record not found")

// Store is a SQLite-backed document store.
type Store struct {
	db *sql.DB
}

// StoredRecord is a record row with its processing stage.
type StoredRecord struct {
	Record    records.Record
	Stage     string
	UpdatedAt time.Time
}

// Run summarizes one pipeline run.
type Run struct {
	ID        string
	Kind      string // "preprocess" or "postprocess"
	Total     int
	Succeeded int
	Skipped   int
	StartedAt time.Time
	EndedAt   time.Time
}

// Open opens or creates the database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("docstore: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("docstore: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		record_id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_stage ON records(stage);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		total INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecord upserts a record at the given stage, keyed by record_id.
func (s *Store) SaveRecord(ctx context.Context, rec records.Record, stage string) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("docstore: marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (record_id, stage, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(record_id) DO UPDATE SET
		   stage = excluded.stage,
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		rec.RecordID, stage, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("docstore: save record %s: %w", rec.RecordID, err)
	}

	return nil
}

// GetRecord returns the stored record with the given id.
func (s *Store) GetRecord(ctx context.Context, recordID string) (StoredRecord, error) {
	var (
		stored  StoredRecord
		payload string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT stage, payload, updated_at FROM records WHERE record_id = ?`, recordID,
	).Scan(&stored.Stage, &payload, &stored.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return StoredRecord{}, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	if err != nil {
		return StoredRecord{}, fmt.Errorf("docstore: get record %s: %w", recordID, err)
	}

	if err := json.Unmarshal([]byte(payload), &stored.Record); err != nil {
		return StoredRecord{}, fmt.Errorf("docstore: decode record %s: %w", recordID, err)
	}

	return stored, nil
}

// ListRecords returns stored records at the given stage, newest first.
// An empty stage returns all records.
func (s *Store) ListRecords(ctx context.Context, stage string) ([]StoredRecord, error) {
	query := `SELECT stage, payload, updated_at FROM records ORDER BY updated_at DESC`
	args := []any{}
	if stage != "" {
		query = `SELECT stage, payload, updated_at FROM records WHERE stage = ? ORDER BY updated_at DESC`
		args = append(args, stage)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredRecord
	for rows.Next() {
		var (
			stored  StoredRecord
			payload string
		)
		if err := rows.Scan(&stored.Stage, &payload, &stored.UpdatedAt); err != nil {
			return nil, fmt.Errorf("docstore: scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &stored.Record); err != nil {
			return nil, fmt.Errorf("docstore: decode record: %w", err)
		}
		out = append(out, stored)
	}

	return out, rows.Err()
}

// RecordRun inserts a run summary and returns its generated id.
func (s *Store) RecordRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, total, succeeded, skipped, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Total, run.Succeeded, run.Skipped,
		run.StartedAt.UTC(), run.EndedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("docstore: record run: %w", err)
	}

	return run.ID, nil
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, total, succeeded, skipped, started_at, ended_at
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("docstore: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Kind, &run.Total, &run.Succeeded, &run.Skipped, &run.StartedAt, &run.EndedAt); err != nil {
			return nil, fmt.Errorf("docstore: scan run: %w", err)
		}
		out = append(out, run)
	}

	return out, rows.Err()
}
