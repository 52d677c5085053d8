// Package usage keeps a persistent, append-only ledger of chat turns:
// which model answered, how many tokens it used, and how long it took.
// Message text and history are never stored.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one chat turn. Failure is empty for answered turns and
// holds the failure category otherwise.
type Record struct {
	ID           string
	Timestamp    time.Time
	RequestID    string
	Model        string
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
	Failure      string
}

// Summary holds aggregated totals.
type Summary struct {
	TotalRecords      int
	Failures          int
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// Store is an append-only SQLite store for usage records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The schema
// is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_turns (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		request_id    TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		elapsed_ms    INTEGER NOT NULL,
		failure       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_timestamp ON chat_turns(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a usage record. If rec.ID is empty, a UUIDv7 is
// generated.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_turns
			(id, timestamp, request_id, model, input_tokens, output_tokens, elapsed_ms, failure)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.RequestID,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Elapsed.Milliseconds(),
		rec.Failure,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns aggregated totals for records within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(failure != ''), 0), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM chat_turns
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.Failures, &sum.TotalInputTokens, &sum.TotalOutputTokens); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel returns per-model totals for records within [start, end).
func (s *Store) SummaryByModel(start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.Query(
		`SELECT model, COUNT(*), COALESCE(SUM(failure != ''), 0), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM chat_turns
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY model`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var model string
		var sum Summary
		if err := rows.Scan(&model, &sum.TotalRecords, &sum.Failures, &sum.TotalInputTokens, &sum.TotalOutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage by model: %w", err)
		}
		result[model] = &sum
	}
	return result, rows.Err()
}
