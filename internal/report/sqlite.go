package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/emaileria/internal/models"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const schema = `CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	sent_at TEXT NOT NULL,
	recipient TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	message_id TEXT NOT NULL DEFAULT '',
	row_number INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS deliveries_run_id ON deliveries (run_id);`

// SQLiteStore keeps an append-only table of delivery results.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("report: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("report: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts results in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, runID string, results []models.DeliveryResult) error {
	if s == nil || s.db == nil {
		return errClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("report: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO deliveries (run_id, sent_at, recipient, subject, status, attempts, error, message_id, row_number)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("report: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.Timestamp.UTC().Format(timeLayout), r.Recipient,
			r.Subject, r.Status(), r.Attempts, r.Error, r.MessageID, r.Row); err != nil {
			return fmt.Errorf("report: insert %s: %w", r.Recipient, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("report: commit: %w", err)
	}
	return nil
}

// Results returns the stored results of a run in insertion order.
func (s *SQLiteStore) Results(ctx context.Context, runID string) ([]models.DeliveryResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sent_at, recipient, subject, status, attempts, error, message_id, row_number
		 FROM deliveries WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("report: query run: %w", err)
	}
	defer rows.Close()

	var out []models.DeliveryResult
	for rows.Next() {
		var (
			r      models.DeliveryResult
			sentAt string
			status string
		)
		if err := rows.Scan(&sentAt, &r.Recipient, &r.Subject, &status, &r.Attempts, &r.Error, &r.MessageID, &r.Row); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		if t, err := time.Parse(timeLayout, sentAt); err == nil {
			r.Timestamp = t
		}
		r.Success = status != "erro"
		r.DryRun = status == "dry_run"
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
