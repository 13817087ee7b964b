// Package history keeps a sqlite ledger of update attempts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cl4nyz/elevadores-updater/internal/types"
	"github.com/cl4nyz/elevadores-updater/internal/update"
)

// DefaultLimit is the number of attempts List returns when limit <= 0.
const DefaultLimit = 20

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides the attempt ledger.
type Store struct {
	db *sql.DB
}

var _ update.Recorder = (*Store)(nil)

// New opens (creating if needed) the ledger at dbPath and ensures the schema
// exists. Use ":memory:" for an in-memory ledger.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record inserts or replaces one attempt.
func (s *Store) Record(ctx context.Context, a update.Attempt) error {
	query := `
		INSERT OR REPLACE INTO attempts
		(id, started_at, finished_at, from_version, to_version, outcome, message, backup_location,
		 updated_count, skipped_count, failed_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.StartedAt.UTC().Format(timeLayout),
		a.FinishedAt.UTC().Format(timeLayout),
		a.FromVersion,
		a.ToVersion,
		string(a.Outcome),
		a.Message,
		a.BackupLocation,
		a.Updated,
		a.Skipped,
		a.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt %s: %w", a.ID, err)
	}
	return nil
}

// List returns the most recent attempts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]update.Attempt, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `
		SELECT id, started_at, finished_at, from_version, to_version, outcome, message, backup_location,
		       updated_count, skipped_count, failed_count
		FROM attempts
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attempts := []update.Attempt{}
	for rows.Next() {
		var a update.Attempt
		var startedAt, finishedAt, outcome string
		var message, backupLocation sql.NullString

		if err := rows.Scan(
			&a.ID,
			&startedAt,
			&finishedAt,
			&a.FromVersion,
			&a.ToVersion,
			&outcome,
			&message,
			&backupLocation,
			&a.Updated,
			&a.Skipped,
			&a.Failed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		if a.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at for %s: %w", a.ID, err)
		}
		if a.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for %s: %w", a.ID, err)
		}
		if a.Outcome, err = types.ParseOutcome(outcome); err != nil {
			return nil, fmt.Errorf("attempt %s: %w", a.ID, err)
		}
		a.Message = message.String
		a.BackupLocation = backupLocation.String
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}

	return attempts, nil
}
