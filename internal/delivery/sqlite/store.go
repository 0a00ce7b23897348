package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashgrovegames/invoicecore/internal/delivery"
	"github.com/ashgrovegames/invoicecore/internal/delivery/sqlite/migrations"
	sqlitemigrate "github.com/ashgrovegames/invoicecore/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed delivery attempt persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the ledger store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordAttempt persists one processing attempt.
func (s *Store) RecordAttempt(ctx context.Context, attempt delivery.AttemptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	attempt.AttemptID = strings.TrimSpace(attempt.AttemptID)
	attempt.InvoiceNumber = strings.TrimSpace(attempt.InvoiceNumber)
	attempt.Stage = strings.TrimSpace(attempt.Stage)
	attempt.Outcome = strings.TrimSpace(attempt.Outcome)
	if attempt.AttemptID == "" {
		return fmt.Errorf("attempt id is required")
	}
	if attempt.InvoiceNumber == "" {
		return fmt.Errorf("invoice number is required")
	}
	if attempt.Stage == "" {
		return fmt.Errorf("stage is required")
	}
	if attempt.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO delivery_attempts (
	attempt_id,
	invoice_number,
	player_id,
	stage,
	outcome,
	attempt_count,
	last_error,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		attempt.AttemptID,
		attempt.InvoiceNumber,
		attempt.PlayerID,
		attempt.Stage,
		attempt.Outcome,
		attempt.AttemptCount,
		attempt.LastError,
		attempt.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts lists newest-first attempt records.
func (s *Store) ListAttempts(ctx context.Context, limit int) ([]delivery.AttemptRecord, error) {
	return s.list(ctx, "", limit)
}

// ListAttemptsForInvoice lists newest-first attempt records for one
// invoice number.
func (s *Store) ListAttemptsForInvoice(ctx context.Context, invoiceNumber string, limit int) ([]delivery.AttemptRecord, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return nil, fmt.Errorf("invoice number is required")
	}
	return s.list(ctx, invoiceNumber, limit)
}

func (s *Store) list(ctx context.Context, invoiceNumber string, limit int) ([]delivery.AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	query := `
SELECT
	id,
	attempt_id,
	invoice_number,
	player_id,
	stage,
	outcome,
	attempt_count,
	last_error,
	created_at
FROM delivery_attempts
`
	args := []any{}
	if invoiceNumber != "" {
		query += "WHERE invoice_number = ?\n"
		args = append(args, invoiceNumber)
	}
	query += "ORDER BY created_at DESC, id DESC\nLIMIT ?"
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	records := make([]delivery.AttemptRecord, 0, limit)
	for rows.Next() {
		var record delivery.AttemptRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.AttemptID,
			&record.InvoiceNumber,
			&record.PlayerID,
			&record.Stage,
			&record.Outcome,
			&record.AttemptCount,
			&record.LastError,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return records, nil
}

var _ delivery.AttemptStore = (*Store)(nil)
