package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/teamplayer/imsms-demo/internal/models"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteLedger stores consent records in an SQLite database file.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLedger opens the SQLite file named by the DSN, creating its directory and
// the schema when missing.
func NewSQLiteLedger(opts ...Option) (*SQLiteLedger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteLedger invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteLedger DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite ledger migrations applied")
	return &SQLiteLedger{db: db, now: time.Now}, nil
}

func (l *SQLiteLedger) RecordConsent(ctx context.Context, phoneNumber string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO consented_numbers (phone_number, consented_at) VALUES (?, ?)
		 ON CONFLICT(phone_number) DO UPDATE SET consented_at = excluded.consented_at`,
		phoneNumber, l.now().UTC())
	if err != nil {
		slog.Error("SQLiteLedger RecordConsent failed", "error", err, "phone", phoneNumber)
		return fmt.Errorf("failed to record consent for %s: %w", phoneNumber, err)
	}
	slog.Info("SQLiteLedger RecordConsent succeeded", "phone", phoneNumber)
	return nil
}

func (l *SQLiteLedger) List(ctx context.Context) ([]models.ConsentRecord, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT phone_number, consented_at FROM consented_numbers ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteLedger List query failed", "error", err)
		return nil, fmt.Errorf("failed to query consented numbers: %w", err)
	}
	defer rows.Close()
	return scanConsentRecords(rows)
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func scanConsentRecords(rows *sql.Rows) ([]models.ConsentRecord, error) {
	records := []models.ConsentRecord{}
	for rows.Next() {
		var r models.ConsentRecord
		if err := rows.Scan(&r.PhoneNumber, &r.ConsentedAt); err != nil {
			return nil, fmt.Errorf("failed to scan consent row: %w", err)
		}
		r.ConsentedAt = r.ConsentedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consent rows: %w", err)
	}
	return records, nil
}
