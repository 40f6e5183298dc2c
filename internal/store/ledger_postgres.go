package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/teamplayer/imsms-demo/internal/models"
)

// Database connection pool configuration constants
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresLedger stores consent records in PostgreSQL.
type PostgresLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresLedger connects to PostgreSQL and applies the schema.
func NewPostgresLedger(opts ...Option) (*PostgresLedger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresLedger.NewPostgresLedger: creating Postgres ledger", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresLedger DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresLedger migrations applied")
	return &PostgresLedger{db: db, now: time.Now}, nil
}

func (l *PostgresLedger) RecordConsent(ctx context.Context, phoneNumber string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO consented_numbers (phone_number, consented_at) VALUES ($1, $2)
		 ON CONFLICT (phone_number) DO UPDATE SET consented_at = EXCLUDED.consented_at`,
		phoneNumber, l.now().UTC())
	if err != nil {
		slog.Error("PostgresLedger RecordConsent failed", "error", err, "phone", phoneNumber)
		return fmt.Errorf("failed to record consent for %s: %w", phoneNumber, err)
	}
	slog.Info("PostgresLedger RecordConsent succeeded", "phone", phoneNumber)
	return nil
}

func (l *PostgresLedger) List(ctx context.Context) ([]models.ConsentRecord, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT phone_number, consented_at FROM consented_numbers ORDER BY id`)
	if err != nil {
		slog.Error("PostgresLedger List query failed", "error", err)
		return nil, fmt.Errorf("failed to query consented numbers: %w", err)
	}
	defer rows.Close()
	return scanConsentRecords(rows)
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
