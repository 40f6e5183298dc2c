package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teamplayer/imsms-demo/internal/models"
)

// Ledger records every phone number that granted consent.
type Ledger interface {
	// RecordConsent adds the number, or refreshes its timestamp if already present.
	RecordConsent(ctx context.Context, phoneNumber string) error
	// List returns all records ordered by first consent.
	List(ctx context.Context) ([]models.ConsentRecord, error)
	Close() error
}

// NewLedger opens the ledger backend selected by the configured DSN.
func NewLedger(opts ...Option) (Ledger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger DSN not set")
	}

	switch DetectDSNType(cfg.DSN) {
	case DSNTypePostgres:
		slog.Debug("NewLedger: using PostgreSQL ledger")
		return NewPostgresLedger(WithPostgresDSN(cfg.DSN))
	case DSNTypeSQLite:
		slog.Debug("NewLedger: using SQLite ledger", "path", cfg.DSN)
		return NewSQLiteLedger(WithSQLiteDSN(cfg.DSN))
	default:
		slog.Debug("NewLedger: using JSON file ledger", "path", cfg.DSN)
		return NewFileLedger(WithFilePath(cfg.DSN))
	}
}
