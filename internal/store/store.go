// Package store holds the in-memory session store, the session reaper and the
// consented-numbers ledger backends.
//
// Sessions are never persisted. The ledger is persisted to a JSON file by
// default, or to SQLite or PostgreSQL when a database DSN is configured.
package store

import (
	"errors"
	"strings"
)

// Backend type names returned by DetectDSNType.
const (
	DSNTypeFile     = "file"
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
)

// DefaultDirPermissions defines the permissions used when creating ledger directories.
const DefaultDirPermissions = 0755

// DefaultLedgerFileName is the file name of the JSON ledger inside the state directory.
const DefaultLedgerFileName = "consented-numbers.json"

var (
	// ErrDuplicateSession is returned when a session id is already present.
	ErrDuplicateSession = errors.New("session already exists")
	// ErrStoreClosed is returned by SessionStore operations after Close.
	ErrStoreClosed = errors.New("session store closed")
)

// Opts holds configuration for the ledger backends.
type Opts struct {
	DSN string // path of the JSON file, SQLite file, or a PostgreSQL connection string
}

// Option defines a functional option for configuring a ledger.
type Option func(*Opts)

// WithDSN sets the DSN and lets NewLedger pick the backend.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithFilePath sets the JSON ledger file path.
func WithFilePath(path string) Option {
	return func(o *Opts) {
		o.DSN = path
	}
}

// DetectDSNType reports which ledger backend a DSN selects.
// Connection strings and URLs select postgres, paths ending in .json select
// the file ledger, and everything else is treated as an SQLite file.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return DSNTypePostgres
	case lower == "", strings.HasSuffix(lower, ".json"):
		return DSNTypeFile
	default:
		return DSNTypeSQLite
	}
}
