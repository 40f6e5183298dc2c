package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teamplayer/imsms-demo/internal/models"
)

// FileLedger keeps the ledger as a JSON array in a single file. Every write loads the
// full sequence and rewrites the file through a temp file and rename.
type FileLedger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileLedger creates a file ledger. The parent directory is created if missing;
// the file itself is created on the first consent.
func NewFileLedger(opts ...Option) (*FileLedger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger file path not set")
	}
	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("FileLedger: failed to create ledger directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	slog.Debug("FileLedger: ready", "path", cfg.DSN)
	return &FileLedger{path: cfg.DSN, now: time.Now}, nil
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string {
	return l.path
}

func (l *FileLedger) RecordConsent(ctx context.Context, phoneNumber string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	now := l.now().UTC()
	found := false
	for i := range records {
		if records[i].PhoneNumber == phoneNumber {
			records[i].ConsentedAt = now
			found = true
			break
		}
	}
	if !found {
		records = append(records, models.ConsentRecord{PhoneNumber: phoneNumber, ConsentedAt: now})
	}
	if err := l.write(records); err != nil {
		slog.Error("FileLedger.RecordConsent: write failed", "error", err, "phone", phoneNumber)
		return err
	}
	slog.Info("FileLedger.RecordConsent: consent recorded", "phone", phoneNumber, "updated", found, "total", len(records))
	return nil
}

func (l *FileLedger) List(ctx context.Context) ([]models.ConsentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

func (l *FileLedger) Close() error {
	return nil
}

// load reads the full ledger. A missing or empty file is an empty ledger.
func (l *FileLedger) load() ([]models.ConsentRecord, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.ConsentRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}
	records := []models.ConsentRecord{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", l.path, err)
	}
	return records, nil
}

func (l *FileLedger) write(records []models.ConsentRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}
