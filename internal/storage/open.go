package storage

import (
	"context"
	"errors"
	"strings"

	logx "reposter/pkg/logx"
)

// Store is the persistence contract of the job table.
//
// Load never fails: a missing or unreadable table is reported as an empty one.
// Save replaces the whole table; failures are logged and returned wrapped in ErrStore.
// Implementations assume a single writer process.
type Store interface {
	Load(ctx context.Context) *Jobs
	Save(ctx context.Context, jobs *Jobs) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
