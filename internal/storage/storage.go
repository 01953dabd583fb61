// Package storage persists routine run history. It is optional; with no
// driver configured the bot keeps no history.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "toybot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the run-history store.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// Empty or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
	HistoryMax  int           // kept rows; 0 means default (1000)
}

// RunRecord is one routine lifecycle observation.
// Keep it compact and schema-stable.
type RunRecord struct {
	At        time.Time
	Routine   string
	Event     string // started, iteration, failed, finished
	Iteration int64
	State     string
	TookMS    int64
	Error     string
}

// Store is the persistence API used by the history recorder.
type Store interface {
	AppendRun(ctx context.Context, rec RunRecord) error
	RecentRuns(ctx context.Context, routine string, limit int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
