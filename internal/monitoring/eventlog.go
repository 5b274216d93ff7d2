// Package monitoring records per-attempt and per-document performance events
// in an append-only log and derives summaries, progress estimates and
// alerts from it.
package monitoring

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cao-extract/internal/model"
)

// EventLog is durable, append-only storage for performance events.
type EventLog interface {
	// Append persists ev before returning.
	Append(ctx context.Context, ev model.PerformanceEvent) error
	// Events returns every readable event in append order and the number
	// of unreadable entries skipped.
	Events(ctx context.Context) ([]model.PerformanceEvent, int, error)
	Close() error
}

// Driver names accepted by OpenLog.
const (
	DriverJSONL  = "jsonl"
	DriverSQLite = "sqlite"
)

// OpenLog opens (creating if needed) the event log at path.
func OpenLog(driver, path string) (EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "monitoring: create log dir for %s", path)
	}
	switch driver {
	case DriverJSONL, "":
		return OpenFileLog(path)
	case DriverSQLite:
		return OpenSQLiteLog(path)
	}
	return nil, eris.Errorf("monitoring: unknown log driver %q", driver)
}
