package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cao-extract/internal/model"
)

// SQLiteLog stores events in a SQLite table. Commits are fully synchronous.
type SQLiteLog struct {
	db *sql.DB
}

const sqliteEventSchema = `
CREATE TABLE IF NOT EXISTS performance_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	document_id TEXT NOT NULL,
	flow        TEXT NOT NULL,
	stage       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	ended_at    DATETIME NOT NULL,
	payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_document ON performance_events(document_id, flow);
CREATE INDEX IF NOT EXISTS idx_events_ended_at ON performance_events(ended_at);
`

// OpenSQLiteLog opens or creates the database at path.
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: open sqlite")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "monitoring: exec %s", pragma)
		}
	}
	if _, err := db.Exec(sqliteEventSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "monitoring: migrate sqlite")
	}
	return &SQLiteLog{db: db}, nil
}

// Append implements EventLog.
func (l *SQLiteLog) Append(ctx context.Context, ev model.PerformanceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal event")
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO performance_events (id, document_id, flow, stage, outcome, ended_at, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.DocumentID, string(ev.Flow), string(ev.Stage), string(ev.Outcome), ev.EndedAt.UTC().Format(time.RFC3339Nano), string(payload),
	)
	return eris.Wrap(err, "monitoring: insert event")
}

// Events implements EventLog.
func (l *SQLiteLog) Events(ctx context.Context) ([]model.PerformanceEvent, int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT payload FROM performance_events ORDER BY seq`)
	if err != nil {
		return nil, 0, eris.Wrap(err, "monitoring: query events")
	}
	defer rows.Close() //nolint:errcheck

	var (
		events  []model.PerformanceEvent
		skipped int
	)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, eris.Wrap(err, "monitoring: scan event")
		}
		var ev model.PerformanceEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, eris.Wrap(rows.Err(), "monitoring: iterate events")
}

// Close implements EventLog.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
