package impression

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Supported drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DefaultTable is the impression table name.
const DefaultTable = "composer_impressions"

var columns = []string{
	"event_uuid", "event_type", "page_id", "slot_id", "component_alias",
	"site_version", "lang", "device", "request_id", "consent",
	"path", "referer", "payload", "ts",
}

// SQLSink inserts events into a table, one transaction per batch.
type SQLSink struct {
	db     *sql.DB
	driver string
	table  string
	insert string
}

// Open connects to dsn with driver and returns a sink writing to table.
func Open(driver, dsn, table string) (*SQLSink, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported analytics driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}
	return NewSQLSink(db, driver, table), nil
}

// NewSQLSink wraps an existing handle.
func NewSQLSink(db *sql.DB, driver, table string) *SQLSink {
	if table == "" {
		table = DefaultTable
	}
	s := &SQLSink{db: db, driver: driver, table: pq.QuoteIdentifier(table)}
	marks := make([]string, len(columns))
	for i := range marks {
		marks[i] = s.placeholder(i + 1)
	}
	s.insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table, strings.Join(columns, ", "), strings.Join(marks, ", "))
	return s
}

func (s *SQLSink) placeholder(n int) string {
	if s.driver == DriverSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// EnsureSchema creates the table when it does not exist.
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	payloadType, tsType := "JSONB", "TIMESTAMP WITH TIME ZONE"
	if s.driver == DriverSQLite {
		payloadType, tsType = "TEXT", "TIMESTAMP"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_uuid VARCHAR(36) PRIMARY KEY,
		event_type VARCHAR(32) NOT NULL,
		page_id VARCHAR(255) NOT NULL,
		slot_id VARCHAR(255) NOT NULL,
		component_alias VARCHAR(255) NOT NULL,
		site_version VARCHAR(64) NOT NULL,
		lang VARCHAR(8) NOT NULL,
		device VARCHAR(2) NOT NULL,
		request_id VARCHAR(64) NOT NULL,
		consent VARCHAR(1) NOT NULL,
		path TEXT NOT NULL,
		referer TEXT NOT NULL,
		payload %s NOT NULL,
		ts %s NOT NULL
	)`, s.table, payloadType, tsType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create impression table: %w", err)
	}
	return nil
}

// Write implements Sink.
func (s *SQLSink) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin impression batch: %w", err)
	}
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to marshal impression payload: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.insert,
			ev.EventUUID.String(), ev.EventType, ev.PageID, ev.SlotID, ev.ComponentAlias,
			ev.SiteVersion, ev.Lang, ev.Device, ev.RequestID, ev.Consent,
			ev.Path, ev.Referer, string(payload), ev.TS,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert impression: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit impression batch: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLSink) Close() error {
	return s.db.Close()
}
