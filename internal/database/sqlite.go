package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/your-username/agent-observability/backend/internal/config"
	"github.com/your-username/agent-observability/backend/internal/database/migrations"
	"github.com/your-username/agent-observability/backend/internal/models"
)

const defaultQueryLimit = 100

// DB is the embedded event store. All writes go through a single connection
// so events are persisted in arrival order.
type DB struct {
	db        *sql.DB
	path      string
	maxEvents int
	now       func() time.Time
}

func New(cfg config.DatabaseConfig) (*DB, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())

	log.Info().Str("path", path).Msg("Opening embedded store")

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to test sqlite connection: %w", err)
	}

	if err := migrations.Run(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db := NewWithDB(sqlDB, cfg.MaxEventsPerQuery)
	db.path = path

	log.Info().Int("max_events_per_query", db.maxEvents).Msg("Embedded store ready")
	return db, nil
}

// NewWithDB wraps an already opened and migrated handle.
func NewWithDB(sqlDB *sql.DB, maxEventsPerQuery int) *DB {
	if maxEventsPerQuery <= 0 {
		maxEventsPerQuery = 1000
	}
	return &DB{
		db:        sqlDB,
		maxEvents: maxEventsPerQuery,
		now:       time.Now,
	}
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Health(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Path returns the on-disk location of the store.
func (db *DB) Path() string {
	return db.path
}

// MaxEventsPerQuery is the hard cap applied to every event query.
func (db *DB) MaxEventsPerQuery() int {
	return db.maxEvents
}

// Counts returns the row count snapshot used by health reporting.
func (db *DB) Counts(ctx context.Context) (*models.StoreCounts, error) {
	var c models.StoreCounts
	err := db.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM traces),
			(SELECT COUNT(*) FROM alerts),
			(SELECT COUNT(*) FROM alerts WHERE status = 'active')
	`).Scan(&c.Events, &c.Traces, &c.Alerts, &c.ActiveAlerts)
	if err != nil {
		return nil, &models.StorageError{Op: "count rows", Err: err}
	}
	return &c, nil
}

func (db *DB) clampLimit(limit int) int {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > db.maxEvents {
		limit = db.maxEvents
	}
	return limit
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}
