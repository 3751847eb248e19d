// Package store implements the SQLite record source: inspection findings,
// the cause and event mappings the aggregates are derived from, defect tags
// written by image ingestion, and model call traces.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"defectintel/internal/logging"
	"defectintel/internal/types"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// DefaultFindingsLimit is the number of recent findings returned per property.
const DefaultFindingsLimit = 20

// Options configures a Store.
type Options struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string
	// Path is the database file. ":memory:" is accepted.
	Path string
	// FindingsLimit caps FetchFindings. Zero means DefaultFindingsLimit.
	FindingsLimit int
}

// Store is the SQLite-backed record source.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	limit  int
}

// Open opens (and if needed creates) the database at opts.Path.
func Open(opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite"
	}
	limit := opts.FindingsLimit
	if limit <= 0 {
		limit = DefaultFindingsLimit
	}

	if opts.Path != ":memory:" {
		dir := filepath.Dir(opts.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: opts.Path, limit: limit}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryStore).Info("store opened: driver=%s path=%s", driver, opts.Path)
	return s, nil
}

// initSchema creates the required tables.
func (s *Store) initSchema() error {
	propertyTable := `
	CREATE TABLE IF NOT EXISTS property (
		property_id TEXT PRIMARY KEY,
		address TEXT,
		building_type TEXT,
		region TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	inspectionTable := `
	CREATE TABLE IF NOT EXISTS inspection_event (
		inspection_id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES property(property_id),
		inspection_date TEXT,
		inspector_name TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_inspection_property ON inspection_event(property_id);
	`

	roomTable := `
	CREATE TABLE IF NOT EXISTS room (
		room_id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES property(property_id),
		room_type TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_room_property ON room(property_id);
	`

	// Findings are append-only; the pipeline only reads them.
	findingsTable := `
	CREATE TABLE IF NOT EXISTS inspection_findings (
		finding_id TEXT PRIMARY KEY,
		inspection_id TEXT NOT NULL REFERENCES inspection_event(inspection_id),
		room_id TEXT,
		defect_type TEXT,
		severity TEXT,
		observation_text TEXT,
		image_ref TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_findings_inspection ON inspection_findings(inspection_id);
	CREATE INDEX IF NOT EXISTS idx_findings_room ON inspection_findings(room_id);
	`

	tagsTable := `
	CREATE TABLE IF NOT EXISTS defect_ai_tags (
		tag_id TEXT PRIMARY KEY,
		finding_id TEXT NOT NULL REFERENCES inspection_findings(finding_id),
		defect_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		confidence REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tags_finding ON defect_ai_tags(finding_id);
	`

	// Mapping tables the aggregates are derived from.
	mappingTables := `
	CREATE TABLE IF NOT EXISTS defect_root_causes (
		defect_type TEXT NOT NULL,
		root_cause TEXT NOT NULL,
		affected_systems TEXT,
		PRIMARY KEY (defect_type, root_cause)
	);
	CREATE TABLE IF NOT EXISTS defect_future_events (
		defect_type TEXT NOT NULL,
		event_name TEXT NOT NULL,
		severity TEXT NOT NULL,
		PRIMARY KEY (defect_type, event_name)
	);
	`

	tracesTable := `
	CREATE TABLE IF NOT EXISTS model_traces (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT,
		has_image BOOLEAN NOT NULL DEFAULT 0,
		duration_ms INTEGER,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_traces_stage ON model_traces(stage);
	CREATE INDEX IF NOT EXISTS idx_traces_created ON model_traces(created_at);
	`

	for _, table := range []string{propertyTable, inspectionTable, roomTable, findingsTable, tagsTable, mappingTables, tracesTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &types.TransportError{Op: "record source ping", Err: err}
	}
	return nil
}
