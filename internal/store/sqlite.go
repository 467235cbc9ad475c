package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-based implementation of Store
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath, scope string) (*SQLiteStore, error) {
	// WAL plus a busy timeout lets `summary --history` read while a
	// continuous run is writing
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{sqlStore{db: db, scope: scope}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS measurements (
		scope TEXT NOT NULL,
		session_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		generation TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		correlated_state TEXT NOT NULL,
		correlated_seconds REAL,
		last_state TEXT NOT NULL,
		last_seconds REAL,
		trigger_id INTEGER,
		task_id INTEGER,
		PRIMARY KEY (scope, session_id, round, generation)
	);

	CREATE INDEX IF NOT EXISTS idx_measurements_scope_started ON measurements(scope, started_at);
	`)
	return err
}
