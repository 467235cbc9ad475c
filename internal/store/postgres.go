package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStore implements Store using PostgreSQL
type PostgreSQLStore struct {
	sqlStore
}

// NewPostgreSQLStore connects to PostgreSQL and creates the schema
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(5)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgreSQLStore{sqlStore{db: db, scope: config.Scope, numbered: true}}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgreSQLStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS measurements (
		scope TEXT NOT NULL,
		session_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		generation TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		elapsed_ms BIGINT NOT NULL,
		correlated_state TEXT NOT NULL,
		correlated_seconds DOUBLE PRECISION,
		last_state TEXT NOT NULL,
		last_seconds DOUBLE PRECISION,
		trigger_id INTEGER,
		task_id INTEGER,
		PRIMARY KEY (scope, session_id, round, generation)
	);

	CREATE INDEX IF NOT EXISTS idx_measurements_scope_started ON measurements(scope, started_at);
	`)
	return err
}
