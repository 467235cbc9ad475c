// Package store persists measured rounds so that latency history survives
// probe restarts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/pkg/models"
)

// Store defines the interface for result persistence.
// Both SQLite and PostgreSQL implement this interface.
type Store interface {
	SaveMeasurement(ctx context.Context, sessionID string, m latency.Measurement) error
	// Stats summarises stored correlated deltas per generation
	Stats(ctx context.Context) ([]GenerationStats, error)
	// Sessions lists the probe runs recorded for the scope, newest first
	Sessions(ctx context.Context) ([]Session, error)

	Close() error
	HealthCheck() error
}

// GenerationStats aggregates the measured correlated deltas of one generation
type GenerationStats struct {
	Generation models.Generation `json:"generation" yaml:"generation"`
	Rounds     int               `json:"rounds" yaml:"rounds"`
	Measured   int               `json:"measured" yaml:"measured"`
	Min        time.Duration     `json:"min" yaml:"min"`
	Avg        time.Duration     `json:"avg" yaml:"avg"`
	Max        time.Duration     `json:"max" yaml:"max"`
}

// Session is one continuous run
type Session struct {
	ID        string    `json:"id" yaml:"id"`
	Rounds    int       `json:"rounds" yaml:"rounds"`
	FirstSeen time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen  time.Time `json:"last_seen" yaml:"last_seen"`
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite" or "postgres"
	DSN  string // Connection string, or file path for sqlite

	// Scope tags every stored row; reads only see their own scope
	Scope string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ErrUnsupportedDatabase is returned by NewStore for unknown types
var ErrUnsupportedDatabase = errors.New("unsupported database type")

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		s, err := NewPostgreSQLStore(config)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "sqlite3", "":
		path := config.DSN
		if path == "" {
			path = "wflatency.db"
		}
		s, err := NewSQLiteStore(path, config.Scope)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}

// ParseDSN infers the database type from a connection string. URLs with a
// postgres scheme select PostgreSQL; anything else is a SQLite path.
func ParseDSN(dsn string) Config {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if len(dsn) >= len(prefix) && dsn[:len(prefix)] == prefix {
			return Config{Type: "postgres", DSN: dsn}
		}
	}
	return Config{Type: "sqlite", DSN: dsn}
}
