package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/pkg/models"
)

func newTestStore(t *testing.T, scope string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"), scope)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func measurement(round int, a, b latency.Pair) latency.Measurement {
	return latency.Measurement{
		Round:     round,
		StartedAt: time.Date(2024, 3, 1, 12, round, 0, 0, time.UTC),
		Elapsed:   time.Second,
		Pairs:     map[models.Generation]latency.Pair{models.GenA: a, models.GenB: b},
		Links: map[models.Generation]models.CorrelationLink{
			models.GenA: {Generation: models.GenA, TriggerID: round, TaskID: round + 100},
		},
	}
}

func pair(correlated, last latency.Delta) latency.Pair {
	return latency.Pair{Correlated: correlated, LastInserted: last}
}

func TestSQLiteStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "Pings")
	require.NoError(t, s.HealthCheck())

	pending := latency.Delta{State: latency.Pending}
	require.NoError(t, s.SaveMeasurement(ctx, "run-1", measurement(1, pair(latency.Of(2*time.Second), latency.Of(0)), latency.NotApplicablePair)))
	require.NoError(t, s.SaveMeasurement(ctx, "run-1", measurement(2, pair(latency.Of(6*time.Second), latency.Of(time.Second)), pair(pending, latency.Of(3*time.Second)))))
	require.NoError(t, s.SaveMeasurement(ctx, "run-1", measurement(3, pair(latency.Of(4*time.Second), latency.Of(0)), pair(latency.Of(10*time.Second), latency.Of(10*time.Second)))))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, GenerationStats{Generation: models.GenA, Rounds: 3, Measured: 3, Min: 2 * time.Second, Avg: 4 * time.Second, Max: 6 * time.Second}, stats[0])
	assert.Equal(t, GenerationStats{Generation: models.GenB, Rounds: 2, Measured: 1, Min: 10 * time.Second, Avg: 10 * time.Second, Max: 10 * time.Second}, stats[1])
}

func TestSQLiteStore_SaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "Pings")
	m := measurement(1, pair(latency.Of(2*time.Second), latency.Of(0)), latency.NotApplicablePair)
	require.NoError(t, s.SaveMeasurement(ctx, "run-1", m))
	m.Pairs[models.GenA] = pair(latency.Of(3*time.Second), latency.Of(0))
	require.NoError(t, s.SaveMeasurement(ctx, "run-1", m))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Rounds)
	assert.Equal(t, 3*time.Second, stats[0].Max)
}

func TestSQLiteStore_ScopesAndSessions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "results.db")

	a, err := NewSQLiteStore(path, "Pings")
	require.NoError(t, err)
	m := measurement(1, pair(latency.Of(time.Second), latency.Of(0)), latency.NotApplicablePair)
	require.NoError(t, a.SaveMeasurement(ctx, "run-1", m))
	m.Round = 2
	m.StartedAt = m.StartedAt.Add(time.Minute)
	require.NoError(t, a.SaveMeasurement(ctx, "run-1", m))
	m.StartedAt = m.StartedAt.Add(time.Hour)
	require.NoError(t, a.SaveMeasurement(ctx, "run-2", m))
	require.NoError(t, a.Close())

	b, err := NewSQLiteStore(path, "Other")
	require.NoError(t, err)
	defer b.Close()
	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)

	c, err := NewSQLiteStore(path, "Pings")
	require.NoError(t, err)
	defer c.Close()
	sessions, err := c.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "run-2", sessions[0].ID)
	assert.Equal(t, "run-1", sessions[1].ID)
	assert.Equal(t, 2, sessions[1].Rounds)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC), sessions[1].FirstSeen)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 2, 0, 0, time.UTC), sessions[1].LastSeen)
}

func TestNewStore(t *testing.T) {
	_, err := NewStore(Config{Type: "mongo"})
	assert.ErrorIs(t, err, ErrUnsupportedDatabase)

	s, err := NewStore(Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db"), Scope: "Pings"})
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = NewStore(Config{Type: "postgres"})
	assert.Error(t, err)
}

func TestParseDSN(t *testing.T) {
	assert.Equal(t, "postgres", ParseDSN("postgres://u:p@localhost/db?sslmode=disable").Type)
	assert.Equal(t, "postgres", ParseDSN("postgresql://localhost/db").Type)
	assert.Equal(t, "sqlite", ParseDSN("/var/lib/wflatency/results.db").Type)
}

func TestRebind(t *testing.T) {
	s := &sqlStore{numbered: true}
	assert.Equal(t, "a = $1 AND b = $2", s.rebind("a = ? AND b = ?"))
	s.numbered = false
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}
