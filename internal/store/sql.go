package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/pkg/models"
)

// sqlStore holds the queries shared by both backends. Queries are written
// with ? placeholders and rebound for the driver.
type sqlStore struct {
	db       *sql.DB
	scope    string
	numbered bool
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upsertMeasurement = `
	INSERT INTO measurements
	(scope, session_id, round, generation, started_at, elapsed_ms,
	 correlated_state, correlated_seconds, last_state, last_seconds, trigger_id, task_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (scope, session_id, round, generation) DO UPDATE SET
		started_at = excluded.started_at,
		elapsed_ms = excluded.elapsed_ms,
		correlated_state = excluded.correlated_state,
		correlated_seconds = excluded.correlated_seconds,
		last_state = excluded.last_state,
		last_seconds = excluded.last_seconds,
		trigger_id = excluded.trigger_id,
		task_id = excluded.task_id
`

// SaveMeasurement stores one row per generation of the measurement
func (s *sqlStore) SaveMeasurement(ctx context.Context, sessionID string, m latency.Measurement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.rebind(upsertMeasurement)
	for _, gen := range models.Generations {
		pair := m.Pair(gen)
		link, linked := m.Links[gen]
		var triggerID, taskID sql.NullInt64
		if linked {
			triggerID = sql.NullInt64{Int64: int64(link.TriggerID), Valid: true}
			taskID = sql.NullInt64{Int64: int64(link.TaskID), Valid: true}
		}
		_, err := tx.ExecContext(ctx, query,
			s.scope, sessionID, m.Round, string(gen), m.StartedAt.UTC(), m.Elapsed.Milliseconds(),
			pair.Correlated.State.String(), nullSeconds(pair.Correlated),
			pair.LastInserted.State.String(), nullSeconds(pair.LastInserted),
			triggerID, taskID,
		)
		if err != nil {
			return fmt.Errorf("failed to save round %d (%s): %w", m.Round, gen, err)
		}
	}
	return tx.Commit()
}

func nullSeconds(d latency.Delta) sql.NullFloat64 {
	v, ok := d.Seconds()
	return sql.NullFloat64{Float64: v, Valid: ok}
}

// Stats summarises measured correlated deltas per generation
func (s *sqlStore) Stats(ctx context.Context) ([]GenerationStats, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT generation,
		       COUNT(*),
		       COUNT(correlated_seconds),
		       COALESCE(MIN(correlated_seconds), 0),
		       COALESCE(AVG(correlated_seconds), 0),
		       COALESCE(MAX(correlated_seconds), 0)
		FROM measurements
		WHERE scope = ? AND correlated_state <> ?
		GROUP BY generation
		ORDER BY generation
	`), s.scope, latency.NotApplicable.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var out []GenerationStats
	for rows.Next() {
		var (
			gen           string
			min, avg, max float64
			st            GenerationStats
		)
		if err := rows.Scan(&gen, &st.Rounds, &st.Measured, &min, &avg, &max); err != nil {
			return nil, err
		}
		st.Generation = models.Generation(gen)
		st.Min = seconds(min)
		st.Avg = seconds(avg)
		st.Max = seconds(max)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Sessions lists recorded runs, most recent first
func (s *sqlStore) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT session_id, COUNT(DISTINCT round), MIN(started_at), MAX(started_at)
		FROM measurements
		WHERE scope = ?
		GROUP BY session_id
		ORDER BY MAX(started_at) DESC
	`), s.scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess        Session
			first, last timeValue
		)
		if err := rows.Scan(&sess.ID, &sess.Rounds, &first, &last); err != nil {
			return nil, err
		}
		sess.FirstSeen = first.t
		sess.LastSeen = last.t
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *sqlStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Millisecond)
}

// timeValue scans aggregate timestamps, which SQLite returns as text
type timeValue struct {
	t time.Time
}

func (v *timeValue) Scan(src interface{}) error {
	switch x := src.(type) {
	case time.Time:
		v.t = x.UTC()
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	case nil:
		v.t = time.Time{}
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
	return nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func (v *timeValue) parse(s string) error {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}
