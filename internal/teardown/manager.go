// Package teardown drains probe containers in bounded batches.
//
// Each container is drained independently: fetch the most recent page of at
// most BatchSize records, terminate the live workflow instances of every
// record on the page, delete the records, commit, repeat. Terminations are
// queued ahead of the delete of the record they belong to, so a record is
// never removed while an instance still references it; when a termination
// fails, the record stays and the drain stops with that error. A drain ends
// on an empty or short page, or once the initial total has been processed
// and the container counts empty. Nothing is kept between pages, which makes
// a drain safe to interrupt and run again.
package teardown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/wflatency/internal/gateway"
	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/internal/tracing"
)

// DefaultBatchSize is the largest page fetched and committed at once
const DefaultBatchSize = 250

// Config defines how containers are drained
type Config struct {
	BatchSize int
}

// DefaultConfig returns sensible defaults for teardown
func DefaultConfig() Config {
	return Config{BatchSize: DefaultBatchSize}
}

// State is the drain state of one container
type State string

const (
	StateDraining  State = "draining"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateMissing   State = "missing"
)

// Result summarises the drain of one container
type Result struct {
	Container  string        `json:"container" yaml:"container"`
	State      State         `json:"state" yaml:"state"`
	Total      int           `json:"total" yaml:"total"`
	Processed  int           `json:"processed" yaml:"processed"`
	Pages      int           `json:"pages" yaml:"pages"`
	Terminated int           `json:"terminated" yaml:"terminated"`
	Skipped    int           `json:"skipped" yaml:"skipped"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Err        error         `json:"-" yaml:"-"`
}

// Stats tracks teardown operations across drains
type Stats struct {
	LastDrainTime    time.Time
	TotalRecords     int64
	TotalTerminated  int64
	TotalPages       int64
	LastDrainElapsed time.Duration
}

// Manager drains containers through a gateway
type Manager struct {
	config     Config
	gw         gateway.Gateway
	logger     *logging.Logger
	tracer     *tracing.Provider
	onProgress ProgressFunc

	mu    sync.RWMutex
	stats Stats
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager's logger
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracer wraps each page in a span
func WithTracer(p *tracing.Provider) Option {
	return func(m *Manager) { m.tracer = p }
}

// WithProgress registers a callback run after each committed page
func WithProgress(fn ProgressFunc) Option {
	return func(m *Manager) { m.onProgress = fn }
}

// NewManager creates a new teardown manager
func NewManager(config Config, gw gateway.Gateway, opts ...Option) *Manager {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	m := &Manager{
		config: config,
		gw:     gw,
		logger: logging.Nop(),
		tracer: tracing.Noop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DrainAll drains every container in turn. A failing container does not stop
// the others; the returned error joins the failures.
func (m *Manager) DrainAll(ctx context.Context, containers []string) ([]Result, error) {
	results := make([]Result, 0, len(containers))
	var errs []error
	for _, c := range containers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := m.Drain(ctx, c)
		results = append(results, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", c, err))
		}
	}
	return results, errors.Join(errs...)
}

// Drain removes every record from one container
func (m *Manager) Drain(ctx context.Context, container string) (Result, error) {
	start := time.Now()
	res := Result{Container: container, State: StateDraining}
	log := m.logger.WithField("container", container)

	total, err := m.gw.Count(ctx, container)
	if errors.Is(err, gateway.ErrContainerNotFound) {
		log.Warn("Container does not exist, nothing to drain")
		res.State = StateMissing
		return res, nil
	}
	if err != nil {
		return m.fail(res, start, fmt.Errorf("failed to count records: %w", err))
	}
	res.Total = total
	log.Info("Draining container", logging.Fields{"total": total, "batch_size": m.config.BatchSize})

	tracker := newTracker(container, total)
	// an empty container needs no page fetch
	for total > 0 {
		if err := ctx.Err(); err != nil {
			return m.fail(res, start, err)
		}

		page, err := m.drainPage(ctx, container, &res)
		if err != nil {
			return m.fail(res, start, err)
		}
		if page == 0 {
			break
		}
		res.Pages++
		res.Processed += page

		p := tracker.advance(page)
		log.Debug("Page committed", logging.Fields{"processed": p.Processed, "total": p.Total, "percent": fmt.Sprintf("%.1f", p.Percent)})
		if m.onProgress != nil {
			m.onProgress(p)
		}
		if page < m.config.BatchSize {
			break
		}
		if res.Processed >= total {
			remaining, err := m.gw.Count(ctx, container)
			if err != nil {
				return m.fail(res, start, fmt.Errorf("failed to count records: %w", err))
			}
			if remaining == 0 {
				break
			}
			log.Debug("Records added while draining", logging.Fields{"remaining": remaining})
		}
	}

	res.State = StateCompleted
	res.Duration = time.Since(start)
	m.record(res)
	log.Info("Container drained", logging.Fields{
		"processed":  res.Processed,
		"terminated": res.Terminated,
		"pages":      res.Pages,
		"duration":   res.Duration.Round(time.Millisecond).String(),
	})
	return res, nil
}

// drainPage fetches, tears down and commits one page and returns its size
func (m *Manager) drainPage(ctx context.Context, container string, res *Result) (int, error) {
	ctx, span := m.tracer.StartSpan(ctx, "teardown.page",
		attribute.String("container", container),
		attribute.Int("page", res.Pages+1),
	)
	defer span.End()

	records, err := m.gw.QueryRecent(ctx, container, m.config.BatchSize)
	if err != nil {
		tracing.SetError(ctx, err)
		return 0, fmt.Errorf("failed to fetch page: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("records", len(records)))

	batch := m.gw.NewBatch()
	// pages arrive most recent first; tear down oldest first
	for i := len(records) - 1; i >= 0; i-- {
		id := records[i].ID
		instances, err := m.gw.EnumerateInstances(ctx, container, id)
		if errors.Is(err, gateway.ErrNotFound) {
			m.logger.Debug("Record already gone", logging.Fields{"container": container, "id": id})
			res.Skipped++
			continue
		}
		if err != nil {
			tracing.SetError(ctx, err)
			return 0, fmt.Errorf("failed to enumerate instances of %s/%d: %w", container, id, err)
		}
		for _, inst := range instances {
			if inst.NeedsTermination() {
				batch.Terminate(inst)
				res.Terminated++
			}
		}
		batch.Delete(container, id)
	}

	if err := m.commit(ctx, batch); err != nil {
		tracing.SetError(ctx, err)
		return 0, err
	}
	return len(records), nil
}

// commit applies a batch. Operations that failed because an overlapping run
// already removed the target are ignored; any other failure is returned.
func (m *Manager) commit(ctx context.Context, batch gateway.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	err := batch.Commit(ctx)
	if err == nil {
		return nil
	}

	var batchErr *gateway.BatchError
	if !errors.As(err, &batchErr) {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	for _, f := range batchErr.Failed {
		if errors.Is(f.Err, gateway.ErrNotFound) {
			m.logger.Debug("Ignoring operation on missing target", logging.Fields{"op": f.Op.String()})
			continue
		}
		return fmt.Errorf("failed to %s: %w", f.Op, f.Err)
	}
	return nil
}

func (m *Manager) fail(res Result, start time.Time, err error) (Result, error) {
	res.State = StateFailed
	res.Err = err
	res.Duration = time.Since(start)
	m.record(res)
	m.logger.Error("Drain failed", logging.Fields{"container": res.Container, "processed": res.Processed, "error": err})
	return res, err
}

func (m *Manager) record(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.LastDrainTime = time.Now()
	m.stats.LastDrainElapsed = res.Duration
	m.stats.TotalRecords += int64(res.Processed)
	m.stats.TotalTerminated += int64(res.Terminated)
	m.stats.TotalPages += int64(res.Pages)
}

// GetStats returns teardown statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
