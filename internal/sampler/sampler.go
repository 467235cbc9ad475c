// Package sampler drives measurement rounds against the workflow service.
//
// A round writes one trigger record, then reads the newest trigger and the
// newest task of each active engine generation. If an active generation has
// produced no task yet the round is deferred: nothing is reported and the
// same round number is retried after a full interval.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/wflatency/internal/correlate"
	"github.com/psantana5/wflatency/internal/gateway"
	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/internal/tracing"
	"github.com/psantana5/wflatency/pkg/models"
)

// DefaultSubscriptionNames are the workflow names looked for on the trigger
// container when deciding which generations are active.
var DefaultSubscriptionNames = map[models.Generation]string{
	models.GenA: "WF2010",
	models.GenB: "WF2013",
}

// Config controls sampling
type Config struct {
	Interval   time.Duration
	Containers models.Containers
	// SubscriptionNames maps each generation to the subscription that marks it active
	SubscriptionNames map[models.Generation]string
	// Rounds stops the loop after that many reported rounds; 0 runs until cancelled
	Rounds int
	// SessionID identifies this probe run in logs, spans and stored results
	SessionID string
}

// Outcome is what a single round produced
type Outcome int

const (
	OutcomeMeasured Outcome = iota
	OutcomeDeferred
)

func (o Outcome) String() string {
	if o == OutcomeDeferred {
		return "deferred"
	}
	return "measured"
}

// RoundResult is the result of one round
type RoundResult struct {
	Outcome     Outcome
	Measurement latency.Measurement
	// DeferredBy lists the active generations that had no task yet
	DeferredBy []models.Generation
}

// Sink receives one measurement per reported round
type Sink interface {
	WriteRound(m latency.Measurement) error
}

// Observer is notified of every round, including deferred and failed ones
type Observer interface {
	RoundMeasured(m latency.Measurement)
	RoundDeferred(round int)
	RoundFailed(round int, err error)
}

// Recorder persists measured rounds
type Recorder interface {
	SaveMeasurement(ctx context.Context, sessionID string, m latency.Measurement) error
}

// State accumulates the progress of the continuous loop
type State struct {
	// Round is the number of the next round to run, starting at 1
	Round    int
	Measured int
	Deferred int
	Failed   int
	Last     *latency.Measurement
}

// Reported returns how many rounds advanced the round counter
func (s State) Reported() int {
	return s.Measured + s.Failed
}

// Sampler runs measurement rounds
type Sampler struct {
	cfg       Config
	gw        gateway.Gateway
	logger    *logging.Logger
	tracer    *tracing.Provider
	sink      Sink
	recorder  Recorder
	observers []Observer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Sampler
type Option func(*Sampler)

// WithLogger sets the sampler's logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// WithTracer wraps each round in a span
func WithTracer(p *tracing.Provider) Option {
	return func(s *Sampler) { s.tracer = p }
}

// WithSink sets where measured rounds are written
func WithSink(sink Sink) Option {
	return func(s *Sampler) { s.sink = sink }
}

// WithRecorder persists measured rounds
func WithRecorder(r Recorder) Option {
	return func(s *Sampler) { s.recorder = r }
}

// WithObserver adds a round observer
func WithObserver(o Observer) Option {
	return func(s *Sampler) { s.observers = append(s.observers, o) }
}

// WithClock replaces the wall clock and the sleep between rounds
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sampler) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// New creates a sampler
func New(cfg Config, gw gateway.Gateway, opts ...Option) *Sampler {
	if cfg.SubscriptionNames == nil {
		cfg.SubscriptionNames = DefaultSubscriptionNames
	}
	s := &Sampler{
		cfg:    cfg,
		gw:     gw,
		logger: logging.Nop(),
		tracer: tracing.Noop(),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Round runs one measurement round numbered n
func (s *Sampler) Round(ctx context.Context, n int) (RoundResult, error) {
	c := s.cfg.Containers
	start := s.now().UTC()

	title := start.Format(time.RFC3339)
	if _, err := s.gw.Create(ctx, c.Trigger, map[string]interface{}{models.FieldTitle: title}); err != nil {
		return RoundResult{}, fmt.Errorf("failed to create trigger: %w", err)
	}

	triggers, err := s.gw.QueryRecent(ctx, c.Trigger, 1)
	if err != nil {
		return RoundResult{}, fmt.Errorf("failed to query triggers: %w", err)
	}
	if len(triggers) == 0 {
		return RoundResult{}, fmt.Errorf("trigger container %s is empty after insert", c.Trigger)
	}
	lastTrigger := models.TriggerFromRecord(triggers[0])

	active, err := s.activeGenerations(ctx)
	if err != nil {
		return RoundResult{}, err
	}

	tasks := make(map[models.Generation]models.Record)
	var missing []models.Generation
	for _, gen := range models.Generations {
		if !active[gen] {
			continue
		}
		recs, err := s.gw.QueryRecent(ctx, c.Tasks(gen), 1)
		if err != nil {
			return RoundResult{}, fmt.Errorf("failed to query %s tasks: %w", gen.Label(), err)
		}
		if len(recs) == 0 {
			missing = append(missing, gen)
			continue
		}
		tasks[gen] = recs[0]
	}
	if len(missing) > 0 {
		return RoundResult{Outcome: OutcomeDeferred, DeferredBy: missing}, nil
	}

	m := latency.Measurement{
		Round:     n,
		StartedAt: start,
		Pairs:     make(map[models.Generation]latency.Pair, len(models.Generations)),
		Links:     make(map[models.Generation]models.CorrelationLink),
	}
	for _, gen := range models.Generations {
		obs := latency.Observation{Generation: gen, Active: active[gen], LastTrigger: lastTrigger}
		if obs.Active {
			link, err := s.observe(ctx, gen, tasks[gen], &obs)
			if err != nil {
				return RoundResult{}, err
			}
			if link != nil {
				m.Links[gen] = *link
			}
		}
		m.Pairs[gen] = latency.Aggregate(obs)
	}
	m.Elapsed = s.now().UTC().Sub(start)

	return RoundResult{Outcome: OutcomeMeasured, Measurement: m}, nil
}

// observe fills obs from the newest task of one generation. Data problems
// are recorded in obs; only remote failures are returned.
func (s *Sampler) observe(ctx context.Context, gen models.Generation, rec models.Record, obs *latency.Observation) (*models.CorrelationLink, error) {
	task, err := models.TaskFromRecord(gen, rec)
	obs.Task = &task
	if err != nil {
		obs.ResolveErr = &correlate.MalformedError{Generation: gen, TaskID: rec.ID, Raw: fmt.Sprint(rec.Fields), Reason: err.Error()}
		s.logger.Error("Malformed task record", logging.Fields{"generation": gen.Label(), "task": rec.ID, "error": err})
		return nil, nil
	}

	link, err := correlate.Link(task)
	switch {
	case correlate.IsPending(err):
		obs.ResolveErr = err
		s.logger.Debug("Correlation payload not populated yet", logging.Fields{"generation": gen.Label(), "task": task.ID})
		return nil, nil
	case correlate.IsMalformed(err):
		obs.ResolveErr = err
		var me *correlate.MalformedError
		errors.As(err, &me)
		s.logger.Error("Malformed correlation payload", logging.Fields{"generation": gen.Label(), "task": task.ID, "payload": me.Raw})
		return nil, nil
	case err != nil:
		return nil, err
	}

	rec, err = s.gw.Get(ctx, s.cfg.Containers.Trigger, link.TriggerID)
	if errors.Is(err, gateway.ErrNotFound) {
		s.logger.Warn("Correlated trigger no longer exists", logging.Fields{"generation": gen.Label(), "task": task.ID, "trigger": link.TriggerID})
		return &link, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger %d: %w", link.TriggerID, err)
	}
	trigger := models.TriggerFromRecord(rec)
	obs.Trigger = &trigger
	return &link, nil
}

// activeGenerations reports which generations have an enabled subscription
// with the configured name on the trigger container.
func (s *Sampler) activeGenerations(ctx context.Context) (map[models.Generation]bool, error) {
	subs, err := s.gw.EnumerateSubscriptions(ctx, s.cfg.Containers.Trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate subscriptions: %w", err)
	}
	active := make(map[models.Generation]bool, len(models.Generations))
	for _, sub := range subs {
		name, ok := s.cfg.SubscriptionNames[sub.Generation]
		if ok && sub.Enabled && sub.Name == name {
			active[sub.Generation] = true
		}
	}
	return active, nil
}
