package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/internal/tracing"
)

// Run executes rounds until ctx is cancelled or the configured number of
// rounds has been reported. It returns the final state; cancellation is not
// an error.
func (s *Sampler) Run(ctx context.Context, state State) (State, error) {
	if state.Round < 1 {
		state.Round = 1
	}
	log := s.logger.WithField("session", s.cfg.SessionID)
	log.Info("Starting continuous sampling", logging.Fields{
		"trigger":  s.cfg.Containers.Trigger,
		"interval": s.cfg.Interval.String(),
	})

	for {
		if s.cfg.Rounds > 0 && state.Reported() >= s.cfg.Rounds {
			break
		}
		if ctx.Err() != nil {
			break
		}

		var (
			wait time.Duration
			err  error
		)
		state, wait, err = s.Step(ctx, state)
		if err != nil {
			return state, err
		}
		if s.cfg.Rounds > 0 && state.Reported() >= s.cfg.Rounds {
			break
		}
		if err := s.sleep(ctx, wait); err != nil {
			break
		}
	}

	log.Info("Sampling stopped", logging.Fields{
		"measured": state.Measured,
		"deferred": state.Deferred,
		"failed":   state.Failed,
	})
	return state, nil
}

// Step runs the round numbered state.Round and returns the updated state
// and how long to wait before the next one. The returned error is set only
// when the measurement could not be written to the sink.
func (s *Sampler) Step(ctx context.Context, state State) (State, time.Duration, error) {
	n := state.Round
	started := s.now()

	roundCtx, span := s.tracer.StartSpan(ctx, "sampler.round",
		attribute.Int("round", n),
		attribute.String("session", s.cfg.SessionID),
	)
	res, err := s.Round(roundCtx, n)
	traceID := tracing.TraceID(roundCtx)
	if err != nil {
		tracing.SetError(roundCtx, err)
	} else {
		span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	}
	span.End()

	wait := s.cfg.Interval - s.now().Sub(started)
	if wait < 0 {
		wait = 0
	}

	switch {
	case err != nil && ctx.Err() != nil:
		// interrupted mid-round; nothing to report
		return state, 0, nil
	case err != nil:
		s.logger.Error("Round failed", logging.Fields{"round": n, "error": err.Error(), "trace": traceID})
		for _, o := range s.observers {
			o.RoundFailed(n, err)
		}
		state.Failed++
		state.Round++
		return state, wait, nil
	case res.Outcome == OutcomeDeferred:
		s.logger.Info("Round deferred, waiting for tasks", logging.Fields{"round": n, "generations": fmt.Sprint(res.DeferredBy)})
		for _, o := range s.observers {
			o.RoundDeferred(n)
		}
		state.Deferred++
		return state, s.cfg.Interval, nil
	}

	m := res.Measurement
	if s.sink != nil {
		if err := s.sink.WriteRound(m); err != nil {
			return state, 0, fmt.Errorf("failed to write round %d: %w", n, err)
		}
	}
	for _, o := range s.observers {
		o.RoundMeasured(m)
	}
	if s.recorder != nil {
		if err := s.recorder.SaveMeasurement(ctx, s.cfg.SessionID, m); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Failed to store round", logging.Fields{"round": n, "error": err.Error()})
		}
	}

	state.Measured++
	state.Round++
	state.Last = &m
	return state, wait, nil
}
