package latency

import (
	"time"

	"github.com/psantana5/wflatency/internal/correlate"
	"github.com/psantana5/wflatency/pkg/models"
)

// Pair holds both delta kinds for one generation
type Pair struct {
	// Correlated is measured against the trigger the task points at
	Correlated Delta `json:"correlated"`
	// LastInserted is measured against the newest trigger, whichever task it caused
	LastInserted Delta `json:"last_inserted"`
}

// NotApplicablePair is reported for generations without an active subscription
var NotApplicablePair = Pair{
	Correlated:   Delta{State: NotApplicable},
	LastInserted: Delta{State: NotApplicable},
}

// Observation is what one round saw for a single generation
type Observation struct {
	Generation models.Generation
	Active     bool
	Task       *models.TaskRecord
	// Trigger is the record the task resolved to; nil when resolution failed
	Trigger     *models.TriggerRecord
	ResolveErr  error
	LastTrigger models.TriggerRecord
}

// Aggregate computes the deltas for one observation
func Aggregate(obs Observation) Pair {
	if !obs.Active {
		return NotApplicablePair
	}
	if obs.Task == nil {
		return Pair{
			Correlated:   Delta{State: Pending},
			LastInserted: Delta{State: Pending},
		}
	}

	pair := Pair{
		LastInserted: Between(obs.Task.Modified, obs.LastTrigger.Timestamp()),
	}

	switch {
	case obs.ResolveErr != nil && correlate.IsMalformed(obs.ResolveErr):
		pair.Correlated = Delta{State: Malformed}
	case obs.ResolveErr != nil, obs.Trigger == nil:
		pair.Correlated = Delta{State: Pending}
	default:
		pair.Correlated = Between(obs.Task.Modified, obs.Trigger.Timestamp())
	}
	return pair
}

// Measurement is one emitted report row
type Measurement struct {
	Round     int                                          `json:"round"`
	StartedAt time.Time                                    `json:"started_at"`
	Elapsed   time.Duration                                `json:"elapsed"`
	Pairs     map[models.Generation]Pair                   `json:"pairs"`
	Links     map[models.Generation]models.CorrelationLink `json:"links,omitempty"`
}

// Pair returns the deltas for a generation, N/A if it was not observed
func (m Measurement) Pair(g models.Generation) Pair {
	if p, ok := m.Pairs[g]; ok {
		return p
	}
	return NotApplicablePair
}
