// Package latency computes time deltas between workflow tasks and the
// trigger records that started them.
package latency

import (
	"fmt"
	"time"
)

// State classifies a delta. Only Measured carries a value.
type State int

const (
	Measured State = iota
	NotApplicable
	Pending
	Malformed
)

func (s State) String() string {
	switch s {
	case Measured:
		return "measured"
	case NotApplicable:
		return "not_applicable"
	case Pending:
		return "pending"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Delta is a latency value together with why it may be missing. A measured
// zero means less than one second, since task timestamps have second
// resolution.
type Delta struct {
	State State         `json:"state"`
	Value time.Duration `json:"value,omitempty"`
}

// Of returns a measured delta
func Of(d time.Duration) Delta {
	return Delta{State: Measured, Value: d}
}

// Between returns the measured delta end - start
func Between(end, start time.Time) Delta {
	return Of(end.Sub(start))
}

// Seconds returns the value in seconds and whether the delta was measured
func (d Delta) Seconds() (float64, bool) {
	if d.State != Measured {
		return 0, false
	}
	return d.Value.Seconds(), true
}

// String renders the delta for the TSV report
func (d Delta) String() string {
	switch d.State {
	case Measured:
		return FormatDuration(d.Value)
	case NotApplicable:
		return "N/A"
	case Pending:
		return "pending"
	case Malformed:
		return "ERR"
	default:
		return "?"
	}
}

// FormatDuration renders whole seconds as [-][d.]hh:mm:ss
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int64(d / time.Second)
	days := total / 86400
	h := (total % 86400) / 3600
	m := (total % 3600) / 60
	s := total % 60
	if days > 0 {
		return fmt.Sprintf("%s%d.%02d:%02d:%02d", sign, days, h, m, s)
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}
