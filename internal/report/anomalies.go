package report

import (
	"sync"
	"time"
)

// Anomaly is a round that did not produce a clean measurement
type Anomaly struct {
	Round      int       `json:"round"`
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	Generation string    `json:"generation,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// AnomalyLog keeps the most recent anomalies in a ring buffer
type AnomalyLog struct {
	mu      sync.RWMutex
	samples []Anomaly
	maxSize int
}

// NewAnomalyLog creates a log holding at most maxSize entries
func NewAnomalyLog(maxSize int) *AnomalyLog {
	if maxSize <= 0 {
		maxSize = 50
	}
	return &AnomalyLog{samples: make([]Anomaly, 0, maxSize), maxSize: maxSize}
}

// Add records an anomaly, dropping the oldest when full
func (l *AnomalyLog) Add(a Anomaly) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) >= l.maxSize {
		l.samples = l.samples[1:]
	}
	l.samples = append(l.samples, a)
}

// Recent returns a copy of the stored anomalies, oldest first
func (l *AnomalyLog) Recent() []Anomaly {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Anomaly, len(l.samples))
	copy(out, l.samples)
	return out
}
