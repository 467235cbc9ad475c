package report

import (
	"sync"
	"time"
)

// HealthStatus represents the health state of the probe
type HealthStatus int

const (
	HealthStatusHealthy HealthStatus = iota
	HealthStatusDegraded
	HealthStatusUnhealthy
)

// String returns string representation of health status
func (hs HealthStatus) String() string {
	switch hs {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Health tracks round outcomes. The probe is unhealthy after
// MaxConsecutiveFailures failed rounds in a row or when no round has been
// measured for MaxMeasureAge; degraded from half that many failures or
// MaxConsecutiveDeferrals deferred rounds in a row.
type Health struct {
	mu  sync.RWMutex
	now func() time.Time

	status           HealthStatus
	lastStatusChange time.Time

	lastMeasured         time.Time
	consecutiveFailures  int
	consecutiveDeferrals int
	totalFailures        int64
	totalDeferrals       int64
	lastError            string

	MaxConsecutiveFailures  int
	MaxConsecutiveDeferrals int
	// MaxMeasureAge of zero disables the staleness check
	MaxMeasureAge time.Duration
}

// NewHealth creates a health tracker that starts healthy
func NewHealth() *Health {
	return newHealth(time.Now)
}

func newHealth(now func() time.Time) *Health {
	t := now()
	return &Health{
		now:                     now,
		status:                  HealthStatusHealthy,
		lastStatusChange:        t,
		lastMeasured:            t,
		MaxConsecutiveFailures:  5,
		MaxConsecutiveDeferrals: 10,
	}
}

// RecordMeasured records a reported round
func (h *Health) RecordMeasured() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastMeasured = h.now()
	h.consecutiveFailures = 0
	h.consecutiveDeferrals = 0
	h.updateStatus()
}

// RecordDeferred records a round retried because an engine had not reacted
func (h *Health) RecordDeferred() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveDeferrals++
	h.totalDeferrals++
	h.updateStatus()
}

// RecordFailure records a round aborted by a remote error
func (h *Health) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	h.totalFailures++
	if err != nil {
		h.lastError = err.Error()
	}
	h.updateStatus()
}

// updateStatus must be called with lock held
func (h *Health) updateStatus() {
	newStatus := HealthStatusHealthy

	switch {
	case h.MaxMeasureAge > 0 && h.now().Sub(h.lastMeasured) > h.MaxMeasureAge:
		newStatus = HealthStatusUnhealthy
	case h.consecutiveFailures >= h.MaxConsecutiveFailures:
		newStatus = HealthStatusUnhealthy
	case h.consecutiveFailures >= (h.MaxConsecutiveFailures+1)/2:
		newStatus = HealthStatusDegraded
	case h.consecutiveDeferrals >= h.MaxConsecutiveDeferrals:
		newStatus = HealthStatusDegraded
	}

	if newStatus != h.status {
		h.status = newStatus
		h.lastStatusChange = h.now()
	}
}

// Status returns the current health status, re-evaluating staleness
func (h *Health) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updateStatus()
	return h.status
}

// Report returns a detailed health report
func (h *Health) Report() map[string]interface{} {
	status := h.Status()

	h.mu.RLock()
	defer h.mu.RUnlock()
	report := map[string]interface{}{
		"status":                status.String(),
		"status_duration":       h.now().Sub(h.lastStatusChange).Round(time.Second).String(),
		"last_measured":         h.lastMeasured.UTC().Format(time.RFC3339),
		"consecutive_failures":  h.consecutiveFailures,
		"consecutive_deferrals": h.consecutiveDeferrals,
		"total_failures":        h.totalFailures,
		"total_deferrals":       h.totalDeferrals,
	}
	if h.lastError != "" {
		report["last_error"] = h.lastError
	}
	return report
}
