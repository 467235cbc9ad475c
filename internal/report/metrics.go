package report

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/internal/teardown"
	"github.com/psantana5/wflatency/pkg/models"
)

const namespace = "wflatency"

// Metrics holds the probe's Prometheus collectors in a private registry
type Metrics struct {
	registry *prometheus.Registry
	now      func() time.Time

	rounds          *prometheus.CounterVec
	deltaSeconds    *prometheus.GaugeVec
	deltaState      *prometheus.CounterVec
	correlatedHist  *prometheus.HistogramVec
	lastRound       prometheus.Gauge
	roundDuration   prometheus.Histogram
	teardownRecords *prometheus.GaugeVec
	teardownPercent *prometheus.GaugeVec
	hostCPU         prometheus.Gauge
	hostMemory      prometheus.Gauge

	anomalies *AnomalyLog
	health    *Health
}

// NewMetrics creates and registers all collectors
func NewMetrics(trigger string) *Metrics {
	labels := prometheus.Labels{"trigger": trigger}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		now:      time.Now,
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rounds_total",
			Help:        "Sampling rounds by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		deltaSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "delta_seconds",
			Help:        "Most recent measured delta by generation and kind",
			ConstLabels: labels,
		}, []string{"generation", "kind"}),
		deltaState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "deltas_total",
			Help:        "Reported deltas by generation, kind and state",
			ConstLabels: labels,
		}, []string{"generation", "kind", "state"}),
		correlatedHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "correlated_delta_seconds",
			Help:        "Distribution of correlated deltas",
			ConstLabels: labels,
			Buckets:     []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"generation"}),
		lastRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_round_timestamp_seconds",
			Help:        "Unix time of the most recent measured round",
			ConstLabels: labels,
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "round_duration_seconds",
			Help:        "Wall time spent in remote calls per measured round",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		teardownRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "teardown_processed_records",
			Help:        "Records processed by the current drain of a container",
			ConstLabels: labels,
		}, []string{"container"}),
		teardownPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "teardown_progress_percent",
			Help:        "Progress of the current drain of a container",
			ConstLabels: labels,
		}, []string{"container"}),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "CPU usage of the probe host",
		}),
		hostMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_percent",
			Help:      "Memory usage of the probe host",
		}),
		anomalies: NewAnomalyLog(50),
		health:    NewHealth(),
	}

	m.registry.MustRegister(
		m.rounds, m.deltaSeconds, m.deltaState, m.correlatedHist,
		m.lastRound, m.roundDuration, m.teardownRecords, m.teardownPercent,
		m.hostCPU, m.hostMemory,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Anomalies returns the log of recent anomalies
func (m *Metrics) Anomalies() *AnomalyLog {
	return m.anomalies
}

// Health returns the round health tracker served on /healthz
func (m *Metrics) Health() *Health {
	return m.health
}

// RoundMeasured records a reported measurement
func (m *Metrics) RoundMeasured(meas latency.Measurement) {
	m.health.RecordMeasured()
	m.rounds.WithLabelValues("measured").Inc()
	m.lastRound.Set(float64(meas.StartedAt.Unix()))
	m.roundDuration.Observe(meas.Elapsed.Seconds())

	for _, gen := range models.Generations {
		pair := meas.Pair(gen)
		m.observeDelta(meas.Round, gen, "correlated", pair.Correlated)
		m.observeDelta(meas.Round, gen, "last_inserted", pair.LastInserted)
		if v, ok := pair.Correlated.Seconds(); ok {
			m.correlatedHist.WithLabelValues(gen.Label()).Observe(v)
		}
	}
	m.SampleHost()
}

func (m *Metrics) observeDelta(round int, gen models.Generation, kind string, d latency.Delta) {
	m.deltaState.WithLabelValues(gen.Label(), kind, d.State.String()).Inc()
	if v, ok := d.Seconds(); ok {
		m.deltaSeconds.WithLabelValues(gen.Label(), kind).Set(v)
	}
	if d.State == latency.Malformed {
		m.anomalies.Add(Anomaly{Round: round, At: m.now().UTC(), Kind: "malformed", Generation: gen.Label(), Detail: kind})
	}
}

// RoundDeferred records a round retried because tasks were missing
func (m *Metrics) RoundDeferred(round int) {
	m.health.RecordDeferred()
	m.rounds.WithLabelValues("deferred").Inc()
}

// RoundFailed records a round aborted by a remote error
func (m *Metrics) RoundFailed(round int, err error) {
	m.health.RecordFailure(err)
	m.rounds.WithLabelValues("failed").Inc()
	m.anomalies.Add(Anomaly{Round: round, At: m.now().UTC(), Kind: "failed", Detail: err.Error()})
}

// TeardownProgress records the progress of a drain
func (m *Metrics) TeardownProgress(p teardown.Progress) {
	m.teardownRecords.WithLabelValues(p.Container).Set(float64(p.Processed))
	m.teardownPercent.WithLabelValues(p.Container).Set(p.Percent)
}

// SampleHost updates the host CPU and memory gauges. Failures leave the
// previous values in place.
func (m *Metrics) SampleHost() {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.hostCPU.Set(pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.hostMemory.Set(vm.UsedPercent)
	}
}
