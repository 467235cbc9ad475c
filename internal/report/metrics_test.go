package report

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/internal/teardown"
	"github.com/psantana5/wflatency/pkg/models"
)

func sampleMeasurement() latency.Measurement {
	return latency.Measurement{
		Round:     3,
		StartedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Elapsed:   800 * time.Millisecond,
		Pairs: map[models.Generation]latency.Pair{
			models.GenA: {Correlated: latency.Of(5 * time.Second), LastInserted: latency.Of(-25 * time.Second)},
			models.GenB: {Correlated: latency.Delta{State: latency.Malformed}, LastInserted: latency.Of(8 * time.Second)},
		},
	}
}

func TestMetrics_RoundMeasured(t *testing.T) {
	m := NewMetrics("Pings")
	m.RoundMeasured(sampleMeasurement())
	m.RoundDeferred(4)
	m.RoundFailed(4, errors.New("503"))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.deltaSeconds.WithLabelValues("WF2010", "correlated")))
	assert.Equal(t, -25.0, testutil.ToFloat64(m.deltaSeconds.WithLabelValues("WF2010", "last_inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deltaState.WithLabelValues("WF2013", "correlated", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rounds.WithLabelValues("measured")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rounds.WithLabelValues("deferred")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rounds.WithLabelValues("failed")))
	assert.Equal(t, float64(1709294400), testutil.ToFloat64(m.lastRound))

	anomalies := m.Anomalies().Recent()
	require.Len(t, anomalies, 2)
	assert.Equal(t, "malformed", anomalies[0].Kind)
	assert.Equal(t, "WF2013", anomalies[0].Generation)
	assert.Equal(t, "failed", anomalies[1].Kind)
	assert.Equal(t, "503", anomalies[1].Detail)
}

func TestMetrics_CorrelatedHistogram(t *testing.T) {
	m := NewMetrics("Pings")
	m.RoundMeasured(sampleMeasurement())
	m.RoundMeasured(sampleMeasurement())

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() != "wflatency_correlated_delta_seconds" {
			continue
		}
		require.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())
		require.Len(t, mf.GetMetric(), 1, "malformed deltas are not observed")
		hist = mf.GetMetric()[0].GetHistogram()
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.Equal(t, 10.0, hist.GetSampleSum())
}

func TestMetrics_TeardownProgress(t *testing.T) {
	m := NewMetrics("Pings")
	m.TeardownProgress(teardown.Progress{Container: "Pings", Processed: 250, Total: 300, Percent: 83.3})
	assert.Equal(t, 250.0, testutil.ToFloat64(m.teardownRecords.WithLabelValues("Pings")))
	assert.Equal(t, 83.3, testutil.ToFloat64(m.teardownPercent.WithLabelValues("Pings")))
}

func TestEncodeAndTextfile(t *testing.T) {
	m := NewMetrics("Pings")
	m.RoundMeasured(sampleMeasurement())

	data, err := Encode(m.Registry())
	require.NoError(t, err)
	assert.Contains(t, string(data), `wflatency_delta_seconds{generation="WF2010",kind="correlated",trigger="Pings"} 5`)
	assert.Contains(t, string(data), "# TYPE wflatency_correlated_delta_seconds histogram")

	path := filepath.Join(t.TempDir(), "wflatency.prom")
	obs := &TextfileObserver{Metrics: m, Path: path}
	obs.RoundDeferred(4)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), `wflatency_rounds_total{outcome="measured",trigger="Pings"} 1`)

	var failed error
	bad := &TextfileObserver{Metrics: m, Path: filepath.Join(t.TempDir(), "missing", "x.prom"), OnError: func(err error) { failed = err }}
	bad.RoundMeasured(sampleMeasurement())
	assert.Error(t, failed)
}

func TestRouter(t *testing.T) {
	m := NewMetrics("Pings")
	m.RoundFailed(2, errors.New("timeout"))
	router := NewRouter(m)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "timeout", health["last_error"])

	for i := 0; i < 4; i++ {
		m.RoundFailed(3+i, errors.New("timeout"))
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wflatency_rounds_total")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anomalies", nil))
	var anomalies []Anomaly
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &anomalies))
	require.Len(t, anomalies, 5)
	assert.Equal(t, 2, anomalies[0].Round)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAnomalyLog_DropsOldest(t *testing.T) {
	l := NewAnomalyLog(2)
	for i := 1; i <= 3; i++ {
		l.Add(Anomaly{Round: i})
	}
	recent := l.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[0].Round)
	assert.Equal(t, 3, recent[1].Round)
}
