package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/pkg/models"
)

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestTSVSink_Continuous(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTSVSink(&buf)
	require.NoError(t, sink.WriteHeader())
	require.NoError(t, sink.WriteHeader())

	rows := []latency.Measurement{
		{
			Round: 1,
			Pairs: map[models.Generation]latency.Pair{
				models.GenA: {Correlated: latency.Of(5 * time.Second), LastInserted: latency.Of(-25 * time.Second)},
				models.GenB: latency.NotApplicablePair,
			},
		},
		{
			Round: 2,
			Pairs: map[models.Generation]latency.Pair{
				models.GenA: {Correlated: latency.Of(0), LastInserted: latency.Of(0)},
				models.GenB: {Correlated: latency.Delta{State: latency.Pending}, LastInserted: latency.Of(8 * time.Second)},
			},
		},
		{
			Round: 3,
			Pairs: map[models.Generation]latency.Pair{
				models.GenA: {Correlated: latency.Of(26*time.Hour + 3*time.Minute + 4*time.Second), LastInserted: latency.Of(time.Minute)},
				models.GenB: {Correlated: latency.Delta{State: latency.Malformed}, LastInserted: latency.Of(61 * time.Second)},
			},
		},
		{Round: 4},
	}
	for _, m := range rows {
		require.NoError(t, sink.WriteRound(m))
	}

	golden(t).Assert(t, "continuous", buf.Bytes())
}

func TestTSVSink_HeaderWrittenBeforeFirstRow(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTSVSink(&buf)
	require.NoError(t, sink.WriteRound(latency.Measurement{Round: 7}))
	assert.Equal(t, "Run\tWF2010Actual\tWF2013Actual\tWF2010Last\tWF2013Last\n7\tN/A\tN/A\tN/A\tN/A\n", buf.String())
}
