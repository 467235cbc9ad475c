// Package report writes probe results: one tab-separated row per measured
// round, Prometheus metrics for the same measurements, and a small log of
// recent anomalies.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/pkg/models"
)

// Columns is the TSV header of the continuous report
var Columns = []string{"Run", "WF2010Actual", "WF2013Actual", "WF2010Last", "WF2013Last"}

// TSVSink writes measurements as tab-separated rows
type TSVSink struct {
	mu            sync.Mutex
	w             io.Writer
	headerWritten bool
}

// NewTSVSink creates a sink writing to w
func NewTSVSink(w io.Writer) *TSVSink {
	return &TSVSink{w: w}
}

// WriteHeader writes the column header once
func (s *TSVSink) WriteHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeHeaderLocked()
}

func (s *TSVSink) writeHeaderLocked() error {
	if s.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(s.w, strings.Join(Columns, "\t")); err != nil {
		return err
	}
	s.headerWritten = true
	return nil
}

// WriteRound writes one row, preceded by the header if it was not written yet
func (s *TSVSink) WriteRound(m latency.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeHeaderLocked(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(s.w, FormatRow(m))
	return err
}

// FormatRow renders a measurement without the trailing newline
func FormatRow(m latency.Measurement) string {
	a := m.Pair(models.GenA)
	b := m.Pair(models.GenB)
	return strings.Join([]string{
		fmt.Sprint(m.Round),
		a.Correlated.String(),
		b.Correlated.String(),
		a.LastInserted.String(),
		b.LastInserted.String(),
	}, "\t")
}
