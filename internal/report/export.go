package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/wflatency/internal/latency"
)

// Encode renders every metric family of the gatherer in the text format
func Encode(g prometheus.Gatherer) ([]byte, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return nil, fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// WriteTextfile writes the metrics to path for a node exporter textfile
// collector. The file is replaced atomically so scrapes never see a partial
// write.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	data, err := Encode(g)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// TextfileObserver rewrites the textfile after every round
type TextfileObserver struct {
	Metrics *Metrics
	Path    string
	// OnError receives write failures; nil ignores them
	OnError func(error)
}

func (o *TextfileObserver) flush() {
	if err := WriteTextfile(o.Metrics.Registry(), o.Path); err != nil && o.OnError != nil {
		o.OnError(err)
	}
}

// RoundMeasured rewrites the textfile
func (o *TextfileObserver) RoundMeasured(m latency.Measurement) { o.flush() }

// RoundDeferred rewrites the textfile
func (o *TextfileObserver) RoundDeferred(round int) { o.flush() }

// RoundFailed rewrites the textfile
func (o *TextfileObserver) RoundFailed(round int, err error) { o.flush() }
