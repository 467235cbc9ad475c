package teardown

// Progress reports how far a container drain has come. Total is the count
// captured before the first page; Processed may pass it when records are
// added while draining, in which case Percent stays at 100.
type Progress struct {
	Container string  `json:"container"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// ProgressFunc receives progress after each committed page
type ProgressFunc func(Progress)

type tracker struct {
	container string
	total     int
	processed int
}

func newTracker(container string, total int) *tracker {
	return &tracker{container: container, total: total}
}

func (t *tracker) advance(n int) Progress {
	t.processed += n
	percent := 100.0
	if t.total > 0 && t.processed < t.total {
		percent = float64(t.processed) / float64(t.total) * 100
	}
	return Progress{
		Container: t.container,
		Processed: t.processed,
		Total:     t.total,
		Percent:   percent,
	}
}
