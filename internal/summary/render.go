package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/wflatency/internal/latency"
	"github.com/psantana5/wflatency/internal/store"
)

// Output formats accepted by Write and WriteHistory
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ValidFormat reports whether format is one of the supported outputs
func ValidFormat(format string) bool {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// Write renders a summary in the requested format
func Write(w io.Writer, s Summary, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, s)
	case FormatYAML:
		return writeYAML(w, s)
	case FormatTable, "":
		return writeTable(w, s)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func writeTable(w io.Writer, s Summary) error {
	fmt.Fprintf(w, "Container: %s (%d triggers)\n\n", s.Container, s.Triggers)

	table := tablewriter.NewWriter(w)
	table.Header("Generation", "Subscribed", "Tasks", "Correlated", "Pending", "Malformed", "Orphaned", "Unanswered")
	for _, g := range s.Generations {
		tasks := strconv.Itoa(g.Tasks)
		if g.Missing {
			tasks = "no container"
		}
		table.Append(
			g.Generation.Label(),
			yesNo(g.Subscribed),
			tasks,
			strconv.Itoa(g.Correlated),
			strconv.Itoa(g.Pending),
			strconv.Itoa(len(g.Malformed)),
			strconv.Itoa(len(g.Orphaned)),
			strconv.Itoa(len(g.Unanswered)),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, g := range s.Generations {
		if len(g.Unanswered) > 0 {
			fmt.Fprintf(w, "\n%s triggers without a task: %s\n", g.Generation.Label(), joinInts(g.Unanswered))
		}
		for _, m := range g.Malformed {
			fmt.Fprintf(w, "%s task %d malformed: %s\n", g.Generation.Label(), m.TaskID, m.Payload)
		}
	}
	return nil
}

// History is the stored-results view printed by summary --history
type History struct {
	Generations []HistoryRow    `json:"generations" yaml:"generations"`
	Sessions    []store.Session `json:"sessions" yaml:"sessions"`
}

// HistoryRow is one generation's stored correlated delta statistics
type HistoryRow struct {
	Generation string `json:"generation" yaml:"generation"`
	Rounds     int    `json:"rounds" yaml:"rounds"`
	Measured   int    `json:"measured" yaml:"measured"`
	Min        string `json:"min" yaml:"min"`
	Avg        string `json:"avg" yaml:"avg"`
	Max        string `json:"max" yaml:"max"`
}

// NewHistory formats store statistics for output
func NewHistory(stats []store.GenerationStats, sessions []store.Session) History {
	h := History{Sessions: sessions}
	for _, st := range stats {
		row := HistoryRow{
			Generation: st.Generation.Label(),
			Rounds:     st.Rounds,
			Measured:   st.Measured,
			Min:        "N/A",
			Avg:        "N/A",
			Max:        "N/A",
		}
		if st.Measured > 0 {
			row.Min = latency.FormatDuration(st.Min)
			row.Avg = latency.FormatDuration(st.Avg)
			row.Max = latency.FormatDuration(st.Max)
		}
		h.Generations = append(h.Generations, row)
	}
	return h
}

// WriteHistory renders stored results in the requested format
func WriteHistory(w io.Writer, h History, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, h)
	case FormatYAML:
		return writeYAML(w, h)
	case FormatTable, "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Generation", "Rounds", "Measured", "Min", "Avg", "Max")
	for _, row := range h.Generations {
		table.Append(row.Generation, strconv.Itoa(row.Rounds), strconv.Itoa(row.Measured), row.Min, row.Avg, row.Max)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d recorded session(s)\n", len(h.Sessions))
	for _, s := range h.Sessions {
		fmt.Fprintf(w, "  %s  %d rounds  %s .. %s\n", s.ID, s.Rounds,
			s.FirstSeen.Format("2006-01-02 15:04:05"), s.LastSeen.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
