// Package summary reports how many triggers each workflow generation has
// answered and which ones are still missing a task.
package summary

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/psantana5/wflatency/internal/correlate"
	"github.com/psantana5/wflatency/internal/gateway"
	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/pkg/models"
)

// MalformedTask is a task whose correlation payload could not be parsed
type MalformedTask struct {
	TaskID  int    `json:"task_id" yaml:"task_id"`
	Payload string `json:"payload" yaml:"payload"`
}

// Generation is the per-generation part of a summary
type Generation struct {
	Generation models.Generation `json:"generation" yaml:"generation"`
	Container  string            `json:"container" yaml:"container"`
	Subscribed bool              `json:"subscribed" yaml:"subscribed"`
	// Missing is set when the task container does not exist
	Missing    bool            `json:"missing,omitempty" yaml:"missing,omitempty"`
	Tasks      int             `json:"tasks" yaml:"tasks"`
	Correlated int             `json:"correlated" yaml:"correlated"`
	Pending    int             `json:"pending" yaml:"pending"`
	Malformed  []MalformedTask `json:"malformed,omitempty" yaml:"malformed,omitempty"`
	// Orphaned tasks point at a trigger that is no longer in the container
	Orphaned []int `json:"orphaned,omitempty" yaml:"orphaned,omitempty"`
	// Unanswered lists trigger ids without a task in this generation
	Unanswered []int `json:"unanswered,omitempty" yaml:"unanswered,omitempty"`
}

// Summary is the one-shot report for a probe container set
type Summary struct {
	Container   string       `json:"container" yaml:"container"`
	Triggers    int          `json:"triggers" yaml:"triggers"`
	Generations []Generation `json:"generations" yaml:"generations"`
}

// Builder reads the probe containers through a gateway
type Builder struct {
	gw     gateway.Gateway
	logger *logging.Logger
	names  map[models.Generation]string
}

// NewBuilder creates a summary builder. names maps each generation to the
// subscription name that marks it active.
func NewBuilder(gw gateway.Gateway, names map[models.Generation]string, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Builder{gw: gw, logger: logger, names: names}
}

// Build walks every record of the trigger and task containers
func (b *Builder) Build(ctx context.Context, containers models.Containers) (Summary, error) {
	out := Summary{Container: containers.Trigger}

	records, err := gateway.Collect(ctx, b.gw.QueryAll(ctx, containers.Trigger))
	if err != nil {
		return out, fmt.Errorf("failed to read %s: %w", containers.Trigger, err)
	}
	triggers := make(map[int]bool, len(records))
	for _, rec := range records {
		triggers[rec.ID] = true
	}
	out.Triggers = len(records)

	subs, err := b.gw.EnumerateSubscriptions(ctx, containers.Trigger)
	if err != nil {
		return out, fmt.Errorf("failed to enumerate subscriptions: %w", err)
	}

	for _, gen := range models.Generations {
		g, err := b.generation(ctx, gen, containers.Tasks(gen), triggers)
		if err != nil {
			return out, err
		}
		g.Subscribed = subscribed(subs, gen, b.names[gen])
		out.Generations = append(out.Generations, g)
	}
	return out, nil
}

func (b *Builder) generation(ctx context.Context, gen models.Generation, container string, triggers map[int]bool) (Generation, error) {
	g := Generation{Generation: gen, Container: container}

	records, err := gateway.Collect(ctx, b.gw.QueryAll(ctx, container))
	if errors.Is(err, gateway.ErrContainerNotFound) {
		g.Missing = true
		g.Unanswered = sortedKeys(triggers, nil)
		return g, nil
	}
	if err != nil {
		return g, fmt.Errorf("failed to read %s: %w", container, err)
	}
	g.Tasks = len(records)

	answered := make(map[int]bool)
	for _, rec := range records {
		task, err := models.TaskFromRecord(gen, rec)
		if err != nil {
			g.Malformed = append(g.Malformed, MalformedTask{TaskID: rec.ID, Payload: err.Error()})
			continue
		}
		link, err := correlate.Link(task)
		switch {
		case correlate.IsPending(err):
			g.Pending++
			continue
		case correlate.IsMalformed(err):
			var me *correlate.MalformedError
			errors.As(err, &me)
			b.logger.Warn("Malformed correlation payload", logging.Fields{
				"generation": string(gen),
				"task":       rec.ID,
				"payload":    me.Raw,
			})
			g.Malformed = append(g.Malformed, MalformedTask{TaskID: rec.ID, Payload: me.Raw})
			continue
		case err != nil:
			return g, err
		}

		if !triggers[link.TriggerID] {
			g.Orphaned = append(g.Orphaned, task.ID)
			continue
		}
		g.Correlated++
		answered[link.TriggerID] = true
	}

	g.Unanswered = sortedKeys(triggers, answered)
	sort.Ints(g.Orphaned)
	sort.Slice(g.Malformed, func(i, j int) bool { return g.Malformed[i].TaskID < g.Malformed[j].TaskID })
	return g, nil
}

func subscribed(subs []models.Subscription, gen models.Generation, name string) bool {
	for _, s := range subs {
		if s.Generation == gen && s.Name == name && s.Enabled {
			return true
		}
	}
	return false
}

func sortedKeys(all, exclude map[int]bool) []int {
	var out []int
	for id := range all {
		if !exclude[id] {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
