package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/pkg/models"
)

// SimulatedEngine makes a MemoryGateway behave like a site with workflow
// engines attached: every trigger record gets a task in each active
// generation's task container.
type SimulatedEngine struct {
	Gateway    *MemoryGateway
	Containers models.Containers
	// Subscriptions maps each active generation to its subscription name
	Subscriptions map[models.Generation]string
	// Lag is added to the trigger's timestamp to stamp the task
	Lag map[models.Generation]time.Duration
	// PendingEvery leaves every Nth Gen-B payload empty; 0 disables
	PendingEvery int
	// Logger receives tasks the engine failed to create; nil discards them
	Logger *logging.Logger

	mu      sync.Mutex
	reacted int
}

// Install creates the containers and subscriptions and hooks trigger creation
func (e *SimulatedEngine) Install() {
	g := e.Gateway
	g.AddContainer(e.Containers.Trigger, TemplateGenericList)
	g.AddContainer(e.Containers.TasksA, TemplateTasks)
	g.AddContainer(e.Containers.TasksB, TemplateTasksTimeline)
	g.AddContainer(e.Containers.History, TemplateWorkflowHistory)

	for gen, name := range e.Subscriptions {
		g.AddSubscription(e.Containers.Trigger, models.Subscription{
			ID:         fmt.Sprintf("sub-%s", gen),
			Name:       name,
			Generation: gen,
			Enabled:    true,
		})
	}
	g.OnCreate(e.react)
}

func (e *SimulatedEngine) react(ctx context.Context, container string, rec models.Record) {
	if container != e.Containers.Trigger {
		return
	}
	e.mu.Lock()
	e.reacted++
	n := e.reacted
	e.mu.Unlock()

	for _, gen := range models.Generations {
		if _, ok := e.Subscriptions[gen]; !ok {
			continue
		}
		at := rec.Modified.Add(e.Lag[gen])
		fields := map[string]interface{}{models.FieldTitle: "Approve " + rec.Title}
		switch gen {
		case models.GenA:
			fields[models.FieldWorkflowItemID] = rec.ID
		case models.GenB:
			if e.PendingEvery > 0 && n%e.PendingEvery == 0 {
				fields[models.FieldRelatedItems] = nil
			} else {
				fields[models.FieldRelatedItems] = fmt.Sprintf(`[{"ItemId":%d,"WebId":"00000000-0000-0000-0000-000000000000","ListId":"%s"}]`, rec.ID, e.Containers.Trigger)
			}
			e.Gateway.StartInstance(container, rec.ID, "sub-"+string(gen))
		}
		if _, err := e.Gateway.CreateAt(e.Containers.Tasks(gen), fields, at); err != nil {
			e.logger().Error("Failed to create simulated task", logging.Fields{
				"generation": gen.Label(),
				"trigger":    rec.ID,
				"error":      err.Error(),
			})
		}
	}
}

func (e *SimulatedEngine) logger() *logging.Logger {
	if e.Logger == nil {
		return logging.Nop()
	}
	return e.Logger
}
