package models

import "fmt"

// Generation identifies the workflow engine that produced a task container
type Generation string

const (
	GenA Generation = "wf2010"
	GenB Generation = "wf2013"
)

// Generations lists all engine generations in report order
var Generations = []Generation{GenA, GenB}

// Label returns the column prefix used in reports
func (g Generation) Label() string {
	switch g {
	case GenA:
		return "WF2010"
	case GenB:
		return "WF2013"
	default:
		return string(g)
	}
}

// ParseGeneration accepts the generation name or its report label
func ParseGeneration(s string) (Generation, error) {
	switch s {
	case "wf2010", "WF2010", "2010", "a", "A":
		return GenA, nil
	case "wf2013", "WF2013", "2013", "b", "B":
		return GenB, nil
	default:
		return "", fmt.Errorf("unknown generation %q", s)
	}
}

// Containers holds the titles of the lists that make up one probe setup
type Containers struct {
	Trigger string `json:"trigger" yaml:"trigger"`
	TasksA  string `json:"tasks_wf2010" yaml:"tasks_wf2010"`
	TasksB  string `json:"tasks_wf2013" yaml:"tasks_wf2013"`
	History string `json:"history" yaml:"history"`
}

// ContainersFor derives all container titles from the trigger container title
func ContainersFor(title string) Containers {
	return Containers{
		Trigger: title,
		TasksA:  title + "WorkflowTasks2010",
		TasksB:  title + "WorkflowTasks2013",
		History: title + "WorkflowHistory",
	}
}

// Tasks returns the task container for a generation
func (c Containers) Tasks(g Generation) string {
	if g == GenB {
		return c.TasksB
	}
	return c.TasksA
}

// All returns every container in teardown order
func (c Containers) All() []string {
	return []string{c.Trigger, c.TasksA, c.TasksB, c.History}
}
