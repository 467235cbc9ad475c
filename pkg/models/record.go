package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names used on remote records
const (
	FieldTitle          = "Title"
	FieldWorkflowItemID = "WorkflowItemId"
	FieldRelatedItems   = "RelatedItems"
)

// Record is a raw item as returned by the remote gateway
type Record struct {
	ID       int                    `json:"id"`
	Title    string                 `json:"title,omitempty"`
	Created  time.Time              `json:"created"`
	Modified time.Time              `json:"modified"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// TriggerRecord is a probe item written to start one measurement round
type TriggerRecord struct {
	ID         int       `json:"id"`
	InsertedAt time.Time `json:"inserted_at"`
	Modified   time.Time `json:"modified"`
}

// Timestamp returns the server-side modification time, falling back to the
// emission time written into the title.
func (t TriggerRecord) Timestamp() time.Time {
	if !t.Modified.IsZero() {
		return t.Modified
	}
	return t.InsertedAt
}

// TriggerFromRecord converts a raw record from the trigger container
func TriggerFromRecord(rec Record) TriggerRecord {
	inserted := rec.Created
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec.Title)); err == nil {
		inserted = ts.UTC()
	}
	return TriggerRecord{
		ID:         rec.ID,
		InsertedAt: inserted,
		Modified:   rec.Modified,
	}
}

// TaskRecord is an item created by a workflow engine in reaction to a trigger
type TaskRecord struct {
	ID          int              `json:"id"`
	Modified    time.Time        `json:"modified"`
	Correlation CorrelationField `json:"correlation"`
}

// CorrelationField holds the link from a task back to its trigger. Exactly one
// of ForeignKey (Gen-A) or Raw (Gen-B) is meaningful, selected by Generation.
type CorrelationField struct {
	Generation Generation `json:"generation"`
	ForeignKey int        `json:"foreign_key,omitempty"`
	Raw        *string    `json:"raw,omitempty"`
}

// ForeignKeyField builds a Gen-A correlation
func ForeignKeyField(fk int) CorrelationField {
	return CorrelationField{Generation: GenA, ForeignKey: fk}
}

// RelatedItemsField builds a Gen-B correlation. A nil raw value means the
// engine has not populated the payload yet.
func RelatedItemsField(raw *string) CorrelationField {
	return CorrelationField{Generation: GenB, Raw: raw}
}

// TaskFromRecord decodes a task record according to the generation of the
// container it was read from.
func TaskFromRecord(gen Generation, rec Record) (TaskRecord, error) {
	task := TaskRecord{ID: rec.ID, Modified: rec.Modified}

	switch gen {
	case GenA:
		v, ok := rec.Fields[FieldWorkflowItemID]
		if !ok || v == nil {
			return task, fmt.Errorf("task %d: missing %s", rec.ID, FieldWorkflowItemID)
		}
		fk, err := toInt(v)
		if err != nil {
			return task, fmt.Errorf("task %d: invalid %s: %w", rec.ID, FieldWorkflowItemID, err)
		}
		task.Correlation = ForeignKeyField(fk)
	case GenB:
		v := rec.Fields[FieldRelatedItems]
		switch raw := v.(type) {
		case nil:
			task.Correlation = RelatedItemsField(nil)
		case string:
			task.Correlation = RelatedItemsField(&raw)
		default:
			return task, fmt.Errorf("task %d: %s has unexpected type %T", rec.ID, FieldRelatedItems, v)
		}
	default:
		return task, fmt.Errorf("unknown generation %q", gen)
	}

	return task, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("non-integer value %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// CorrelationLink pairs a task with the trigger it resolved to. It is derived
// on every read and never stored.
type CorrelationLink struct {
	Generation Generation `json:"generation"`
	TriggerID  int        `json:"trigger_id"`
	TaskID     int        `json:"task_id"`
}
