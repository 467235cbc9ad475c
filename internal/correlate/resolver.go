// Package correlate resolves which trigger record a workflow task belongs to.
//
// Each engine generation encodes the link differently. The legacy engine
// stores the trigger id in a foreign-key column; the newer engine embeds it
// in a serialized RelatedItems payload such as
//
//	[{"ItemId":226,"WebId":"3af92fc0-…","ListId":"df4fc146-…"}]
//
// which the engine may leave empty for a short while after creating the task.
// Resolution is pure: it never performs I/O and never mutates records.
package correlate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/psantana5/wflatency/pkg/models"
)

// ErrPending means the engine has created the task but not yet written the
// correlation payload. Callers retry on the next round.
var ErrPending = errors.New("correlation not yet available")

// MalformedError reports a correlation payload that is present but cannot be
// decoded.
type MalformedError struct {
	Generation models.Generation
	TaskID     int
	Raw        string
	Reason     string
	Err        error
}

func (e *MalformedError) Error() string {
	msg := fmt.Sprintf("malformed %s correlation: %s (payload: %s)", e.Generation, e.Reason, e.Raw)
	if e.TaskID != 0 {
		msg = fmt.Sprintf("task %d: %s", e.TaskID, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

var relatedItemPattern = regexp.MustCompile(`"ItemId":(\d+)`)

// resolvers is keyed by the generation tag of the field
var resolvers = map[models.Generation]func(models.CorrelationField) (int, error){
	models.GenA: resolveForeignKey,
	models.GenB: resolveRelatedItems,
}

// Resolve returns the id of the trigger record the field points at.
func Resolve(field models.CorrelationField) (int, error) {
	fn, ok := resolvers[field.Generation]
	if !ok {
		return 0, fmt.Errorf("no resolver for generation %q", field.Generation)
	}
	return fn(field)
}

// Link resolves a task into a correlation link
func Link(task models.TaskRecord) (models.CorrelationLink, error) {
	id, err := Resolve(task.Correlation)
	if err != nil {
		var me *MalformedError
		if errors.As(err, &me) {
			me.TaskID = task.ID
		}
		return models.CorrelationLink{}, err
	}
	return models.CorrelationLink{
		Generation: task.Correlation.Generation,
		TriggerID:  id,
		TaskID:     task.ID,
	}, nil
}

func resolveForeignKey(field models.CorrelationField) (int, error) {
	return field.ForeignKey, nil
}

func resolveRelatedItems(field models.CorrelationField) (int, error) {
	if field.Raw == nil || strings.TrimSpace(*field.Raw) == "" {
		return 0, ErrPending
	}
	raw := *field.Raw

	m := relatedItemPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, &MalformedError{Generation: field.Generation, Raw: raw, Reason: "no ItemId field"}
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, &MalformedError{Generation: field.Generation, Raw: raw, Reason: "ItemId out of range", Err: err}
	}
	return id, nil
}

// IsPending reports whether err means the correlation has not landed yet
func IsPending(err error) bool {
	return errors.Is(err, ErrPending)
}

// IsMalformed reports whether err is a correlation data error
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
