package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/psantana5/wflatency/pkg/models"
)

var (
	// ErrNotFound means the record or instance does not exist, typically
	// because an overlapping run already deleted it.
	ErrNotFound = errors.New("item does not exist")
	// ErrContainerNotFound means the named container does not exist
	ErrContainerNotFound = errors.New("container does not exist")
	// ErrActiveInstance is returned when deleting a record that still has a
	// non-terminal workflow instance attached.
	ErrActiveInstance = errors.New("record has an active workflow instance")
)

// APIError is a non-success response from the remote service
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: API error (status %d, %s): %s", e.Method, e.URL, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: API error (status %d): %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// Is maps service messages onto the package sentinels
func (e *APIError) Is(target error) bool {
	msg := strings.ToLower(e.Message)
	listMissing := strings.Contains(msg, "list") && strings.Contains(msg, "does not exist")
	switch target {
	case ErrNotFound:
		if strings.Contains(msg, "item does not exist") {
			return true
		}
		return e.StatusCode == 404 && !listMissing
	case ErrContainerNotFound:
		return listMissing
	}
	return false
}

// OpKind is the kind of a batched operation
type OpKind string

const (
	OpTerminate OpKind = "terminate"
	OpDelete    OpKind = "delete"
)

// Op is one queued batch operation
type Op struct {
	Kind      OpKind
	Container string
	RecordID  int
	Instance  models.AsyncInstance
}

func (o Op) String() string {
	if o.Kind == OpTerminate {
		return fmt.Sprintf("terminate instance %s of %s/%d", o.Instance.ID, o.Instance.Container, o.Instance.RecordID)
	}
	return fmt.Sprintf("delete %s/%d", o.Container, o.RecordID)
}

// OpError is the failure of one batched operation
type OpError struct {
	Op  Op
	Err error
}

func (e OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e OpError) Unwrap() error {
	return e.Err
}

// BatchError lists the operations of a commit that failed
type BatchError struct {
	Failed []OpError
}

func (e *BatchError) Error() string {
	if len(e.Failed) == 1 {
		return "batch commit: " + e.Failed[0].Error()
	}
	return fmt.Sprintf("batch commit: %d operations failed, first: %v", len(e.Failed), e.Failed[0])
}

// Unwrap exposes every failed operation to errors.Is and errors.As
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

type recordKey struct {
	container string
	id        int
}

// commitGuard withholds the delete of a record whose instance could not be
// terminated earlier in the same commit. Instances that are already gone do
// not block the delete.
type commitGuard map[recordKey]error

func (g commitGuard) observe(op Op, err error) {
	if op.Kind == OpTerminate && err != nil && !errors.Is(err, ErrNotFound) {
		g[recordKey{op.Container, op.RecordID}] = err
	}
}

func (g commitGuard) check(op Op) error {
	if op.Kind != OpDelete {
		return nil
	}
	if cause, ok := g[recordKey{op.Container, op.RecordID}]; ok {
		return fmt.Errorf("%w: %s/%d kept, terminate failed: %v", ErrActiveInstance, op.Container, op.RecordID, cause)
	}
	return nil
}
