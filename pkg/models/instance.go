package models

import (
	"fmt"
	"strconv"
)

// InstanceStatus is the state of a workflow instance attached to a record
type InstanceStatus string

const (
	InstanceNotStarted InstanceStatus = "NotStarted"
	// the workflow service reports running instances as "Started"
	InstanceRunning    InstanceStatus = "Started"
	InstanceSuspended  InstanceStatus = "Suspended"
	InstanceCanceling  InstanceStatus = "Canceling"
	InstanceCanceled   InstanceStatus = "Canceled"
	InstanceTerminated InstanceStatus = "Terminated"
	InstanceCompleted  InstanceStatus = "Completed"
	InstanceInvalid    InstanceStatus = "Invalid"
)

// instanceStatusCodes follows the numeric enum the workflow service returns
var instanceStatusCodes = []InstanceStatus{
	InstanceNotStarted,
	InstanceRunning,
	InstanceSuspended,
	InstanceCanceling,
	InstanceCanceled,
	InstanceTerminated,
	InstanceCompleted,
	"NotSpecified",
	InstanceInvalid,
}

// ParseInstanceStatus accepts either the numeric code or the status name
func ParseInstanceStatus(v interface{}) (InstanceStatus, error) {
	switch s := v.(type) {
	case float64:
		return instanceStatusFromCode(int(s))
	case int:
		return instanceStatusFromCode(s)
	case string:
		if code, err := strconv.Atoi(s); err == nil {
			return instanceStatusFromCode(code)
		}
		for _, st := range instanceStatusCodes {
			if string(st) == s {
				return st, nil
			}
		}
		return "", fmt.Errorf("unknown instance status %q", s)
	default:
		return "", fmt.Errorf("unexpected instance status type %T", v)
	}
}

func instanceStatusFromCode(code int) (InstanceStatus, error) {
	if code < 0 || code >= len(instanceStatusCodes) {
		return "", fmt.Errorf("unknown instance status code %d", code)
	}
	return instanceStatusCodes[code], nil
}

// IsTerminal reports whether the instance can no longer make progress
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceCanceled, InstanceTerminated, InstanceCompleted, InstanceInvalid:
		return true
	default:
		return false
	}
}

// AsyncInstance is a workflow instance bound to one record
type AsyncInstance struct {
	ID             string         `json:"id"`
	Container      string         `json:"container"`
	RecordID       int            `json:"record_id"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Status         InstanceStatus `json:"status"`
}

// NeedsTermination reports whether teardown must terminate the instance
// before its record is deleted. Only canceled instances are skipped.
func (i AsyncInstance) NeedsTermination() bool {
	return i.Status != InstanceCanceled
}

// Subscription is a workflow association on a container
type Subscription struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Generation Generation `json:"generation"`
	Enabled    bool       `json:"enabled"`
}
