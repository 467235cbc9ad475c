// Package gateway talks to the remote list and workflow service.
//
// Gateway is the only way the rest of the program reaches the service. The
// REST implementation speaks the service's JSON API over a shared session;
// the memory implementation backs tests and dry runs.
package gateway

import (
	"context"

	"github.com/psantana5/wflatency/pkg/models"
)

// Gateway defines record, instance and subscription operations on named
// containers. Calls are blocking request/response.
type Gateway interface {
	Create(ctx context.Context, container string, fields map[string]interface{}) (int, error)
	Update(ctx context.Context, container string, id int, fields map[string]interface{}) error
	Delete(ctx context.Context, container string, id int) error
	Get(ctx context.Context, container string, id int) (models.Record, error)

	// QueryRecent returns at most n records, most recently inserted first
	QueryRecent(ctx context.Context, container string, n int) ([]models.Record, error)
	// QueryAll pages through every record in no particular order
	QueryAll(ctx context.Context, container string) *Pager
	// Count returns the container's item count as reported by the service
	Count(ctx context.Context, container string) (int, error)

	EnumerateInstances(ctx context.Context, container string, recordID int) ([]models.AsyncInstance, error)
	Terminate(ctx context.Context, instance models.AsyncInstance) error
	EnumerateSubscriptions(ctx context.Context, container string) ([]models.Subscription, error)

	// NewBatch starts a set of operations committed together
	NewBatch() Batch
}

// Batch queues terminate and delete operations and commits them in order.
// Commit returns a *BatchError listing the operations that failed.
type Batch interface {
	Terminate(instance models.AsyncInstance)
	Delete(container string, id int)
	Len() int
	Commit(ctx context.Context) error
}

// List templates used by setup
const (
	TemplateGenericList     = 100
	TemplateTasks           = 107
	TemplateWorkflowHistory = 140
	TemplateTasksTimeline   = 171
)

// AssociationSpec describes a legacy workflow association on a container
type AssociationSpec struct {
	Container        string
	Name             string
	Template         string
	TaskContainer    string
	HistoryContainer string
	AutoStartCreate  bool
	AutoStartChange  bool
}

// Provisioner ensures the containers and associations a probe needs exist.
type Provisioner interface {
	EnsureContainer(ctx context.Context, title string, template int) (created bool, err error)
	EnsureFeature(ctx context.Context, featureID string) (activated bool, err error)
	EnsureAssociation(ctx context.Context, spec AssociationSpec) (created bool, err error)
}
