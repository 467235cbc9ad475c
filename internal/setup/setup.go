// Package setup provisions the containers, feature and legacy workflow
// association a probe site needs. Every step is idempotent.
package setup

import (
	"context"
	"fmt"

	"github.com/psantana5/wflatency/internal/gateway"
	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/pkg/models"
)

// DispositionApprovalFeature is the site collection feature that provides
// the legacy Disposition Approval workflow template
const DispositionApprovalFeature = "c85e5759-f323-4efb-b548-443d2216efb5"

// DispositionApprovalTemplate is the legacy workflow template associated
// with the trigger container
const DispositionApprovalTemplate = "Disposition Approval"

// Step kinds
const (
	KindContainer   = "container"
	KindFeature     = "feature"
	KindAssociation = "association"
)

// Step is the outcome of one provisioning step
type Step struct {
	Kind    string `json:"kind" yaml:"kind"`
	Name    string `json:"name" yaml:"name"`
	Created bool   `json:"created" yaml:"created"`
}

// Plan lists the containers to ensure with their templates, in creation order
func Plan(c models.Containers) []ContainerSpec {
	return []ContainerSpec{
		{Title: c.Trigger, Template: gateway.TemplateGenericList},
		{Title: c.TasksA, Template: gateway.TemplateTasks},
		{Title: c.TasksB, Template: gateway.TemplateTasksTimeline},
		{Title: c.History, Template: gateway.TemplateWorkflowHistory},
	}
}

// ContainerSpec names a container and the template it is built from
type ContainerSpec struct {
	Title    string
	Template int
}

// Run ensures the probe containers exist, activates the legacy workflow
// feature and associates the legacy workflow with the trigger container
// under associationName. It stops at the first failing step and returns the
// steps completed so far.
func Run(ctx context.Context, p gateway.Provisioner, c models.Containers, associationName string, logger *logging.Logger) ([]Step, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	var steps []Step

	for _, spec := range Plan(c) {
		created, err := p.EnsureContainer(ctx, spec.Title, spec.Template)
		if err != nil {
			return steps, err
		}
		logger.Info("Container ready", logging.Fields{"container": spec.Title, "template": spec.Template, "created": created})
		steps = append(steps, Step{Kind: KindContainer, Name: spec.Title, Created: created})
	}

	activated, err := p.EnsureFeature(ctx, DispositionApprovalFeature)
	if err != nil {
		return steps, err
	}
	logger.Info("Workflow feature active", logging.Fields{"feature": DispositionApprovalFeature, "activated": activated})
	steps = append(steps, Step{Kind: KindFeature, Name: DispositionApprovalFeature, Created: activated})

	created, err := p.EnsureAssociation(ctx, gateway.AssociationSpec{
		Container:        c.Trigger,
		Name:             associationName,
		Template:         DispositionApprovalTemplate,
		TaskContainer:    c.TasksA,
		HistoryContainer: c.History,
		AutoStartCreate:  true,
		AutoStartChange:  true,
	})
	if err != nil {
		return steps, err
	}
	logger.Info("Legacy workflow associated", logging.Fields{"container": c.Trigger, "name": associationName, "created": created})
	steps = append(steps, Step{Kind: KindAssociation, Name: associationName, Created: created})

	return steps, nil
}

// ManualSteps describes the Gen-B workflow that cannot be provisioned
// through the API and has to be created by hand once.
func ManualSteps(c models.Containers, subscriptionName string) string {
	return fmt.Sprintf(`The 2013 workflow has to be created manually, once:
  1. Open the site in SharePoint Designer 2013 and create a list workflow
     named %q on list %q (platform: SharePoint 2013 Workflow).
  2. Add a "Create List Item" action on %q that sets RelatedItems to the
     current item.
  3. Set the start options to start automatically when an item is created
     and publish the workflow.
`, subscriptionName, c.Trigger, c.TasksB)
}
