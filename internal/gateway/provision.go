package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// EnsureContainer creates the list if it is missing. An existing list built
// from a different template is an error.
func (c *RESTClient) EnsureContainer(ctx context.Context, title string, template int) (bool, error) {
	var existing struct {
		ID           string      `json:"Id"`
		BaseTemplate json.Number `json:"BaseTemplate"`
	}
	err := c.do(ctx, http.MethodGet, listPath(title)+"?$select=Id,BaseTemplate", nil, nil, &existing)
	switch {
	case err == nil:
		got, perr := existing.BaseTemplate.Int64()
		if perr == nil && int(got) != template {
			return false, fmt.Errorf("container %s exists with template %d, want %d", title, got, template)
		}
		c.cacheListID(title, existing.ID)
		return false, nil
	case !errors.Is(err, ErrContainerNotFound) && !errors.Is(err, ErrNotFound):
		return false, fmt.Errorf("failed to look up container %s: %w", title, err)
	}

	body := map[string]interface{}{
		"Title":        title,
		"BaseTemplate": template,
	}
	var created struct {
		ID string `json:"Id"`
	}
	if err := c.do(ctx, http.MethodPost, "/_api/web/lists", body, nil, &created); err != nil {
		return false, fmt.Errorf("failed to create container %s: %w", title, err)
	}
	c.cacheListID(title, created.ID)
	return true, nil
}

// EnsureFeature activates a site collection feature if it is not active yet
func (c *RESTClient) EnsureFeature(ctx context.Context, featureID string) (bool, error) {
	var active struct {
		Value []struct {
			DefinitionID string `json:"DefinitionId"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/_api/site/features?$select=DefinitionId", nil, nil, &active); err != nil {
		return false, fmt.Errorf("failed to list features: %w", err)
	}
	for _, f := range active.Value {
		if strings.EqualFold(f.DefinitionID, featureID) {
			return false, nil
		}
	}

	path := fmt.Sprintf("/_api/site/features/add(featureId=guid'%s',force=false,featdefScope=0)", featureID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil, nil); err != nil {
		return false, fmt.Errorf("failed to activate feature %s: %w", featureID, err)
	}
	return true, nil
}

// EnsureAssociation attaches a legacy workflow to the container unless an
// association with the same name exists.
func (c *RESTClient) EnsureAssociation(ctx context.Context, spec AssociationSpec) (bool, error) {
	var assoc struct {
		Value []struct {
			Name string `json:"Name"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, listPath(spec.Container)+"/WorkflowAssociations?$select=Name", nil, nil, &assoc); err != nil {
		return false, fmt.Errorf("failed to list associations on %s: %w", spec.Container, err)
	}
	for _, a := range assoc.Value {
		if a.Name == spec.Name {
			return false, nil
		}
	}

	body := map[string]interface{}{
		"parameters": map[string]interface{}{
			"Name":             spec.Name,
			"TemplateName":     spec.Template,
			"TaskListTitle":    spec.TaskContainer,
			"HistoryListTitle": spec.HistoryContainer,
			"AutoStartCreate":  spec.AutoStartCreate,
			"AutoStartChange":  spec.AutoStartChange,
		},
	}
	if err := c.do(ctx, http.MethodPost, listPath(spec.Container)+"/WorkflowAssociations/Add", body, nil, nil); err != nil {
		return false, fmt.Errorf("failed to associate %s with %s: %w", spec.Name, spec.Container, err)
	}
	return true, nil
}

func (c *RESTClient) cacheListID(title, id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.listIDs[title] = id
	c.mu.Unlock()
}
