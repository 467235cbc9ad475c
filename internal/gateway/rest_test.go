package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/wflatency/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, session Session) *RESTClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session.SiteURL = server.URL + "/sites/probe"
	opts := DefaultOptions()
	opts.RequestsPerSecond = 0
	opts.HTTPClient = server.Client()
	client, err := NewRESTClient(session, opts)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func odataErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"odata.error": map[string]interface{}{
			"code":    "-2147024809, System.ArgumentException",
			"message": map[string]string{"lang": "en-US", "value": msg},
		},
	})
}

func TestNewRESTClient_RejectsBadSiteURL(t *testing.T) {
	_, err := NewRESTClient(Session{SiteURL: "ftp://example.com"}, DefaultOptions())
	assert.Error(t, err)
}

func TestRESTClient_CreateSendsDigestAndAuth(t *testing.T) {
	var digestCalls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sites/probe/_api/contextinfo":
			atomic.AddInt32(&digestCalls, 1)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"FormDigestValue":          "digest-1",
				"FormDigestTimeoutSeconds": 1800,
			})
		case "/sites/probe/_api/web/lists/GetByTitle('Pings')/items":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "probe", user)
			assert.Equal(t, "secret", pass)
			assert.Equal(t, "digest-1", r.Header.Get("X-RequestDigest"))
			assert.Equal(t, http.MethodPost, r.Method)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "2024-03-01T12:00:00Z", body["Title"])
			writeJSON(w, http.StatusCreated, map[string]interface{}{
				"Id":       7,
				"Title":    body["Title"],
				"Created":  "2024-03-01T12:00:01Z",
				"Modified": "2024-03-01T12:00:01Z",
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}, Session{Username: "probe", Password: "secret"})

	ctx := context.Background()
	fields := map[string]interface{}{models.FieldTitle: "2024-03-01T12:00:00Z"}
	id, err := client.Create(ctx, "Pings", fields)
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	_, err = client.Create(ctx, "Pings", fields)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&digestCalls), "digest should be cached")
}

func TestRESTClient_BearerToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"ItemCount": 12})
	}, Session{Token: "tok"})

	n, err := client.Count(context.Background(), "Pings")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestRESTClient_QueryRecent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sites/probe/_api/web/lists/GetByTitle('PingsWorkflowTasks2010')/items", r.URL.Path)
		assert.Equal(t, "ID desc", r.URL.Query().Get("$orderby"))
		assert.Equal(t, "1", r.URL.Query().Get("$top"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"value": []map[string]interface{}{{
				"Id":             40,
				"Title":          "Approve",
				"Created":        "2024-03-01T12:00:05Z",
				"Modified":       "2024-03-01T12:00:05Z",
				"WorkflowItemId": 12,
			}},
		})
	}, Session{})

	recs, err := client.QueryRecent(context.Background(), "PingsWorkflowTasks2010", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 40, recs[0].ID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC), recs[0].Modified)

	task, err := models.TaskFromRecord(models.GenA, recs[0])
	require.NoError(t, err)
	assert.Equal(t, 12, task.Correlation.ForeignKey)
}

func TestRESTClient_ErrorMapping(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "Missing") {
			odataErr(w, http.StatusNotFound, "List 'Missing' does not exist at site with URL 'http://x'.")
			return
		}
		odataErr(w, http.StatusNotFound, "Item does not exist. It may have been deleted by another user.")
	}, Session{})

	ctx := context.Background()
	_, err := client.Get(ctx, "Pings", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrContainerNotFound))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Code, "ArgumentException")

	_, err = client.Get(ctx, "Missing", 3)
	assert.True(t, errors.Is(err, ErrContainerNotFound))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRESTClient_QueryAllFollowsNextLink(t *testing.T) {
	var serverURL string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("page") == "2":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]interface{}{{"Id": 3}},
			})
		default:
			assert.Equal(t, "500", r.URL.Query().Get("$top"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value":          []map[string]interface{}{{"Id": 1}, {"Id": 2}},
				"odata.nextLink": serverURL + "/sites/probe/_api/web/lists/GetByTitle('Pings')/items?page=2",
			})
		}
	}, Session{})
	serverURL = strings.TrimSuffix(client.site, "/sites/probe")

	pager := client.QueryAll(context.Background(), "Pings")
	recs, err := Collect(context.Background(), pager)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, 2, pager.Pages())
	assert.False(t, pager.More())
}

func TestRESTClient_InstancesAndSubscriptions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case path == "/sites/probe/_api/contextinfo":
			writeJSON(w, http.StatusOK, map[string]interface{}{"FormDigestValue": "d"})
		case strings.HasSuffix(path, "GetByTitle('Pings')") && r.URL.Query().Get("$select") == "Id":
			writeJSON(w, http.StatusOK, map[string]interface{}{"Id": "list-guid"})
		case strings.HasSuffix(path, "/EnumerateInstancesForListItem(listId='list-guid',itemId=5)"):
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]interface{}{
					{"Id": "i-1", "Status": 1, "WorkflowSubscriptionId": "s-b"},
					{"Id": "i-2", "Status": 4, "WorkflowSubscriptionId": "s-b"},
				},
			})
		case strings.HasSuffix(path, "/WorkflowAssociations"):
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]interface{}{{"Id": "a-1", "Name": "Approval 2010", "Enabled": true}},
			})
		case strings.HasSuffix(path, "/EnumerateSubscriptionsByList(listId='list-guid')"):
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]interface{}{{"Id": "s-b", "Name": "Approval 2013", "Enabled": false}},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, path)
			w.WriteHeader(http.StatusTeapot)
		}
	}, Session{})

	ctx := context.Background()
	instances, err := client.EnumerateInstances(ctx, "Pings", 5)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, models.InstanceRunning, instances[0].Status)
	assert.Equal(t, models.InstanceCanceled, instances[1].Status)
	assert.Equal(t, 5, instances[0].RecordID)
	assert.Equal(t, "Pings", instances[0].Container)

	subs, err := client.EnumerateSubscriptions(ctx, "Pings")
	require.NoError(t, err)
	assert.Equal(t, []models.Subscription{
		{ID: "a-1", Name: "Approval 2010", Generation: models.GenA, Enabled: true},
		{ID: "s-b", Name: "Approval 2013", Generation: models.GenB, Enabled: false},
	}, subs)
}

func TestRESTClient_BatchCommitCollectsFailures(t *testing.T) {
	var order []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case path == "/sites/probe/_api/contextinfo":
			writeJSON(w, http.StatusOK, map[string]interface{}{"FormDigestValue": "d"})
			return
		case strings.Contains(path, "TerminateWorkflow"):
			order = append(order, "terminate")
		case strings.HasSuffix(path, "items(1)"):
			assert.Equal(t, "DELETE", r.Header.Get("X-HTTP-Method"))
			assert.Equal(t, "*", r.Header.Get("If-Match"))
			order = append(order, "delete 1")
		case strings.HasSuffix(path, "items(2)"):
			order = append(order, "delete 2")
			odataErr(w, http.StatusNotFound, "Item does not exist.")
			return
		}
		w.WriteHeader(http.StatusOK)
	}, Session{})

	b := client.NewBatch()
	b.Terminate(models.AsyncInstance{ID: "i-1", Container: "Pings", RecordID: 1})
	b.Delete("Pings", 1)
	b.Delete("Pings", 2)
	assert.Equal(t, 3, b.Len())

	err := b.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"terminate", "delete 1", "delete 2"}, order)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	require.Len(t, batchErr.Failed, 1)
	assert.Equal(t, 2, batchErr.Failed[0].Op.RecordID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, b.Len())
}

func TestRESTClient_BatchKeepsRecordWhenTerminateFails(t *testing.T) {
	var order []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case path == "/sites/probe/_api/contextinfo":
			writeJSON(w, http.StatusOK, map[string]interface{}{"FormDigestValue": "d"})
			return
		case strings.Contains(path, "TerminateWorkflow(instanceId='i-1')"):
			order = append(order, "terminate i-1")
			odataErr(w, http.StatusInternalServerError, "Workflow service unavailable.")
			return
		case strings.Contains(path, "TerminateWorkflow(instanceId='i-2')"):
			order = append(order, "terminate i-2")
			odataErr(w, http.StatusNotFound, "Item does not exist.")
			return
		case strings.HasSuffix(path, "items(1)"):
			order = append(order, "delete 1")
		case strings.HasSuffix(path, "items(2)"):
			order = append(order, "delete 2")
		}
		w.WriteHeader(http.StatusOK)
	}, Session{})

	b := client.NewBatch()
	b.Terminate(models.AsyncInstance{ID: "i-1", Container: "Pings", RecordID: 1, Status: models.InstanceRunning})
	b.Delete("Pings", 1)
	b.Terminate(models.AsyncInstance{ID: "i-2", Container: "Pings", RecordID: 2, Status: models.InstanceRunning})
	b.Delete("Pings", 2)

	err := b.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"terminate i-1", "terminate i-2", "delete 2"}, order)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	require.Len(t, batchErr.Failed, 3)
	assert.Equal(t, OpTerminate, batchErr.Failed[0].Op.Kind)
	assert.Equal(t, OpDelete, batchErr.Failed[1].Op.Kind)
	assert.Equal(t, 1, batchErr.Failed[1].Op.RecordID)
	assert.ErrorIs(t, batchErr.Failed[1], ErrActiveInstance)
	assert.ErrorIs(t, batchErr.Failed[2], ErrNotFound)
}

func TestRESTClient_EnsureContainer(t *testing.T) {
	var created bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case path == "/sites/probe/_api/contextinfo":
			writeJSON(w, http.StatusOK, map[string]interface{}{"FormDigestValue": "d"})
		case strings.HasSuffix(path, "GetByTitle('Pings')"):
			writeJSON(w, http.StatusOK, map[string]interface{}{"Id": "g1", "BaseTemplate": 100})
		case strings.HasSuffix(path, "GetByTitle('PingsWorkflowHistory')"):
			odataErr(w, http.StatusNotFound, "List 'PingsWorkflowHistory' does not exist at site.")
		case path == "/sites/probe/_api/web/lists" && r.Method == http.MethodPost:
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(TemplateWorkflowHistory), body["BaseTemplate"])
			created = true
			writeJSON(w, http.StatusCreated, map[string]interface{}{"Id": "g2"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, path)
			w.WriteHeader(http.StatusTeapot)
		}
	}, Session{})

	ctx := context.Background()
	ok, err := client.EnsureContainer(ctx, "Pings", TemplateGenericList)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = client.EnsureContainer(ctx, "Pings", TemplateTasks)
	assert.Error(t, err)

	ok, err = client.EnsureContainer(ctx, "PingsWorkflowHistory", TemplateWorkflowHistory)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, created)
}
