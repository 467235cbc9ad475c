package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/psantana5/wflatency/pkg/models"
)

const jsonNoMetadata = "application/json;odata=nometadata"

// Session carries the site and credentials shared by every call
type Session struct {
	SiteURL  string
	Username string
	Password string
	Token    string
}

// Options tunes the REST client
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	PageSize          int
	UserAgent         string
	// TLS replaces the default client TLS configuration
	TLS *tls.Config
	// HTTPClient replaces the default client, mainly for tests
	HTTPClient *http.Client
}

// DefaultOptions returns sensible defaults for the REST client
func DefaultOptions() Options {
	return Options{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
		PageSize:          DefaultPageSize,
		UserAgent:         "wflatency",
	}
}

// RESTClient implements Gateway and Provisioner over the service's REST API
type RESTClient struct {
	site      string
	session   Session
	client    *http.Client
	limiter   *rate.Limiter
	pageSize  int
	userAgent string

	mu            sync.Mutex
	digest        string
	digestExpires time.Time
	listIDs       map[string]string
}

// NewRESTClient creates a client bound to one site
func NewRESTClient(session Session, opts Options) (*RESTClient, error) {
	site := strings.TrimRight(session.SiteURL, "/")
	u, err := url.Parse(site)
	if err != nil {
		return nil, fmt.Errorf("invalid site URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid site URL %q: scheme must be http or https", session.SiteURL)
	}

	client := opts.HTTPClient
	if client == nil {
		client, err = newHTTPClient(opts.Timeout, opts.TLS)
		if err != nil {
			return nil, err
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &RESTClient{
		site:      site,
		session:   session,
		client:    client,
		limiter:   rate.NewLimiter(limit, burst),
		pageSize:  pageSize,
		userAgent: opts.UserAgent,
		listIDs:   make(map[string]string),
	}, nil
}

func newHTTPClient(timeout time.Duration, tlsConfig *tls.Config) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message struct {
			Value string `json:"value"`
		} `json:"message"`
	} `json:"odata.error"`
}

// do sends one request. body is JSON encoded when non-nil; out is decoded
// from the response when non-nil.
func (c *RESTClient) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.site + path
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", jsonNoMetadata)
	if body != nil {
		req.Header.Set("Content-Type", jsonNoMetadata)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	c.authenticate(req)
	if method == http.MethodPost && path != "/_api/contextinfo" {
		digest, err := c.requestDigest(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("X-RequestDigest", digest)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, URL: target, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var oe odataError
		if json.Unmarshal(data, &oe) == nil && oe.Error.Message.Value != "" {
			apiErr.Code = oe.Error.Code
			apiErr.Message = oe.Error.Message.Value
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *RESTClient) authenticate(req *http.Request) {
	switch {
	case c.session.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	case c.session.Username != "" || c.session.Password != "":
		req.SetBasicAuth(c.session.Username, c.session.Password)
	}
}

// requestDigest returns the form digest required on write requests, cached
// until the service says it expires.
func (c *RESTClient) requestDigest(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.digest != "" && time.Now().Before(c.digestExpires) {
		d := c.digest
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	var info struct {
		FormDigestValue          string      `json:"FormDigestValue"`
		FormDigestTimeoutSeconds json.Number `json:"FormDigestTimeoutSeconds"`
	}
	if err := c.do(ctx, http.MethodPost, "/_api/contextinfo", nil, nil, &info); err != nil {
		return "", fmt.Errorf("failed to obtain request digest: %w", err)
	}
	timeout, err := info.FormDigestTimeoutSeconds.Int64()
	if err != nil || timeout <= 0 {
		timeout = 1800
	}

	c.mu.Lock()
	c.digest = info.FormDigestValue
	// refresh a minute early
	c.digestExpires = time.Now().Add(time.Duration(timeout)*time.Second - time.Minute)
	c.mu.Unlock()
	return info.FormDigestValue, nil
}

func listPath(title string) string {
	return "/_api/web/lists/GetByTitle('" + url.PathEscape(strings.ReplaceAll(title, "'", "''")) + "')"
}

func (c *RESTClient) listID(ctx context.Context, title string) (string, error) {
	c.mu.Lock()
	id, ok := c.listIDs[title]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var out struct {
		ID string `json:"Id"`
	}
	if err := c.do(ctx, http.MethodGet, listPath(title)+"?$select=Id", nil, nil, &out); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.listIDs[title] = out.ID
	c.mu.Unlock()
	return out.ID, nil
}

// Create adds an item and returns its id
func (c *RESTClient) Create(ctx context.Context, container string, fields map[string]interface{}) (int, error) {
	var item map[string]interface{}
	if err := c.do(ctx, http.MethodPost, listPath(container)+"/items", fields, nil, &item); err != nil {
		return 0, err
	}
	rec, err := decodeRecord(item)
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// Update merges fields into an item
func (c *RESTClient) Update(ctx context.Context, container string, id int, fields map[string]interface{}) error {
	headers := map[string]string{"X-HTTP-Method": "MERGE", "If-Match": "*"}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/items(%d)", listPath(container), id), fields, headers, nil)
}

// Delete removes an item
func (c *RESTClient) Delete(ctx context.Context, container string, id int) error {
	headers := map[string]string{"X-HTTP-Method": "DELETE", "If-Match": "*"}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/items(%d)", listPath(container), id), nil, headers, nil)
}

// Get reads one item
func (c *RESTClient) Get(ctx context.Context, container string, id int) (models.Record, error) {
	var item map[string]interface{}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/items(%d)", listPath(container), id), nil, nil, &item); err != nil {
		return models.Record{}, err
	}
	return decodeRecord(item)
}

type itemCollection struct {
	Value    []map[string]interface{} `json:"value"`
	NextLink string                   `json:"odata.nextLink"`
}

// QueryRecent returns up to n items ordered by descending id. The service
// rejects row limits above its list view threshold (5000 by default).
func (c *RESTClient) QueryRecent(ctx context.Context, container string, n int) ([]models.Record, error) {
	q := url.Values{}
	q.Set("$orderby", "ID desc")
	q.Set("$top", strconv.Itoa(n))

	var coll itemCollection
	if err := c.do(ctx, http.MethodGet, listPath(container)+"/items?"+q.Encode(), nil, nil, &coll); err != nil {
		return nil, err
	}
	return decodeRecords(coll.Value)
}

// QueryAll follows the service's next links page by page
func (c *RESTClient) QueryAll(ctx context.Context, container string) *Pager {
	first := listPath(container) + "/items?" + url.Values{"$top": {strconv.Itoa(c.pageSize)}}.Encode()
	return NewPager(func(ctx context.Context, token string) ([]models.Record, string, error) {
		target := token
		if target == "" {
			target = first
		}
		var coll itemCollection
		if err := c.do(ctx, http.MethodGet, target, nil, nil, &coll); err != nil {
			return nil, "", err
		}
		recs, err := decodeRecords(coll.Value)
		if err != nil {
			return nil, "", err
		}
		return recs, coll.NextLink, nil
	})
}

// Count returns the container's ItemCount
func (c *RESTClient) Count(ctx context.Context, container string) (int, error) {
	var out struct {
		ItemCount json.Number `json:"ItemCount"`
	}
	if err := c.do(ctx, http.MethodGet, listPath(container)+"?$select=ItemCount", nil, nil, &out); err != nil {
		return 0, err
	}
	n, err := out.ItemCount.Int64()
	if err != nil {
		return 0, fmt.Errorf("invalid ItemCount %q: %w", out.ItemCount, err)
	}
	return int(n), nil
}

const (
	instanceService     = "/_api/SP.WorkflowServices.WorkflowInstanceService.Current"
	subscriptionService = "/_api/SP.WorkflowServices.WorkflowSubscriptionService.Current"
)

// EnumerateInstances lists the workflow instances attached to an item
func (c *RESTClient) EnumerateInstances(ctx context.Context, container string, recordID int) ([]models.AsyncInstance, error) {
	listID, err := c.listID(ctx, container)
	if err != nil {
		return nil, err
	}

	var out struct {
		Value []struct {
			ID             string      `json:"Id"`
			Status         interface{} `json:"Status"`
			SubscriptionID string      `json:"WorkflowSubscriptionId"`
		} `json:"value"`
	}
	path := fmt.Sprintf("%s/EnumerateInstancesForListItem(listId='%s',itemId=%d)", instanceService, listID, recordID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &out); err != nil {
		return nil, err
	}

	instances := make([]models.AsyncInstance, 0, len(out.Value))
	for _, v := range out.Value {
		status, err := models.ParseInstanceStatus(jsonScalar(v.Status))
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", v.ID, err)
		}
		instances = append(instances, models.AsyncInstance{
			ID:             v.ID,
			Container:      container,
			RecordID:       recordID,
			SubscriptionID: v.SubscriptionID,
			Status:         status,
		})
	}
	return instances, nil
}

// Terminate stops a workflow instance
func (c *RESTClient) Terminate(ctx context.Context, instance models.AsyncInstance) error {
	path := fmt.Sprintf("%s/TerminateWorkflow(instanceId='%s')", instanceService, instance.ID)
	return c.do(ctx, http.MethodPost, path, nil, nil, nil)
}

// EnumerateSubscriptions merges the container's legacy associations (Gen-A)
// with its workflow service subscriptions (Gen-B).
func (c *RESTClient) EnumerateSubscriptions(ctx context.Context, container string) ([]models.Subscription, error) {
	type entry struct {
		ID      string `json:"Id"`
		Name    string `json:"Name"`
		Enabled bool   `json:"Enabled"`
	}
	var assoc struct {
		Value []entry `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, listPath(container)+"/WorkflowAssociations?$select=Id,Name,Enabled", nil, nil, &assoc); err != nil {
		return nil, err
	}

	listID, err := c.listID(ctx, container)
	if err != nil {
		return nil, err
	}
	var subs struct {
		Value []entry `json:"value"`
	}
	path := fmt.Sprintf("%s/EnumerateSubscriptionsByList(listId='%s')", subscriptionService, listID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &subs); err != nil {
		return nil, err
	}

	out := make([]models.Subscription, 0, len(assoc.Value)+len(subs.Value))
	for _, a := range assoc.Value {
		out = append(out, models.Subscription{ID: a.ID, Name: a.Name, Generation: models.GenA, Enabled: a.Enabled})
	}
	for _, s := range subs.Value {
		out = append(out, models.Subscription{ID: s.ID, Name: s.Name, Generation: models.GenB, Enabled: s.Enabled})
	}
	return out, nil
}

// NewBatch returns a batch that replays its operations in order on commit
func (c *RESTClient) NewBatch() Batch {
	return &restBatch{c: c}
}

type restBatch struct {
	c   *RESTClient
	ops []Op
}

func (b *restBatch) Terminate(instance models.AsyncInstance) {
	b.ops = append(b.ops, Op{Kind: OpTerminate, Container: instance.Container, RecordID: instance.RecordID, Instance: instance})
}

func (b *restBatch) Delete(container string, id int) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Container: container, RecordID: id})
}

func (b *restBatch) Len() int {
	return len(b.ops)
}

func (b *restBatch) Commit(ctx context.Context) error {
	var failed []OpError
	guard := commitGuard{}
	for _, op := range b.ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := guard.check(op)
		if err == nil {
			switch op.Kind {
			case OpTerminate:
				err = b.c.Terminate(ctx, op.Instance)
			case OpDelete:
				err = b.c.Delete(ctx, op.Container, op.RecordID)
			}
		}
		if err != nil {
			guard.observe(op, err)
			failed = append(failed, OpError{Op: op, Err: err})
		}
	}
	b.ops = nil
	if len(failed) > 0 {
		return &BatchError{Failed: failed}
	}
	return nil
}

func decodeRecords(items []map[string]interface{}) ([]models.Record, error) {
	out := make([]models.Record, 0, len(items))
	for _, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRecord(item map[string]interface{}) (models.Record, error) {
	var rec models.Record

	idv, ok := item["Id"]
	if !ok {
		idv = item["ID"]
	}
	id, err := numberToInt(idv)
	if err != nil {
		return rec, fmt.Errorf("item without valid Id: %w", err)
	}
	rec.ID = id
	if title, ok := item[models.FieldTitle].(string); ok {
		rec.Title = title
	}
	if rec.Created, err = parseTime(item["Created"]); err != nil {
		return rec, fmt.Errorf("item %d: invalid Created: %w", id, err)
	}
	if rec.Modified, err = parseTime(item["Modified"]); err != nil {
		return rec, fmt.Errorf("item %d: invalid Modified: %w", id, err)
	}
	rec.Fields = item
	return rec, nil
}

func numberToInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case float64:
		return int(n), nil
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func parseTime(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func jsonScalar(v interface{}) interface{} {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		return n.String()
	}
	return v
}
