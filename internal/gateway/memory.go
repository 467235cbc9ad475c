package gateway

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/psantana5/wflatency/pkg/models"
)

// CreateHook runs after a record has been created in the memory gateway
type CreateHook func(ctx context.Context, container string, rec models.Record)

// CallStats counts calls made against the memory gateway
type CallStats struct {
	Creates      int
	Gets         int
	QueryRecent  int
	MaxRecentN   int
	Deletes      int
	Terminates   int
	Commits      int
	Enumerations int
}

// MemoryGateway is an in-memory implementation of Gateway and Provisioner
type MemoryGateway struct {
	mu            sync.Mutex
	containers    map[string]*memContainer
	instances     map[string]*models.AsyncInstance
	subscriptions map[string][]models.Subscription
	features      map[string]bool
	associations  map[string]AssociationSpec
	nextInstance  int
	stats         CallStats
	hooks         []CreateHook

	// Now supplies record timestamps; defaults to time.Now
	Now func() time.Time
	// PageSize bounds QueryAll pages
	PageSize int
	// CommitFault, when set, is consulted before each batched operation is
	// applied. A non-nil error fails that operation.
	CommitFault func(index int, op Op) error
	// BeforeCommit runs before a batch is applied, outside the lock
	BeforeCommit func(ops []Op)
}

type memContainer struct {
	title    string
	template int
	nextID   int
	items    map[int]*models.Record
}

// NewMemoryGateway creates an empty memory gateway
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		containers:    make(map[string]*memContainer),
		instances:     make(map[string]*models.AsyncInstance),
		subscriptions: make(map[string][]models.Subscription),
		features:      make(map[string]bool),
		associations:  make(map[string]AssociationSpec),
		Now:           time.Now,
		PageSize:      DefaultPageSize,
	}
}

// OnCreate registers a hook run after every Create
func (g *MemoryGateway) OnCreate(hook CreateHook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, hook)
}

// AddContainer creates an empty container if missing
func (g *MemoryGateway) AddContainer(title string, template int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addContainerLocked(title, template)
}

func (g *MemoryGateway) addContainerLocked(title string, template int) *memContainer {
	c, ok := g.containers[title]
	if !ok {
		c = &memContainer{title: title, template: template, nextID: 1, items: make(map[int]*models.Record)}
		g.containers[title] = c
	}
	return c
}

// AddSubscription registers a workflow subscription on a container
func (g *MemoryGateway) AddSubscription(container string, sub models.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[container] = append(g.subscriptions[container], sub)
}

// StartInstance attaches a running workflow instance to a record
func (g *MemoryGateway) StartInstance(container string, recordID int, subscriptionID string) models.AsyncInstance {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startInstanceLocked(container, recordID, subscriptionID, models.InstanceRunning)
}

// StartInstanceWithStatus attaches an instance in the given state
func (g *MemoryGateway) StartInstanceWithStatus(container string, recordID int, status models.InstanceStatus) models.AsyncInstance {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startInstanceLocked(container, recordID, "", status)
}

func (g *MemoryGateway) startInstanceLocked(container string, recordID int, subscriptionID string, status models.InstanceStatus) models.AsyncInstance {
	g.nextInstance++
	inst := &models.AsyncInstance{
		ID:             fmt.Sprintf("instance-%d", g.nextInstance),
		Container:      container,
		RecordID:       recordID,
		SubscriptionID: subscriptionID,
		Status:         status,
	}
	g.instances[inst.ID] = inst
	return *inst
}

// Instances returns every instance, in id order
func (g *MemoryGateway) Instances() []models.AsyncInstance {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.AsyncInstance, 0, len(g.instances))
	for _, inst := range g.instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns a snapshot of call counters
func (g *MemoryGateway) Stats() CallStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ResetStats clears the call counters
func (g *MemoryGateway) ResetStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats = CallStats{}
}

func (g *MemoryGateway) container(title string) (*memContainer, error) {
	c, ok := g.containers[title]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, title)
	}
	return c, nil
}

func (g *MemoryGateway) now() time.Time {
	return g.Now().UTC().Truncate(time.Second)
}

// Create adds a record and returns its id
func (g *MemoryGateway) Create(ctx context.Context, container string, fields map[string]interface{}) (int, error) {
	g.mu.Lock()
	c, err := g.container(container)
	if err != nil {
		g.mu.Unlock()
		return 0, err
	}
	g.stats.Creates++
	now := g.now()
	rec := &models.Record{
		ID:       c.nextID,
		Created:  now,
		Modified: now,
		Fields:   copyFields(fields),
	}
	if title, ok := fields[models.FieldTitle].(string); ok {
		rec.Title = title
	}
	c.nextID++
	c.items[rec.ID] = rec
	snapshot := cloneRecord(rec)
	hooks := append([]CreateHook(nil), g.hooks...)
	g.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, container, snapshot)
	}
	return snapshot.ID, nil
}

// CreateAt adds a record with explicit timestamps and without running hooks
func (g *MemoryGateway) CreateAt(container string, fields map[string]interface{}, at time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.container(container)
	if err != nil {
		return 0, err
	}
	g.stats.Creates++
	at = at.UTC().Truncate(time.Second)
	rec := &models.Record{ID: c.nextID, Created: at, Modified: at, Fields: copyFields(fields)}
	if title, ok := fields[models.FieldTitle].(string); ok {
		rec.Title = title
	}
	c.nextID++
	c.items[rec.ID] = rec
	return rec.ID, nil
}

// Update merges fields into a record and bumps its modification time
func (g *MemoryGateway) Update(ctx context.Context, container string, id int, fields map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.container(container)
	if err != nil {
		return err
	}
	rec, ok := c.items[id]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrNotFound, container, id)
	}
	for k, v := range fields {
		rec.Fields[k] = v
		if k == models.FieldTitle {
			if s, ok := v.(string); ok {
				rec.Title = s
			}
		}
	}
	rec.Modified = g.now()
	return nil
}

// Delete removes a record
func (g *MemoryGateway) Delete(ctx context.Context, container string, id int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deleteLocked(container, id)
}

func (g *MemoryGateway) deleteLocked(container string, id int) error {
	c, err := g.container(container)
	if err != nil {
		return err
	}
	if _, ok := c.items[id]; !ok {
		return fmt.Errorf("%w: %s/%d", ErrNotFound, container, id)
	}
	for _, inst := range g.instances {
		if inst.Container == container && inst.RecordID == id && !inst.Status.IsTerminal() {
			return fmt.Errorf("%w: %s/%d (%s)", ErrActiveInstance, container, id, inst.ID)
		}
	}
	g.stats.Deletes++
	delete(c.items, id)
	return nil
}

// Get returns one record
func (g *MemoryGateway) Get(ctx context.Context, container string, id int) (models.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.container(container)
	if err != nil {
		return models.Record{}, err
	}
	g.stats.Gets++
	rec, ok := c.items[id]
	if !ok {
		return models.Record{}, fmt.Errorf("%w: %s/%d", ErrNotFound, container, id)
	}
	return cloneRecord(rec), nil
}

// QueryRecent returns up to n records by descending id
func (g *MemoryGateway) QueryRecent(ctx context.Context, container string, n int) ([]models.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.container(container)
	if err != nil {
		return nil, err
	}
	g.stats.QueryRecent++
	if n > g.stats.MaxRecentN {
		g.stats.MaxRecentN = n
	}

	ids := c.sortedIDs()
	out := make([]models.Record, 0, n)
	for i := len(ids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneRecord(c.items[ids[i]]))
	}
	return out, nil
}

// QueryAll pages through the container by ascending id
func (g *MemoryGateway) QueryAll(ctx context.Context, container string) *Pager {
	g.mu.Lock()
	_, err := g.container(container)
	size := g.PageSize
	g.mu.Unlock()
	if err != nil {
		return errPager(err)
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	return NewPager(func(ctx context.Context, token string) ([]models.Record, string, error) {
		after := 0
		if token != "" {
			v, err := strconv.Atoi(token)
			if err != nil {
				return nil, "", fmt.Errorf("invalid page token %q", token)
			}
			after = v
		}

		g.mu.Lock()
		defer g.mu.Unlock()
		c, err := g.container(container)
		if err != nil {
			return nil, "", err
		}
		var page []models.Record
		for _, id := range c.sortedIDs() {
			if id <= after {
				continue
			}
			page = append(page, cloneRecord(c.items[id]))
			if len(page) == size {
				return page, strconv.Itoa(id), nil
			}
		}
		return page, "", nil
	})
}

// Count returns the number of records in a container
func (g *MemoryGateway) Count(ctx context.Context, container string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.container(container)
	if err != nil {
		return 0, err
	}
	return len(c.items), nil
}

// EnumerateInstances lists instances attached to a record
func (g *MemoryGateway) EnumerateInstances(ctx context.Context, container string, recordID int) ([]models.AsyncInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.container(container)
	if err != nil {
		return nil, err
	}
	g.stats.Enumerations++
	if _, ok := c.items[recordID]; !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, container, recordID)
	}

	var out []models.AsyncInstance
	for _, inst := range g.instances {
		if inst.Container == container && inst.RecordID == recordID {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Terminate moves an instance to the terminated state
func (g *MemoryGateway) Terminate(ctx context.Context, instance models.AsyncInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminateLocked(instance)
}

func (g *MemoryGateway) terminateLocked(instance models.AsyncInstance) error {
	inst, ok := g.instances[instance.ID]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, instance.ID)
	}
	g.stats.Terminates++
	inst.Status = models.InstanceTerminated
	return nil
}

// EnumerateSubscriptions lists subscriptions on a container
func (g *MemoryGateway) EnumerateSubscriptions(ctx context.Context, container string) ([]models.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.container(container); err != nil {
		return nil, err
	}
	return append([]models.Subscription(nil), g.subscriptions[container]...), nil
}

// NewBatch starts a batch applied under one lock
func (g *MemoryGateway) NewBatch() Batch {
	return &memBatch{g: g}
}

type memBatch struct {
	g   *MemoryGateway
	ops []Op
}

func (b *memBatch) Terminate(instance models.AsyncInstance) {
	b.ops = append(b.ops, Op{Kind: OpTerminate, Container: instance.Container, RecordID: instance.RecordID, Instance: instance})
}

func (b *memBatch) Delete(container string, id int) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Container: container, RecordID: id})
}

func (b *memBatch) Len() int {
	return len(b.ops)
}

func (b *memBatch) Commit(ctx context.Context) error {
	if hook := b.g.BeforeCommit; hook != nil {
		hook(b.ops)
	}

	b.g.mu.Lock()
	defer b.g.mu.Unlock()
	b.g.stats.Commits++

	var failed []OpError
	guard := commitGuard{}
	for i, op := range b.ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := guard.check(op)
		if err == nil && b.g.CommitFault != nil {
			err = b.g.CommitFault(i, op)
		}
		if err == nil {
			switch op.Kind {
			case OpTerminate:
				err = b.g.terminateLocked(op.Instance)
			case OpDelete:
				err = b.g.deleteLocked(op.Container, op.RecordID)
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

// EnsureContainer creates the container if it does not exist
func (g *MemoryGateway) EnsureContainer(ctx context.Context, title string, template int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.containers[title]; ok {
		if c.template != template {
			return false, fmt.Errorf("container %s exists with template %d, want %d", title, c.template, template)
		}
		return false, nil
	}
	g.addContainerLocked(title, template)
	return true, nil
}

// EnsureFeature marks a feature active
func (g *MemoryGateway) EnsureFeature(ctx context.Context, featureID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.features[featureID] {
		return false, nil
	}
	g.features[featureID] = true
	return true, nil
}

// EnsureAssociation registers a legacy workflow association and its
// subscription on the container.
func (g *MemoryGateway) EnsureAssociation(ctx context.Context, spec AssociationSpec) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.container(spec.Container); err != nil {
		return false, err
	}
	key := spec.Container + "/" + spec.Name
	if _, ok := g.associations[key]; ok {
		return false, nil
	}
	g.associations[key] = spec
	g.subscriptions[spec.Container] = append(g.subscriptions[spec.Container], models.Subscription{
		ID:         "assoc-" + spec.Name,
		Name:       spec.Name,
		Generation: models.GenA,
		Enabled:    true,
	})
	return true, nil
}

func (c *memContainer) sortedIDs() []int {
	ids := make([]int, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneRecord(rec *models.Record) models.Record {
	out := *rec
	out.Fields = copyFields(rec.Fields)
	return out
}
