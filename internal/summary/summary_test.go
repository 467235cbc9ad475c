package summary

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/wflatency/internal/gateway"
	"github.com/psantana5/wflatency/internal/store"
	"github.com/psantana5/wflatency/pkg/models"
)

var names = map[models.Generation]string{models.GenA: "WF2010", models.GenB: "WF2013"}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// probeSite has three triggers. Gen-A answered 1 and 3 and left a task for
// a trigger that is gone; Gen-B answered 2, has one pending and one broken
// payload, and no subscription.
func probeSite(t *testing.T) (*gateway.MemoryGateway, models.Containers) {
	t.Helper()
	c := models.ContainersFor("Probe")
	gw := gateway.NewMemoryGateway()
	gw.PageSize = 2
	gw.AddContainer(c.Trigger, gateway.TemplateGenericList)
	gw.AddContainer(c.TasksA, gateway.TemplateTasks)
	gw.AddContainer(c.TasksB, gateway.TemplateTasksTimeline)
	gw.AddSubscription(c.Trigger, models.Subscription{ID: "a", Name: "WF2010", Generation: models.GenA, Enabled: true})

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := gw.CreateAt(c.Trigger, map[string]interface{}{models.FieldTitle: at.Format(time.RFC3339)}, at)
		require.NoError(t, err)
	}
	for _, fk := range []int{1, 9, 3} {
		_, err := gw.CreateAt(c.TasksA, map[string]interface{}{models.FieldWorkflowItemID: fk}, at)
		require.NoError(t, err)
	}
	for _, payload := range []interface{}{`[{"ItemId":2,"ListId":"x"}]`, nil, "garbage"} {
		_, err := gw.CreateAt(c.TasksB, map[string]interface{}{models.FieldRelatedItems: payload}, at)
		require.NoError(t, err)
	}
	return gw, c
}

func TestBuild(t *testing.T) {
	gw, c := probeSite(t)
	s, err := NewBuilder(gw, names, nil).Build(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Triggers)
	require.Len(t, s.Generations, 2)

	a := s.Generations[0]
	assert.True(t, a.Subscribed)
	assert.Equal(t, 3, a.Tasks)
	assert.Equal(t, 2, a.Correlated)
	assert.Equal(t, []int{2}, a.Orphaned)
	assert.Equal(t, []int{2}, a.Unanswered)

	b := s.Generations[1]
	assert.False(t, b.Subscribed)
	assert.Equal(t, 1, b.Correlated)
	assert.Equal(t, 1, b.Pending)
	assert.Equal(t, []MalformedTask{{TaskID: 3, Payload: "garbage"}}, b.Malformed)
	assert.Equal(t, []int{1, 3}, b.Unanswered)
}

func TestBuild_MissingTaskContainer(t *testing.T) {
	c := models.ContainersFor("Probe")
	gw := gateway.NewMemoryGateway()
	gw.AddContainer(c.Trigger, gateway.TemplateGenericList)
	_, err := gw.CreateAt(c.Trigger, map[string]interface{}{}, time.Now())
	require.NoError(t, err)

	s, err := NewBuilder(gw, names, nil).Build(context.Background(), c)
	require.NoError(t, err)
	for _, g := range s.Generations {
		assert.True(t, g.Missing)
		assert.Equal(t, []int{1}, g.Unanswered)
	}
}

func TestBuild_MissingTriggerContainer(t *testing.T) {
	_, err := NewBuilder(gateway.NewMemoryGateway(), names, nil).Build(context.Background(), models.ContainersFor("Nope"))
	assert.ErrorIs(t, err, gateway.ErrContainerNotFound)
}

func TestWrite_JSON(t *testing.T) {
	gw, c := probeSite(t)
	s, err := NewBuilder(gw, names, nil).Build(context.Background(), c)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, FormatJSON))
	golden(t).Assert(t, "summary_json", buf.Bytes())
}

func TestWrite_Table(t *testing.T) {
	gw, c := probeSite(t)
	s, err := NewBuilder(gw, names, nil).Build(context.Background(), c)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, FormatTable))
	out := buf.String()
	assert.Contains(t, out, "Container: Probe (3 triggers)")
	assert.Contains(t, out, "WF2010 triggers without a task: 2")
	assert.Contains(t, out, "WF2013 triggers without a task: 1, 3")
	assert.Contains(t, out, "WF2013 task 3 malformed: garbage")
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Summary{Container: "Probe", Triggers: 1}, FormatYAML))
	assert.Contains(t, buf.String(), "container: Probe\ntriggers: 1\n")
}

func TestWrite_UnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, Summary{}, "xml"))
	assert.False(t, ValidFormat("xml"))
	assert.True(t, ValidFormat(FormatYAML))
}

func TestNewHistory(t *testing.T) {
	h := NewHistory([]store.GenerationStats{
		{Generation: models.GenA, Rounds: 3, Measured: 3, Min: 2 * time.Second, Avg: 4 * time.Second, Max: 90 * time.Second},
		{Generation: models.GenB, Rounds: 2},
	}, nil)

	require.Len(t, h.Generations, 2)
	assert.Equal(t, HistoryRow{Generation: "WF2010", Rounds: 3, Measured: 3, Min: "00:00:02", Avg: "00:00:04", Max: "00:01:30"}, h.Generations[0])
	assert.Equal(t, "N/A", h.Generations[1].Avg)

	var buf bytes.Buffer
	require.NoError(t, WriteHistory(&buf, h, FormatTable))
	assert.Contains(t, buf.String(), "0 recorded session(s)")
}
