package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdown_RunsLIFOOnce(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	m.Register("tracer", func(ctx context.Context) error {
		order = append(order, "tracer")
		return nil
	})
	m.Register("store", CloseResource(closerFunc(func() error {
		order = append(order, "store")
		return errors.New("already closed")
	})))
	m.Register("metrics", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		order = append(order, "metrics")
		return nil
	})

	assert.Equal(t, 1, m.Shutdown())
	assert.Equal(t, []string{"metrics", "store", "tracer"}, order)

	assert.Equal(t, 0, m.Shutdown())
	assert.Len(t, order, 3)
}

func TestNotifyContext_CancelsWithParent(t *testing.T) {
	m := New(time.Second, nil)
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := m.NotifyContext(parent)
	defer stop()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
}
