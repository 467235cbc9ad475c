package gateway

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/wflatency/pkg/models"
)

func TestPager_WalksTokensUntilEmpty(t *testing.T) {
	var tokens []string
	pager := NewPager(func(ctx context.Context, token string) ([]models.Record, string, error) {
		tokens = append(tokens, token)
		n, _ := strconv.Atoi(token)
		if n == 2 {
			return []models.Record{{ID: n}}, "", nil
		}
		return []models.Record{{ID: n}}, strconv.Itoa(n + 1), nil
	})

	recs, err := Collect(context.Background(), pager)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, []string{"", "1", "2"}, tokens)
	assert.False(t, pager.More())
}

func TestPager_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	pager := NewPager(func(ctx context.Context, token string) ([]models.Record, string, error) {
		calls++
		return nil, "", boom
	})

	_, err := Collect(context.Background(), pager)
	assert.ErrorIs(t, err, boom)
	assert.False(t, pager.More())
	assert.Equal(t, 1, calls)
}

func TestPager_ErrPagerReportsOnce(t *testing.T) {
	boom := errors.New("boom")
	pager := errPager(boom)
	require.True(t, pager.More())

	_, err := pager.Next(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, pager.More())

	_, err = pager.Next(context.Background())
	assert.ErrorIs(t, err, ErrPagerDone)
}
