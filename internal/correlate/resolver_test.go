package correlate

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/wflatency/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestResolve_ForeignKeyUnchanged(t *testing.T) {
	for _, fk := range []int{0, 1, 2, 226, 4999, math.MaxInt32, -1} {
		id, err := Resolve(models.ForeignKeyField(fk))
		require.NoError(t, err)
		assert.Equal(t, fk, id)
	}
}

func TestResolve_RelatedItems(t *testing.T) {
	tests := []struct {
		name      string
		raw       *string
		want      int
		pending   bool
		malformed bool
	}{
		{
			name: "single related item",
			raw:  strPtr(`[{"ItemId":226,"WebId":"3af92fc0-8664-4209-a9a9-d1636ba80044","ListId":"df4fc146-7116-4a28-8d46-bedcdf7dcb0e"}]`),
			want: 226,
		},
		{name: "item id last", raw: strPtr(`[{"WebId":"x","ItemId":7}]`), want: 7},
		{name: "leading zeros", raw: strPtr(`{"ItemId":0042}`), want: 42},
		{name: "nil payload", raw: nil, pending: true},
		{name: "empty payload", raw: strPtr(""), pending: true},
		{name: "whitespace payload", raw: strPtr("  \t"), pending: true},
		{name: "missing key", raw: strPtr(`[{"WebId":"x","ListId":"y"}]`), malformed: true},
		{name: "non numeric id", raw: strPtr(`[{"ItemId":"abc"}]`), malformed: true},
		{name: "overflowing id", raw: strPtr(`[{"ItemId":99999999999999999999999}]`), malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Resolve(models.RelatedItemsField(tt.raw))
			switch {
			case tt.pending:
				assert.ErrorIs(t, err, ErrPending)
				assert.True(t, IsPending(err))
				assert.False(t, IsMalformed(err))
			case tt.malformed:
				require.Error(t, err)
				assert.True(t, IsMalformed(err))
				assert.False(t, IsPending(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, id)
			}
		})
	}
}

func TestResolve_ExtractsDigitsAfterItemId(t *testing.T) {
	for _, n := range []int{1, 9, 10, 12345, 2147483647} {
		raw := fmt.Sprintf(`[{"ItemId":%d,"WebId":"w","ListId":"l"}]`, n)
		id, err := Resolve(models.RelatedItemsField(&raw))
		require.NoError(t, err)
		assert.Equal(t, n, id)
	}
}

func TestResolve_DoesNotMutateField(t *testing.T) {
	raw := `[{"ItemId":5}]`
	field := models.RelatedItemsField(&raw)
	before := *field.Raw

	_, err := Resolve(field)
	require.NoError(t, err)
	assert.Equal(t, before, *field.Raw)
}

func TestResolve_UnknownGeneration(t *testing.T) {
	_, err := Resolve(models.CorrelationField{Generation: "wf2007"})
	assert.Error(t, err)
}

func TestLink(t *testing.T) {
	task := models.TaskRecord{ID: 11, Correlation: models.ForeignKeyField(3)}
	link, err := Link(task)
	require.NoError(t, err)
	assert.Equal(t, models.CorrelationLink{Generation: models.GenA, TriggerID: 3, TaskID: 11}, link)

	_, err = Link(models.TaskRecord{ID: 12, Correlation: models.RelatedItemsField(nil)})
	assert.ErrorIs(t, err, ErrPending)
}

func TestMalformedError_Message(t *testing.T) {
	_, err := Resolve(models.RelatedItemsField(strPtr(`{"Foo":1}`)))
	require.Error(t, err)
	assert.Equal(t, `malformed wf2013 correlation: no ItemId field (payload: {"Foo":1})`, err.Error())
}

func TestLink_MalformedCarriesTaskID(t *testing.T) {
	_, err := Link(models.TaskRecord{ID: 40, Correlation: models.RelatedItemsField(strPtr(`[{"ListId":"x"}]`))})
	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 40, me.TaskID)
	assert.True(t, strings.HasPrefix(err.Error(), "task 40: "))
}
