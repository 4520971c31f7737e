package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(nil)
	assert.True(t, res.Result)
	assert.NotNil(t, res.Errors)
	assert.Empty(t, res.Errors)
}

func TestAggregateAllSuccess(t *testing.T) {
	res := Aggregate([]BatchOutcome{
		{Index: 0, Success: true, Errors: []string{}},
		{Index: 1, Success: true, Errors: []string{}},
	})
	assert.Equal(t, Succeeded(), res)
}

func TestAggregateOrdersByIndex(t *testing.T) {
	res := Aggregate([]BatchOutcome{
		{Index: 2, Success: false, Errors: []string{"c"}},
		{Index: 0, Success: false, Errors: []string{"a1", "a2"}},
		{Index: 1, Success: true, Errors: []string{}},
	})
	assert.False(t, res.Result)
	assert.Equal(t, []string{"a1", "a2", "c"}, res.Errors)
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	in := []BatchOutcome{
		{Index: 1, Success: true},
		{Index: 0, Success: true},
	}
	Aggregate(in)
	assert.Equal(t, 1, in[0].Index)
}
