package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/eventbus/pkg/event"
)

func TestRule_Matches_TopicAndFields(t *testing.T) {
	r := Rule{
		TopicPattern: "orders.*",
		Enabled:      true,
		MatchFields:  map[string]interface{}{"status": "paid"},
	}

	e, err := event.New(event.Params{
		Topic:     "orders.created",
		Timestamp: 1000,
		Payload:   map[string]interface{}{"status": "paid"},
	})
	require.NoError(t, err)
	assert.True(t, r.matches(e))

	e2, err := event.New(event.Params{
		Topic:     "orders.created",
		Timestamp: 1000,
		Payload:   map[string]interface{}{"status": "pending"},
	})
	require.NoError(t, err)
	assert.False(t, r.matches(e2))
}

func TestRule_Matches_DisabledNeverMatches(t *testing.T) {
	r := Rule{TopicPattern: "*", Enabled: false}
	e, err := event.New(event.Params{Topic: "x", Timestamp: 1000})
	require.NoError(t, err)
	assert.False(t, r.matches(e))
}

func TestFieldValue_NestedPayloadPath(t *testing.T) {
	e, err := event.New(event.Params{
		Topic:     "x",
		Timestamp: 1000,
		Payload: map[string]interface{}{
			"user": map[string]interface{}{"id": "u-9"},
		},
	})
	require.NoError(t, err)

	v, ok := fieldValue(e, "user.id")
	require.True(t, ok)
	assert.Equal(t, "u-9", v)
}

func TestFieldValue_MissingPathMisses(t *testing.T) {
	e, err := event.New(event.Params{Topic: "x", Timestamp: 1000, Payload: map[string]interface{}{}})
	require.NoError(t, err)
	_, ok := fieldValue(e, "nope")
	assert.False(t, ok)
}

func TestValuesEqual_NumericAgnostic(t *testing.T) {
	assert.True(t, valuesEqual(float64(100), uint32(100)))
	assert.False(t, valuesEqual(float64(100), uint32(101)))
}
