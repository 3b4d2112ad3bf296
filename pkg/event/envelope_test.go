package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	e, err := New(Params{
		Topic:     "orders.created",
		Payload:   map[string]interface{}{"id": "1"},
		Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, PriorityNormal, e.Priority)
	assert.Equal(t, "orders.created", e.Topic)
}

func TestNew_PreservesSuppliedEventID(t *testing.T) {
	e, err := New(Params{
		EventID:   "evt-123",
		Topic:     "orders.created",
		Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-123", e.EventID)
}

func TestNew_RejectsEmptyTopic(t *testing.T) {
	_, err := New(Params{Topic: "", Timestamp: 1000})
	require.Error(t, err)
}

func TestNew_RejectsInvalidTopicChars(t *testing.T) {
	_, err := New(Params{Topic: "orders created!", Timestamp: 1000})
	require.Error(t, err)
}

func TestNew_RejectsNonPositiveTimestamp(t *testing.T) {
	_, err := New(Params{Topic: "orders.created", Timestamp: 0})
	require.Error(t, err)
}

func TestNew_ValidatesSourceTRN(t *testing.T) {
	_, err := New(Params{
		Topic:     "orders.created",
		Timestamp: 1000,
		SourceTRN: "not-a-trn",
	})
	require.Error(t, err)
}

func TestNew_AcceptsValidSourceAndTargetTRN(t *testing.T) {
	e, err := New(Params{
		Topic:     "orders.created",
		Timestamp: 1000,
		SourceTRN: "trn:user:alice:tool:openapi::getUserById:v1:",
		TargetTRN: "trn:org:acme:dataset:csv:batch:orders:v2:stable",
	})
	require.NoError(t, err)
	assert.Equal(t, "trn:user:alice:tool:openapi::getUserById:v1:", e.SourceTRN)
}

func TestField_ReservedNames(t *testing.T) {
	e, err := New(Params{
		Topic:         "orders.created",
		Timestamp:     1000,
		CorrelationID: "corr-1",
		Priority:      PriorityHigh,
	})
	require.NoError(t, err)

	v, ok := e.Field("correlation_id")
	require.True(t, ok)
	assert.Equal(t, "corr-1", v)

	v, ok = e.Field("priority")
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, v)

	_, ok = e.Field("target_trn")
	assert.False(t, ok)
}

func TestField_UnreservedNameMiss(t *testing.T) {
	e, err := New(Params{Topic: "orders.created", Timestamp: 1000})
	require.NoError(t, err)
	_, ok := e.Field("payload.user.id")
	assert.False(t, ok)
}

func TestIsReservedField(t *testing.T) {
	assert.True(t, IsReservedField("source_trn"))
	assert.True(t, IsReservedField("priority"))
	assert.False(t, IsReservedField("user.id"))
}

func TestMatchesTopic(t *testing.T) {
	assert.True(t, MatchesTopic("*", "orders.created"))
	assert.True(t, MatchesTopic("orders.*", "orders.created"))
	assert.False(t, MatchesTopic("orders.*", "billing.created"))
	assert.True(t, MatchesTopic("orders.created", "orders.created"))
	assert.False(t, MatchesTopic("orders.created", "orders.updated"))
}
