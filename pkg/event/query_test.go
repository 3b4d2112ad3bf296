package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, id, topic string, ts int64) *Envelope {
	t.Helper()
	e, err := New(Params{EventID: id, Topic: topic, Timestamp: ts})
	require.NoError(t, err)
	return e
}

func TestQuery_Matches_TopicPattern(t *testing.T) {
	e := mustEnvelope(t, "1", "orders.created", 1000)
	assert.True(t, Query{TopicPattern: "orders.*"}.Matches(e))
	assert.False(t, Query{TopicPattern: "billing.*"}.Matches(e))
}

func TestQuery_Matches_SinceUntil(t *testing.T) {
	e := mustEnvelope(t, "1", "orders.created", 1000)
	assert.True(t, Query{Since: 1000, Until: 2000}.Matches(e))
	assert.False(t, Query{Since: 1001}.Matches(e))
	assert.False(t, Query{Until: 1000}.Matches(e), "until is exclusive")
}

func TestQuery_Matches_ExactFields(t *testing.T) {
	e, err := New(Params{
		Topic:         "orders.created",
		Timestamp:     1000,
		SourceTRN:     "trn:user:alice:tool:openapi::getUserById:v1:",
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)

	assert.True(t, Query{SourceTRN: "trn:user:alice:tool:openapi::getUserById:v1:"}.Matches(e))
	assert.False(t, Query{SourceTRN: "trn:user:bob:tool:openapi::getUserById:v1:"}.Matches(e))
	assert.True(t, Query{CorrelationID: "corr-1"}.Matches(e))
}

func TestSort_TimestampDescendingEventIDAscending(t *testing.T) {
	a := mustEnvelope(t, "b", "t", 1000)
	b := mustEnvelope(t, "a", "t", 1000)
	c := mustEnvelope(t, "z", "t", 2000)

	list := []*Envelope{a, b, c}
	Sort(list)

	require.Len(t, list, 3)
	assert.Equal(t, "z", list[0].EventID)
	assert.Equal(t, "a", list[1].EventID)
	assert.Equal(t, "b", list[2].EventID)
}

func TestQuery_Paginate(t *testing.T) {
	list := []*Envelope{
		mustEnvelope(t, "1", "t", 3000),
		mustEnvelope(t, "2", "t", 2000),
		mustEnvelope(t, "3", "t", 1000),
	}

	got := Query{Offset: 1, Limit: 1}.Paginate(list)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].EventID)
}

func TestQuery_Paginate_OffsetBeyondLength(t *testing.T) {
	list := []*Envelope{mustEnvelope(t, "1", "t", 1000)}
	assert.Empty(t, Query{Offset: 5}.Paginate(list))
}
