package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/eventbus/pkg/event"
)

func mustEvent(t *testing.T, topic string, payload interface{}) *event.Envelope {
	t.Helper()
	e, err := event.New(event.Params{Topic: topic, Payload: payload, Timestamp: 1000})
	require.NoError(t, err)
	return e
}

func TestEngine_RegisterAndListRules(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	err := eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "orders.*",
		Enabled:      true,
		Action:       Action{Type: ActionLog, Message: "hi"},
	})
	require.NoError(t, err)

	rules, err := eng.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)
}

func TestEngine_ProcessEvent_InvokeTool(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	require.NoError(t, eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "orders.*",
		Enabled:      true,
		Action:       Action{Type: ActionInvokeTool, ToolID: "trn:user:alice:tool:openapi::getUserById:v1:", Input: map[string]interface{}{"id": "1"}},
	}))

	ev := mustEvent(t, "orders.created", map[string]interface{}{})
	invocations, err := eng.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, invocations, 1)
	assert.Equal(t, "trn:user:alice:tool:openapi::getUserById:v1:", invocations[0].ToolID)
}

func TestEngine_ProcessEvent_DisabledRuleSkipped(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	require.NoError(t, eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "*",
		Enabled:      false,
		Action:       Action{Type: ActionInvokeTool, ToolID: "t"},
	}))

	ev := mustEvent(t, "orders.created", nil)
	invocations, err := eng.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, invocations)
}

func TestEngine_ProcessEvent_MatchFieldsNested(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	require.NoError(t, eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "*",
		Enabled:      true,
		MatchFields:  map[string]interface{}{"user.profile.id": "u-1"},
		Action:       Action{Type: ActionInvokeTool, ToolID: "t"},
	}))

	matching := mustEvent(t, "orders.created", map[string]interface{}{
		"user": map[string]interface{}{"profile": map[string]interface{}{"id": "u-1"}},
	})
	invocations, err := eng.ProcessEvent(context.Background(), matching)
	require.NoError(t, err)
	assert.Len(t, invocations, 1)

	nonMatching := mustEvent(t, "orders.created", map[string]interface{}{
		"user": map[string]interface{}{"profile": map[string]interface{}{"id": "other"}},
	})
	invocations, err = eng.ProcessEvent(context.Background(), nonMatching)
	require.NoError(t, err)
	assert.Empty(t, invocations)
}

func TestEngine_ProcessEvent_ReservedFieldMatch(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	require.NoError(t, eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "*",
		Enabled:      true,
		MatchFields:  map[string]interface{}{"correlation_id": "corr-1"},
		Action:       Action{Type: ActionInvokeTool, ToolID: "t"},
	}))

	ev, err := event.New(event.Params{Topic: "t", Timestamp: 1000, CorrelationID: "corr-1"})
	require.NoError(t, err)
	invocations, err := eng.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Len(t, invocations, 1)
}

func TestEngine_ProcessEvent_PriorityOrderingAndStability(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	ctx := context.Background()
	require.NoError(t, eng.RegisterRule(ctx, Rule{ID: "low", TopicPattern: "*", Enabled: true, Priority: 1, Action: Action{Type: ActionInvokeTool, ToolID: "low"}}))
	require.NoError(t, eng.RegisterRule(ctx, Rule{ID: "high-a", TopicPattern: "*", Enabled: true, Priority: 10, Action: Action{Type: ActionInvokeTool, ToolID: "high-a"}}))
	require.NoError(t, eng.RegisterRule(ctx, Rule{ID: "high-b", TopicPattern: "*", Enabled: true, Priority: 10, Action: Action{Type: ActionInvokeTool, ToolID: "high-b"}}))

	ev := mustEvent(t, "t", nil)
	invocations, err := eng.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	require.Len(t, invocations, 3)
	assert.Equal(t, "high-a", invocations[0].ToolID)
	assert.Equal(t, "high-b", invocations[1].ToolID)
	assert.Equal(t, "low", invocations[2].ToolID)
}

func TestEngine_ProcessEvent_EmitEventRoutesThroughEmitFunc(t *testing.T) {
	var emitted []string
	emit := func(ctx context.Context, e *event.Envelope) error {
		emitted = append(emitted, e.Topic)
		return nil
	}
	eng := NewEngine(NewMemoryStore(), emit)
	require.NoError(t, eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "orders.*",
		Enabled:      true,
		Action:       Action{Type: ActionEmitEvent, Topic: "orders.derived", Payload: map[string]interface{}{}},
	}))

	ev := mustEvent(t, "orders.created", nil)
	_, err := eng.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.derived"}, emitted)
}

func TestEngine_ProcessEvent_CascadeDepthExceeded(t *testing.T) {
	var callCount int
	eng := NewEngine(NewMemoryStore(), nil, WithMaxCascadeDepth(2))
	emit := func(ctx context.Context, e *event.Envelope) error {
		callCount++
		_, err := eng.ProcessEvent(ctx, e)
		return err
	}
	eng.emit = emit

	require.NoError(t, eng.RegisterRule(context.Background(), Rule{
		ID:           "loop",
		TopicPattern: "loop.*",
		Enabled:      true,
		Action:       Action{Type: ActionEmitEvent, Topic: "loop.again", Payload: map[string]interface{}{}},
	}))

	// A rule whose action re-emits onto its own matching pattern would
	// recurse forever without the cascade-depth guard; dispatch failures are
	// logged and skipped rather than propagated (see Engine.processEventAtDepth),
	// so the observable effect is that the recursion terminates quickly.
	ev := mustEvent(t, "loop.start", nil)
	_, err := eng.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.LessOrEqual(t, callCount, 3)
}

func TestEngine_RemoveRule(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	ctx := context.Background()
	require.NoError(t, eng.RegisterRule(ctx, Rule{ID: "r1", TopicPattern: "*", Enabled: true, Action: Action{Type: ActionLog, Message: "x"}}))
	require.NoError(t, eng.RemoveRule(ctx, "r1"))

	rules, err := eng.ListRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestEngine_SetRuleEnabled(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	ctx := context.Background()
	require.NoError(t, eng.RegisterRule(ctx, Rule{ID: "r1", TopicPattern: "*", Enabled: true, Action: Action{Type: ActionInvokeTool, ToolID: "t"}}))
	require.NoError(t, eng.SetRuleEnabled(ctx, "r1", false))

	ev := mustEvent(t, "t", nil)
	invocations, err := eng.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, invocations)
}

func TestEngine_RegisterRule_RejectsWildcardScheduledTopic(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	err := eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "orders.*",
		Schedule:     "@every 1m",
		Action:       Action{Type: ActionLog, Message: "x"},
	})
	require.Error(t, err)
}

func TestEngine_RegisterRule_AcceptsConcreteScheduledTopic(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	err := eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "orders.heartbeat",
		Schedule:     "@every 1m",
		Action:       Action{Type: ActionLog, Message: "x"},
	})
	require.NoError(t, err)
}

func TestEngine_Sequence(t *testing.T) {
	eng := NewEngine(NewMemoryStore(), nil)
	require.NoError(t, eng.RegisterRule(context.Background(), Rule{
		ID:           "r1",
		TopicPattern: "*",
		Enabled:      true,
		Action: Action{Type: ActionSequence, Actions: []Action{
			{Type: ActionInvokeTool, ToolID: "a"},
			{Type: ActionInvokeTool, ToolID: "b"},
		}},
	}))

	ev := mustEvent(t, "t", nil)
	invocations, err := eng.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, invocations, 2)
	assert.Equal(t, "a", invocations[0].ToolID)
	assert.Equal(t, "b", invocations[1].ToolID)
}
