// Package rules implements the trigger rule model, a pluggable rule store,
// and an engine that evaluates rules against envelopes and against their own
// cron schedules.
package rules

import "time"

// Action is a tagged union of the operations a matching rule can produce.
// Exactly one field is populated, selected by Type.
type Action struct {
	Type ActionType `json:"type"`

	// InvokeTool
	ToolID string      `json:"tool_id,omitempty"`
	Input  interface{} `json:"input,omitempty"`

	// EmitEvent
	Topic   string      `json:"topic,omitempty"`
	Payload interface{} `json:"payload,omitempty"`

	// Forward
	TargetTopic string  `json:"target_topic,omitempty"`
	Transform   *Action `json:"transform,omitempty"`

	// Transform
	Script string `json:"script,omitempty"`

	// Sequence
	Actions []Action `json:"actions,omitempty"`

	// Webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`

	// Log
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	// Custom
	CustomType string      `json:"custom_type,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// ActionType selects which fields of Action are populated.
type ActionType string

const (
	ActionInvokeTool ActionType = "invoke_tool"
	ActionEmitEvent  ActionType = "emit_event"
	ActionForward    ActionType = "forward"
	ActionTransform  ActionType = "transform"
	ActionSequence   ActionType = "sequence"
	ActionWebhook    ActionType = "webhook"
	ActionLog        ActionType = "log"
	ActionCustom     ActionType = "custom"
)

// Rule is a trigger rule: it fires reactively when a matching envelope is
// processed, and/or on its own Schedule when one is set.
type Rule struct {
	ID           string                 `json:"id"`
	TopicPattern string                 `json:"topic_pattern"`
	MatchFields  map[string]interface{} `json:"match_fields,omitempty"`
	Action       Action                 `json:"action"`
	Priority     int                    `json:"priority"`
	Enabled      bool                   `json:"enabled"`
	// Schedule is an optional cron expression (robfig/cron/v3 syntax). When
	// set, TopicPattern must be a concrete topic (no wildcard) since the
	// engine synthesizes an envelope on it for each tick.
	Schedule  string    `json:"schedule,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ToolInvocation is the record handed to the external tool executor when a
// rule action resolves to invoking a tool, directly or via a Sequence.
type ToolInvocation struct {
	ToolID  string
	Input   interface{}
	Context map[string]interface{}
}
