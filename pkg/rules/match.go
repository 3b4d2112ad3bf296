package rules

import (
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/R3E-Network/eventbus/pkg/event"
)

// matches reports whether rule fires reactively against e: enabled, topic
// pattern matches, and every match_fields entry equals the corresponding
// envelope attribute or payload path.
func (r Rule) matches(e *event.Envelope) bool {
	if !r.Enabled {
		return false
	}
	if !event.MatchesTopic(r.TopicPattern, e.Topic) {
		return false
	}
	for field, expected := range r.MatchFields {
		actual, ok := fieldValue(e, field)
		if !ok {
			return false
		}
		if !valuesEqual(actual, expected) {
			return false
		}
	}
	return true
}

// fieldValue resolves a match_fields key against the envelope: reserved
// names address envelope attributes directly, anything else is looked up as
// a jsonpath expression into the envelope's payload so nested paths such as
// "user.profile.id" resolve correctly.
func fieldValue(e *event.Envelope, field string) (interface{}, bool) {
	if event.IsReservedField(field) {
		return e.Field(field)
	}
	if e.Payload == nil {
		return nil, false
	}
	v, err := jsonpath.Get(fmt.Sprintf("$.%s", field), e.Payload)
	if err != nil {
		return nil, false
	}
	return v, true
}

// valuesEqual compares match_fields expected values against resolved
// envelope values with numeric-agnostic equality, since JSON-decoded
// payloads surface numbers as float64 while envelope attributes such as
// Priority are typed uint32.
func valuesEqual(actual, expected interface{}) bool {
	if actual == expected {
		return true
	}
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)
	if aok && eok {
		return af == ef
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
