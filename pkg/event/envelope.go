// Package event defines the envelope exchanged by the bus and the query
// used to filter envelopes read back from storage.
package event

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	buserrors "github.com/R3E-Network/eventbus/infrastructure/errors"
	"github.com/R3E-Network/eventbus/pkg/trn"
)

// Priority tiers. Normal is the default when a producer does not set one.
const (
	PriorityLow    uint32 = 50
	PriorityNormal uint32 = 100
	PriorityHigh   uint32 = 200
)

// topicPattern matches the grammar in the topic pattern section: alphanumeric
// plus '.', '_', '-'. A trailing '*' is a routing wildcard handled by MatchesTopic,
// not part of a concrete topic's own grammar.
var topicPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Envelope is the immutable unit of data carried by the bus. Once
// constructed via New, its fields MUST NOT be mutated.
type Envelope struct {
	EventID        string
	Topic          string
	Payload        interface{}
	Timestamp      int64 // milliseconds since epoch
	Metadata       map[string]interface{}
	SourceTRN      string
	TargetTRN      string
	CorrelationID  string
	SequenceNumber *int64
	Priority       uint32
}

// Params carries the fields a caller supplies to New; EventID and Priority
// are filled with defaults when left zero, and a zero Timestamp is rejected.
type Params struct {
	EventID        string
	Topic          string
	Payload        interface{}
	Timestamp      int64
	Metadata       map[string]interface{}
	SourceTRN      string
	TargetTRN      string
	CorrelationID  string
	SequenceNumber *int64
	Priority       uint32
}

// New builds an Envelope, validating the invariants: topic is non-empty and
// matches the topic grammar, and any TRN present parses. A missing EventID is
// assigned a fresh uuid; a zero Timestamp is rejected rather than guessed,
// since the bus never invents a producer's clock.
func New(p Params) (*Envelope, error) {
	if p.Topic == "" {
		return nil, buserrors.ValidationError("topic", "topic must not be empty")
	}
	if !topicPattern.MatchString(p.Topic) {
		return nil, buserrors.ValidationError("topic", "topic must match [a-zA-Z0-9._-]+")
	}
	if p.Timestamp <= 0 {
		return nil, buserrors.ValidationError("timestamp", "timestamp must be a positive milliseconds-since-epoch value")
	}
	if p.SourceTRN != "" {
		if _, err := trn.Parse(p.SourceTRN); err != nil {
			return nil, buserrors.ValidationError("source_trn", err.Error())
		}
	}
	if p.TargetTRN != "" {
		if _, err := trn.Parse(p.TargetTRN); err != nil {
			return nil, buserrors.ValidationError("target_trn", err.Error())
		}
	}

	eventID := p.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	priority := p.Priority
	if priority == 0 {
		priority = PriorityNormal
	}

	return &Envelope{
		EventID:        eventID,
		Topic:          p.Topic,
		Payload:        p.Payload,
		Timestamp:      p.Timestamp,
		Metadata:       p.Metadata,
		SourceTRN:      p.SourceTRN,
		TargetTRN:      p.TargetTRN,
		CorrelationID:  p.CorrelationID,
		SequenceNumber: p.SequenceNumber,
		Priority:       priority,
	}, nil
}

// Field looks up a reserved envelope attribute (source_trn, target_trn,
// correlation_id, priority) for the rule engine's match_fields evaluation.
// Any other name returns (nil, false); payload paths are resolved by the
// caller, not here.
func (e *Envelope) Field(name string) (interface{}, bool) {
	switch name {
	case "source_trn":
		if e.SourceTRN == "" {
			return nil, false
		}
		return e.SourceTRN, true
	case "target_trn":
		if e.TargetTRN == "" {
			return nil, false
		}
		return e.TargetTRN, true
	case "correlation_id":
		if e.CorrelationID == "" {
			return nil, false
		}
		return e.CorrelationID, true
	case "priority":
		return e.Priority, true
	default:
		return nil, false
	}
}

// IsReservedField reports whether name addresses an envelope attribute
// rather than a payload path.
func IsReservedField(name string) bool {
	switch name {
	case "source_trn", "target_trn", "correlation_id", "priority":
		return true
	default:
		return false
	}
}

// MatchesTopic evaluates the topic pattern grammar: "*" matches everything,
// "prefix*" matches by prefix, anything else is an exact match.
func MatchesTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == topic
}
