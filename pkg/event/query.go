package event

import "sort"

// Query describes a read filter over stored envelopes. All fields are
// optional and combined with logical AND. Results are ordered by Timestamp
// descending, ties broken by EventID ascending.
type Query struct {
	TopicPattern  string // exact topic or "prefix*"
	Since         int64  // inclusive, milliseconds since epoch; 0 means unbounded
	Until         int64  // exclusive, milliseconds since epoch; 0 means unbounded
	SourceTRN     string
	TargetTRN     string
	CorrelationID string
	Limit         int
	Offset        int
}

// Matches reports whether e satisfies every filter set on q.
func (q Query) Matches(e *Envelope) bool {
	if q.TopicPattern != "" && !MatchesTopic(q.TopicPattern, e.Topic) {
		return false
	}
	if q.Since != 0 && e.Timestamp < q.Since {
		return false
	}
	if q.Until != 0 && e.Timestamp >= q.Until {
		return false
	}
	if q.SourceTRN != "" && e.SourceTRN != q.SourceTRN {
		return false
	}
	if q.TargetTRN != "" && e.TargetTRN != q.TargetTRN {
		return false
	}
	if q.CorrelationID != "" && e.CorrelationID != q.CorrelationID {
		return false
	}
	return true
}

// Sort orders envelopes by Timestamp descending, EventID ascending on ties,
// in place.
func Sort(envelopes []*Envelope) {
	sort.Slice(envelopes, func(i, j int) bool {
		if envelopes[i].Timestamp != envelopes[j].Timestamp {
			return envelopes[i].Timestamp > envelopes[j].Timestamp
		}
		return envelopes[i].EventID < envelopes[j].EventID
	})
}

// Paginate applies Offset and Limit to an already-sorted, already-filtered
// slice. A zero or negative Limit means unbounded.
func (q Query) Paginate(envelopes []*Envelope) []*Envelope {
	if q.Offset > 0 {
		if q.Offset >= len(envelopes) {
			return nil
		}
		envelopes = envelopes[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(envelopes) {
		envelopes = envelopes[:q.Limit]
	}
	return envelopes
}
