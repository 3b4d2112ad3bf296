// Package storage defines the pluggable backend contract that the bus service
// writes through, plus two bundled implementations: an in-memory backend and
// a durable Postgres backend. The rule engine's rule store (rules.Store) is a
// separate interface.
package storage

import (
	"context"

	"github.com/R3E-Network/eventbus/pkg/event"
)

// Stats holds aggregate counts and timestamp bounds over a backend's stored
// envelopes.
type Stats struct {
	Count            int64
	TopicCount       int64
	OldestTimestamp  int64
	NewestTimestamp  int64
}

// Backend is the storage contract every implementation honors. All methods
// must be safe for concurrent use.
type Backend interface {
	// Initialize creates schema/indexes if needed. Idempotent; safe to call
	// repeatedly.
	Initialize(ctx context.Context) error

	// Store persists one envelope. It must be idempotent on EventID: a
	// duplicate insert is either a silent no-op or reports DuplicateEventID,
	// the implementation's choice, but must never corrupt existing state.
	Store(ctx context.Context, e *event.Envelope) error

	// StoreBatch persists many envelopes, atomically where the backend
	// permits, falling back to per-envelope Store otherwise.
	StoreBatch(ctx context.Context, envelopes []*event.Envelope) error

	// Query returns envelopes matching q, ordered per event.Sort (timestamp
	// descending, event_id ascending on ties) and paginated per q.Limit/Offset.
	Query(ctx context.Context, q event.Query) ([]*event.Envelope, error)

	// Cleanup removes envelopes with Timestamp < beforeTimestamp and returns
	// the number deleted. Must not block concurrent queries for longer than a
	// bounded window.
	Cleanup(ctx context.Context, beforeTimestamp int64) (int64, error)

	// GetStats returns cheap aggregates over the stored envelopes.
	GetStats(ctx context.Context) (Stats, error)
}
