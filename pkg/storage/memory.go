package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/eventbus/pkg/event"
)

// MemoryStore is the in-memory Backend implementation: a topic to ordered
// list of envelopes, filtered with a linear scan. It is used for tests,
// ephemeral buses, and as the bus service's always-present fan-out shadow
// behind a durable backend.
type MemoryStore struct {
	mu      sync.RWMutex
	byTopic map[string][]*event.Envelope
	seen    map[string]struct{}
	maxSize int
}

// NewMemoryStore creates an empty MemoryStore. maxSize, if positive, caps the
// number of retained envelopes; once exceeded, envelopes are evicted as
// evictOldestLocked describes. A non-positive maxSize means unbounded.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		byTopic: make(map[string][]*event.Envelope),
		seen:    make(map[string]struct{}),
		maxSize: maxSize,
	}
}

// Initialize is a no-op; the in-memory store has no schema to create.
func (s *MemoryStore) Initialize(ctx context.Context) error {
	return nil
}

// Store appends e to its topic's list, silently no-op'ing a duplicate
// EventID per the bundled duplicate-event-semantics decision.
func (s *MemoryStore) Store(ctx context.Context, e *event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(e)
}

func (s *MemoryStore) storeLocked(e *event.Envelope) error {
	if _, dup := s.seen[e.EventID]; dup {
		return nil
	}
	s.seen[e.EventID] = struct{}{}
	s.byTopic[e.Topic] = append(s.byTopic[e.Topic], e)
	if s.maxSize > 0 {
		s.evictOldestLocked()
	}
	return nil
}

// evictOldestLocked drops envelopes until the total count is back within
// maxSize. Each round compares the first-inserted envelope of every topic
// and drops the one with the smallest Timestamp; a topic left empty is
// removed. Callers must hold mu.
func (s *MemoryStore) evictOldestLocked() {
	for s.countLocked() > s.maxSize {
		var oldestTopic string
		var oldestIdx = -1
		var oldestTS int64
		first := true
		for topic, list := range s.byTopic {
			if len(list) == 0 {
				continue
			}
			if first || list[0].Timestamp < oldestTS {
				oldestTopic = topic
				oldestIdx = 0
				oldestTS = list[0].Timestamp
				first = false
			}
		}
		if oldestIdx < 0 {
			return
		}
		victim := s.byTopic[oldestTopic][oldestIdx]
		s.byTopic[oldestTopic] = s.byTopic[oldestTopic][oldestIdx+1:]
		if len(s.byTopic[oldestTopic]) == 0 {
			delete(s.byTopic, oldestTopic)
		}
		delete(s.seen, victim.EventID)
	}
}

func (s *MemoryStore) countLocked() int {
	n := 0
	for _, list := range s.byTopic {
		n += len(list)
	}
	return n
}

// StoreBatch stores every envelope in order, skipping duplicates exactly as
// Store does. The in-memory backend has no partial-failure mode.
func (s *MemoryStore) StoreBatch(ctx context.Context, envelopes []*event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range envelopes {
		if err := s.storeLocked(e); err != nil {
			return err
		}
	}
	return nil
}

// Query scans every topic list with q.Matches and returns matches sorted and
// paginated per the event package's ordering contract.
func (s *MemoryStore) Query(ctx context.Context, q event.Query) ([]*event.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*event.Envelope
	for _, list := range s.byTopic {
		for _, e := range list {
			if q.Matches(e) {
				matches = append(matches, e)
			}
		}
	}

	event.Sort(matches)
	return q.Paginate(matches), nil
}

// Cleanup removes every envelope with Timestamp < beforeTimestamp and returns
// how many were removed.
func (s *MemoryStore) Cleanup(ctx context.Context, beforeTimestamp int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for topic, list := range s.byTopic {
		kept := list[:0]
		for _, e := range list {
			if e.Timestamp < beforeTimestamp {
				delete(s.seen, e.EventID)
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.byTopic, topic)
		} else {
			s.byTopic[topic] = kept
		}
	}
	return deleted, nil
}

// Topics returns every distinct topic currently retained, sorted. It backs
// the Bus Service's list_topics() surface (§6.1); the shared Backend
// contract does not include it, and PostgresStore has no equivalent.
func (s *MemoryStore) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.byTopic))
	for topic, list := range s.byTopic {
		if len(list) == 0 {
			continue
		}
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// GetStats reports the total envelope count, distinct topic count, and the
// oldest/newest timestamps currently retained.
func (s *MemoryStore) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{TopicCount: int64(len(s.byTopic))}
	first := true
	for _, list := range s.byTopic {
		stats.Count += int64(len(list))
		for _, e := range list {
			if first || e.Timestamp < stats.OldestTimestamp {
				stats.OldestTimestamp = e.Timestamp
			}
			if first || e.Timestamp > stats.NewestTimestamp {
				stats.NewestTimestamp = e.Timestamp
			}
			first = false
		}
	}
	return stats, nil
}
