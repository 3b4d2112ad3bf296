package bus

import (
	"sync"
	"sync/atomic"

	"github.com/R3E-Network/eventbus/pkg/event"
)

// Subscription is the cancellable, lazily-consumed sequence returned by
// Bus.Subscribe. Receive from C until it closes; Unsubscribe frees the
// channel slot early.
type Subscription struct {
	id      uint64
	pattern string // topic pattern per event.MatchesTopic; "" or "*" matches every topic
	C       <-chan *event.Envelope

	ch     chan *event.Envelope
	lagged int32 // atomic bool

	mu     sync.Mutex
	closed bool

	broadcast *broadcaster
}

// Lagged reports whether the subscriber has ever fallen behind far enough
// for the broadcaster to drop an undelivered envelope. It stays set once
// tripped; callers combine Subscribe with Poll to replay from storage.
func (s *Subscription) Lagged() bool {
	return atomic.LoadInt32(&s.lagged) == 1
}

// Unsubscribe stops delivery and frees the channel slot. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.broadcast.remove(s.id)
}

func (s *Subscription) matches(topic string) bool {
	if s.pattern == "" || s.pattern == "*" {
		return true
	}
	return event.MatchesTopic(s.pattern, topic)
}

// deliver attempts a non-blocking send of e into the subscriber's channel.
// When the channel is full, it drops exactly one oldest queued envelope
// (never the newest) under s.mu, sets the lagged flag, and retries once;
// per §4.4.3 a subscriber that is this far behind is still told to keep
// consuming rather than being disconnected.
func (s *Subscription) deliver(e *event.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
		return
	default:
	}

	select {
	case <-s.ch:
		atomic.StoreInt32(&s.lagged, 1)
	default:
	}

	select {
	case s.ch <- e:
	default:
		// Another full channel despite just freeing a slot means a
		// concurrent reader raced us; the drop itself already recorded lag.
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// broadcaster fans a single stream of envelopes out to many bounded,
// independently-lagging subscriber channels. The drop-oldest-on-full policy
// is documented in DESIGN.md; the concurrency shape (mutex-guarded map,
// per-subscriber goroutine-free non-blocking send) follows the select/default
// fan-out idiom used throughout this codebase.
type broadcaster struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    uint64
	bufferLen int
}

func newBroadcaster(bufferLen int) *broadcaster {
	if bufferLen <= 0 {
		bufferLen = 1
	}
	return &broadcaster{subs: make(map[uint64]*Subscription), bufferLen: bufferLen}
}

func (b *broadcaster) subscribe(topicPattern string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan *event.Envelope, b.bufferLen)
	sub := &Subscription{id: id, ch: ch, C: ch, pattern: topicPattern, broadcast: b}

	b.subs[id] = sub
	return sub
}

func (b *broadcaster) remove(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// publish delivers e to every subscription whose pattern matches its topic.
// Non-blocking and non-fatal: a lagging or absent receiver never blocks or
// fails emit.
func (b *broadcaster) publish(e *event.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.matches(e.Topic) {
			sub.deliver(e)
		}
	}
}

// closeAll closes every live subscriber channel so consumers observe
// end-of-sequence, per shutdown()'s contract.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *broadcaster) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
