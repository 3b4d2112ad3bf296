// Package metrics provides in-process bus metrics mirrored as Prometheus collectors.
package metrics

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/eventbus/infrastructure/runtime"
)

// latencyBucketBounds are the fixed histogram bucket upper bounds used by both
// the in-process histogram and the mirrored Prometheus collector.
var latencyBucketBounds = []time.Duration{
	100 * time.Microsecond,
	500 * time.Microsecond,
	1 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

const errorRingSize = 100
const rateWindow = time.Second

// ErrorRecord captures a single emit/process failure for the last-N-errors ring.
type ErrorRecord struct {
	Kind      string
	Message   string
	Timestamp time.Time
}

// topicStats holds running aggregates for one topic.
type topicStats struct {
	mu          sync.Mutex
	count       uint64
	byteVolume  uint64
	latencySum  time.Duration
	latencyObvs uint64
}

func (t *topicStats) observe(bytes int, latency time.Duration) {
	t.mu.Lock()
	t.count++
	t.byteVolume += uint64(bytes)
	t.latencySum += latency
	t.latencyObvs++
	t.mu.Unlock()
}

// TopicSnapshot is a point-in-time read of one topic's aggregates.
type TopicSnapshot struct {
	Topic        string
	Count        uint64
	ByteVolume   uint64
	MeanLatency  time.Duration
}

// Metrics accumulates bus-wide counters, a sliding admission-rate window, a
// fixed-bucket latency histogram, per-topic aggregates, and a bounded ring of
// recent errors. All counters are safe for concurrent use and are mirrored
// into Prometheus collectors registered under the given name.
type Metrics struct {
	busName string

	emittedTotal   uint64
	processedTotal uint64
	failedTotal    uint64
	droppedTotal   uint64

	rateMu     sync.Mutex
	rateWindow []time.Time

	histMu      sync.Mutex
	histBuckets []uint64
	histCount   uint64
	histSum     time.Duration

	topicsMu sync.Mutex
	topics   map[string]*topicStats

	errMu   sync.Mutex
	errRing []ErrorRecord
	errNext int

	// Prometheus mirrors.
	promEmittedTotal   prometheus.Counter
	promProcessedTotal prometheus.Counter
	promFailedTotal    prometheus.Counter
	promDroppedTotal   prometheus.Counter
	promLatency        prometheus.Histogram
	promTopicEvents    *prometheus.CounterVec
	promTopicBytes     *prometheus.CounterVec
	promSubscribers    prometheus.Gauge
}

// New creates a Metrics instance and registers its Prometheus collectors with
// the default registerer.
func New(busName string) *Metrics {
	return NewWithRegistry(busName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom
// Prometheus registerer. Pass nil to skip Prometheus registration entirely
// (useful for tests that construct many short-lived buses).
func NewWithRegistry(busName string, registerer prometheus.Registerer) *Metrics {
	bounds := make([]float64, len(latencyBucketBounds))
	for i, b := range latencyBucketBounds {
		bounds[i] = b.Seconds()
	}

	m := &Metrics{
		busName:     busName,
		histBuckets: make([]uint64, len(latencyBucketBounds)+1), // +1 for the +Inf overflow bucket
		topics:      make(map[string]*topicStats),
		errRing:     make([]ErrorRecord, 0, errorRingSize),

		promEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eventbus_events_emitted_total",
			Help:        "Total number of events accepted by emit/emit_batch.",
			ConstLabels: prometheus.Labels{"bus": busName},
		}),
		promProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eventbus_events_processed_total",
			Help:        "Total number of events that completed storage + broadcast + rule evaluation.",
			ConstLabels: prometheus.Labels{"bus": busName},
		}),
		promFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eventbus_events_failed_total",
			Help:        "Total number of events that failed admission, storage, or rule dispatch.",
			ConstLabels: prometheus.Labels{"bus": busName},
		}),
		promDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eventbus_events_dropped_total",
			Help:        "Total number of broadcast events dropped due to a lagging subscriber.",
			ConstLabels: prometheus.Labels{"bus": busName},
		}),
		promLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "eventbus_emit_latency_seconds",
			Help:        "End-to-end emit latency from admission to broadcast completion.",
			ConstLabels: prometheus.Labels{"bus": busName},
			Buckets:     bounds,
		}),
		promTopicEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "eventbus_topic_events_total",
			Help:        "Total number of events emitted per topic.",
			ConstLabels: prometheus.Labels{"bus": busName},
		}, []string{"topic"}),
		promTopicBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "eventbus_topic_bytes_total",
			Help:        "Total payload bytes emitted per topic.",
			ConstLabels: prometheus.Labels{"bus": busName},
		}, []string{"topic"}),
		promSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "eventbus_subscribers",
			Help:        "Current number of active subscriptions.",
			ConstLabels: prometheus.Labels{"bus": busName},
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.promEmittedTotal,
			m.promProcessedTotal,
			m.promFailedTotal,
			m.promDroppedTotal,
			m.promLatency,
			m.promTopicEvents,
			m.promTopicBytes,
			m.promSubscribers,
		)
	}

	return m
}

// RecordEmitted increments the accepted-event counter and the 1-second sliding
// admission-rate window.
func (m *Metrics) RecordEmitted(topic string, payloadBytes int) {
	atomic.AddUint64(&m.emittedTotal, 1)
	m.promEmittedTotal.Inc()

	now := time.Now()
	m.rateMu.Lock()
	m.rateWindow = append(m.rateWindow, now)
	m.pruneRateWindowLocked(now)
	m.rateMu.Unlock()

	m.topicStats(topic).observe(payloadBytes, 0)
	m.promTopicEvents.WithLabelValues(topic).Inc()
	m.promTopicBytes.WithLabelValues(topic).Add(float64(payloadBytes))
}

// pruneRateWindowLocked drops timestamps older than the 1-second window.
// Callers must hold rateMu.
func (m *Metrics) pruneRateWindowLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(m.rateWindow) && m.rateWindow[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.rateWindow = m.rateWindow[i:]
	}
}

// CurrentRate returns the number of events emitted in the trailing 1-second window.
func (m *Metrics) CurrentRate() int {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	m.pruneRateWindowLocked(time.Now())
	return len(m.rateWindow)
}

// RecordProcessed increments the processed counter and observes the
// end-to-end latency into the fixed-bucket histogram.
func (m *Metrics) RecordProcessed(latency time.Duration) {
	atomic.AddUint64(&m.processedTotal, 1)
	m.promProcessedTotal.Inc()
	m.promLatency.Observe(latency.Seconds())

	m.histMu.Lock()
	m.histCount++
	m.histSum += latency
	bucket := len(latencyBucketBounds)
	for i, b := range latencyBucketBounds {
		if latency <= b {
			bucket = i
			break
		}
	}
	m.histBuckets[bucket]++
	m.histMu.Unlock()
}

// RecordFailed increments the failure counter and appends an entry to the
// bounded ring of the last 100 errors.
func (m *Metrics) RecordFailed(kind string, err error) {
	atomic.AddUint64(&m.failedTotal, 1)
	m.promFailedTotal.Inc()

	msg := ""
	if err != nil {
		msg = err.Error()
	}

	m.errMu.Lock()
	rec := ErrorRecord{Kind: kind, Message: msg, Timestamp: time.Now()}
	if len(m.errRing) < errorRingSize {
		m.errRing = append(m.errRing, rec)
	} else {
		m.errRing[m.errNext] = rec
		m.errNext = (m.errNext + 1) % errorRingSize
	}
	m.errMu.Unlock()
}

// RecordDropped increments the dropped-due-to-lag counter.
func (m *Metrics) RecordDropped(topic string) {
	atomic.AddUint64(&m.droppedTotal, 1)
	m.promDroppedTotal.Inc()
}

// SetSubscribers sets the current subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	m.promSubscribers.Set(float64(n))
}

func (m *Metrics) topicStats(topic string) *topicStats {
	m.topicsMu.Lock()
	defer m.topicsMu.Unlock()
	ts, ok := m.topics[topic]
	if !ok {
		ts = &topicStats{}
		m.topics[topic] = ts
	}
	return ts
}

// TopicSnapshots returns a point-in-time aggregate for every topic observed so far.
func (m *Metrics) TopicSnapshots() []TopicSnapshot {
	m.topicsMu.Lock()
	topics := make([]string, 0, len(m.topics))
	stats := make([]*topicStats, 0, len(m.topics))
	for topic, ts := range m.topics {
		topics = append(topics, topic)
		stats = append(stats, ts)
	}
	m.topicsMu.Unlock()

	out := make([]TopicSnapshot, 0, len(topics))
	for i, topic := range topics {
		ts := stats[i]
		ts.mu.Lock()
		snap := TopicSnapshot{Topic: topic, Count: ts.count, ByteVolume: ts.byteVolume}
		if ts.latencyObvs > 0 {
			snap.MeanLatency = ts.latencySum / time.Duration(ts.latencyObvs)
		}
		ts.mu.Unlock()
		out = append(out, snap)
	}
	return out
}

// RecentErrors returns up to the last 100 recorded failures, oldest first.
func (m *Metrics) RecentErrors() []ErrorRecord {
	m.errMu.Lock()
	defer m.errMu.Unlock()

	if len(m.errRing) < errorRingSize {
		out := make([]ErrorRecord, len(m.errRing))
		copy(out, m.errRing)
		return out
	}

	out := make([]ErrorRecord, errorRingSize)
	copy(out, m.errRing[m.errNext:])
	copy(out[errorRingSize-m.errNext:], m.errRing[:m.errNext])
	return out
}

// HistogramSnapshot is a point-in-time read of the latency histogram.
type HistogramSnapshot struct {
	BucketBounds []time.Duration // len N, each an upper bound; the final bucket is +Inf
	BucketCounts []uint64        // len N+1
	Count        uint64
	Sum          time.Duration
}

// LatencyHistogram returns a snapshot of the fixed-bucket latency histogram.
func (m *Metrics) LatencyHistogram() HistogramSnapshot {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	counts := make([]uint64, len(m.histBuckets))
	copy(counts, m.histBuckets)
	return HistogramSnapshot{
		BucketBounds: latencyBucketBounds,
		BucketCounts: counts,
		Count:        m.histCount,
		Sum:          m.histSum,
	}
}

// Totals is a snapshot of the four bus-wide atomic counters.
type Totals struct {
	Emitted   uint64
	Processed uint64
	Failed    uint64
	Dropped   uint64
}

// Snapshot returns the current values of the bus-wide counters.
func (m *Metrics) Snapshot() Totals {
	return Totals{
		Emitted:   atomic.LoadUint64(&m.emittedTotal),
		Processed: atomic.LoadUint64(&m.processedTotal),
		Failed:    atomic.LoadUint64(&m.failedTotal),
		Dropped:   atomic.LoadUint64(&m.droppedTotal),
	}
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics registry, keyed by bus name, for processes that run a
// MultiBusManager and want a single /metrics endpoint for every bus.
var (
	globalMu       sync.Mutex
	globalMetrics  = map[string]*Metrics{}
)

// ForBus returns (creating if necessary) the Metrics instance for a named bus,
// registered once against the default Prometheus registerer.
func ForBus(busName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if m, ok := globalMetrics[busName]; ok {
		return m
	}
	m := New(busName)
	globalMetrics[busName] = m
	return m
}
