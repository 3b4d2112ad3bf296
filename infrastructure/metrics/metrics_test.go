package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("orders-bus", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}
	if m.promEmittedTotal == nil {
		t.Error("promEmittedTotal should not be nil")
	}
	if m.promLatency == nil {
		t.Error("promLatency should not be nil")
	}
}

func TestRecordEmitted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("orders-bus", reg)

	m.RecordEmitted("orders.created", 128)
	m.RecordEmitted("orders.created", 64)
	m.RecordEmitted("orders.cancelled", 32)

	if got := m.Snapshot().Emitted; got != 3 {
		t.Errorf("Emitted = %d, want 3", got)
	}
	if rate := m.CurrentRate(); rate != 3 {
		t.Errorf("CurrentRate() = %d, want 3", rate)
	}

	snaps := m.TopicSnapshots()
	byTopic := map[string]TopicSnapshot{}
	for _, s := range snaps {
		byTopic[s.Topic] = s
	}
	if byTopic["orders.created"].Count != 2 {
		t.Errorf("orders.created count = %d, want 2", byTopic["orders.created"].Count)
	}
	if byTopic["orders.created"].ByteVolume != 192 {
		t.Errorf("orders.created byte volume = %d, want 192", byTopic["orders.created"].ByteVolume)
	}
}

func TestRecordProcessedHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("orders-bus", reg)

	m.RecordProcessed(50 * time.Microsecond)
	m.RecordProcessed(2 * time.Millisecond)
	m.RecordProcessed(200 * time.Millisecond)

	snap := m.LatencyHistogram()
	if snap.Count != 3 {
		t.Errorf("histogram count = %d, want 3", snap.Count)
	}
	if snap.BucketCounts[0] != 1 {
		t.Errorf("bucket[0] (<=100us) = %d, want 1", snap.BucketCounts[0])
	}
	last := len(snap.BucketCounts) - 1
	if snap.BucketCounts[last] != 1 {
		t.Errorf("overflow bucket = %d, want 1", snap.BucketCounts[last])
	}
}

func TestRecordFailedRing(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("orders-bus", reg)

	m.RecordFailed("storage", errors.New("conn refused"))
	m.RecordFailed("admission", nil)

	errs := m.RecentErrors()
	if len(errs) != 2 {
		t.Fatalf("RecentErrors() len = %d, want 2", len(errs))
	}
	if errs[0].Kind != "storage" || errs[0].Message != "conn refused" {
		t.Errorf("unexpected first error record: %+v", errs[0])
	}
	if errs[1].Kind != "admission" || errs[1].Message != "" {
		t.Errorf("unexpected second error record: %+v", errs[1])
	}

	if got := m.Snapshot().Failed; got != 2 {
		t.Errorf("Failed = %d, want 2", got)
	}
}

func TestRecordFailedRingWraps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("orders-bus", reg)

	for i := 0; i < errorRingSize+10; i++ {
		m.RecordFailed("x", errors.New("e"))
	}

	errs := m.RecentErrors()
	if len(errs) != errorRingSize {
		t.Fatalf("RecentErrors() len = %d, want %d", len(errs), errorRingSize)
	}
}

func TestRecordDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("orders-bus", reg)

	m.RecordDropped("orders.created")
	m.RecordDropped("orders.created")

	if got := m.Snapshot().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
}

func TestSetSubscribers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("orders-bus", reg)

	// Should not panic.
	m.SetSubscribers(3)
	m.SetSubscribers(0)
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("orders-bus", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	m.RecordEmitted("orders.created", 10)

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Error("Expected metrics to be registered")
	}
}

func TestForBusReusesInstance(t *testing.T) {
	a := ForBus("unique-bus-for-test")
	b := ForBus("unique-bus-for-test")
	if a != b {
		t.Error("ForBus() should return the same instance for the same bus name")
	}
}
