package authgate

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsIncAndValue(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricCacheHit)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("login success = %d, want 2", got)
	}
	if got := m.Value(MetricCacheHit); got != 1 {
		t.Fatalf("cache hit = %d, want 1", got)
	}
	if got := m.Value(MetricLoginFailure); got != 0 {
		t.Fatalf("untouched counter = %d, want 0", got)
	}
}

func TestMetricsDisabledIsInert(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)
	m.ObserveVerifyLatency(time.Millisecond)

	if m.Enabled() {
		t.Fatal("disabled metrics report enabled")
	}
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled counter incremented to %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 || snap.VerifyLatencyBuckets != nil {
		t.Fatalf("disabled snapshot not empty: %+v", snap)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.ObserveVerifyLatency(time.Millisecond)
	if m.Enabled() {
		t.Fatal("nil metrics report enabled")
	}
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("nil Value = %d", got)
	}
}

func TestMetricsOutOfRangeID(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(metricIDCount) // must not panic
	if got := m.Value(metricIDCount + 10); got != 0 {
		t.Fatalf("out-of-range Value = %d", got)
	}
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 16
	const perGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				m.Inc(MetricRefreshRotated)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshRotated); got != goroutines*perGoroutine {
		t.Fatalf("concurrent increments lost: %d, want %d", got, goroutines*perGoroutine)
	}
}

func TestVerifyLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistogram: true})

	for _, d := range []time.Duration{
		200 * time.Microsecond, // bucket 0
		time.Millisecond,       // bucket 0 (inclusive upper bound)
		2 * time.Millisecond,   // bucket 1
		30 * time.Millisecond,  // bucket 5
		time.Second,            // bucket 7
	} {
		m.ObserveVerifyLatency(d)
	}

	snap := m.Snapshot()
	want := []uint64{2, 1, 0, 0, 0, 1, 0, 1}
	if len(snap.VerifyLatencyBuckets) != len(want) {
		t.Fatalf("bucket count = %d, want %d", len(snap.VerifyLatencyBuckets), len(want))
	}
	for i, w := range want {
		if snap.VerifyLatencyBuckets[i] != w {
			t.Fatalf("bucket %d = %d, want %d (all: %v)", i, snap.VerifyLatencyBuckets[i], w, snap.VerifyLatencyBuckets)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLogoutAll)

	snap := m.Snapshot()
	m.Inc(MetricLogoutAll)

	if snap.Counters[MetricLogoutAll] != 1 {
		t.Fatalf("snapshot mutated after the fact: %d", snap.Counters[MetricLogoutAll])
	}
	if got := m.Value(MetricLogoutAll); got != 2 {
		t.Fatalf("live counter = %d, want 2", got)
	}
}
