package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/nebulock/authgate"
)

type fakeSource struct {
	snapshot authgate.MetricsSnapshot
	dropped  uint64
}

func (s *fakeSource) MetricsSnapshot() authgate.MetricsSnapshot { return s.snapshot }
func (s *fakeSource) AuditDropped() uint64                      { return s.dropped }

func collect(t *testing.T, reader *metric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	values := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, p := range data.DataPoints {
					values[m.Name] = p.Value
				}
			case metricdata.Gauge[int64]:
				for _, p := range data.DataPoints {
					values[m.Name] = p.Value
				}
			}
		}
	}
	return values
}

func TestExporterObservesCounters(t *testing.T) {
	source := &fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricLoginSuccess: 7,
				authgate.MetricCacheHit:     42,
			},
			VerifyLatencyBuckets: []uint64{10, 5, 0, 0, 0, 0, 0, 1},
		},
		dropped: 3,
	}

	reader := metric.NewManualReader()
	meter := metric.NewMeterProvider(metric.WithReader(reader)).Meter("test")

	exporter, err := NewExporterFromSource(meter, source)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer exporter.Close()

	values := collect(t, reader)
	if got := values["authgate_login_success_total"]; got != 7 {
		t.Fatalf("login success = %d, want 7", got)
	}
	if got := values["authgate_cache_hit_total"]; got != 42 {
		t.Fatalf("cache hit = %d, want 42", got)
	}
	if got := values["authgate_audit_dropped_total"]; got != 3 {
		t.Fatalf("audit dropped = %d, want 3", got)
	}
	// Buckets are cumulative; the count equals the last bucket.
	if got := values["authgate_verify_latency_bucket_le_1ms"]; got != 10 {
		t.Fatalf("first bucket = %d, want 10", got)
	}
	if got := values["authgate_verify_latency_count"]; got != 16 {
		t.Fatalf("latency count = %d, want 16", got)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	reader := metric.NewManualReader()
	meter := metric.NewMeterProvider(metric.WithReader(reader)).Meter("test")

	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("want ErrNilMeter, got %v", err)
	}
	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("want ErrNilSource, got %v", err)
	}
}
