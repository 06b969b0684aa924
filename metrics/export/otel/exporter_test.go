package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/evalauth"
)

type fakeSource struct {
	mu       sync.Mutex
	snapshot evalauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() evalauth.MetricsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func (f *fakeSource) setCounter(id evalauth.MetricID, v uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := make(map[evalauth.MetricID]uint64, len(f.snapshot.Counters))
	for k, old := range f.snapshot.Counters {
		next[k] = old
	}
	next[id] = v
	f.snapshot.Counters = next
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("expected single int64 sum for %s, got %T", m.Name, m.Data)
	}
	return sum.DataPoints[0].Value
}

func TestExporterCollectsCountersAndBuckets(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("evalauth-test")

	src := &fakeSource{
		snapshot: evalauth.MetricsSnapshot{
			Counters: map[evalauth.MetricID]uint64{evalauth.MetricAuthSuccess: 3},
			Histograms: map[evalauth.MetricID][]uint64{
				evalauth.MetricAuthenticateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 2,
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)
	if v := sumValue(t, got["evalauth_auth_success_total"]); v != 3 {
		t.Fatalf("expected 3 successes, got %d", v)
	}
	if v := sumValue(t, got["evalauth_audit_dropped_total"]); v != 2 {
		t.Fatalf("expected 2 dropped, got %d", v)
	}

	buckets, ok := got["evalauth_authenticate_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	if !ok || len(buckets.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket points, got %+v", got["evalauth_authenticate_latency_seconds_bucket"].Data)
	}
	for _, dp := range buckets.DataPoints {
		le, _ := dp.Attributes.Value("le")
		if le.AsString() == "inf" && dp.Value != 8 {
			t.Fatalf("expected +Inf bucket 8, got %d", dp.Value)
		}
	}

	src.setCounter(evalauth.MetricAuthSuccess, 5)
	got = collect(t, reader)
	if v := sumValue(t, got["evalauth_auth_success_total"]); v != 5 {
		t.Fatalf("expected refreshed value 5, got %d", v)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	if _, err := NewExporterFromSource(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestCloseNilExporter(t *testing.T) {
	var e *Exporter
	if err := e.Close(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
