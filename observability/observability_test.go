package observability

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig("test-service")

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got %s", cfg.ServiceName)
	}
	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("expected Endpoint 'localhost:4318', got %s", cfg.Endpoint)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected SampleRate 1.0, got %f", cfg.SampleRate)
	}
	if !cfg.Insecure {
		t.Error("expected Insecure to be true")
	}
}

func TestDefaultMeterConfig(t *testing.T) {
	cfg := DefaultMeterConfig("test-service")

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got %s", cfg.ServiceName)
	}
	if cfg.Interval != 15*time.Second {
		t.Errorf("expected Interval 15s, got %v", cfg.Interval)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("expected default endpoint, got %q", cfg.Endpoint)
	}
	if cfg.Interval != 15*time.Second {
		t.Errorf("expected default interval, got %v", cfg.Interval)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected default sample rate, got %f", cfg.SampleRate)
	}
}

func TestConfig_DerivedProviderConfigs(t *testing.T) {
	cfg := Config{
		Endpoint:    "collector:4318",
		Interval:    time.Second,
		SampleRate:  0.25,
		Environment: "staging",
		Version:     "2.1.0",
	}

	mc := cfg.MeterConfig("flow")
	if mc.Endpoint != "collector:4318" || mc.Interval != time.Second {
		t.Errorf("unexpected meter config: %+v", mc)
	}
	if mc.Environment != "staging" || mc.ServiceVersion != "2.1.0" {
		t.Errorf("expected environment and version to carry over, got %+v", mc)
	}

	tc := cfg.TracerConfig("flow")
	if tc.SampleRate != 0.25 {
		t.Errorf("expected sample rate 0.25, got %f", tc.SampleRate)
	}
	if tc.ServiceName != "flow" || tc.Insecure {
		t.Errorf("unexpected tracer config: %+v", tc)
	}
}

func TestNewMetrics_Noop(t *testing.T) {
	metrics, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("unexpected error creating metrics: %v", err)
	}

	ctx := context.Background()
	metrics.RecordItemSent(ctx, "p")
	metrics.RecordItemProcessed(ctx, "p", "map-1", "ok", time.Millisecond)
	metrics.RecordItemDiscarded(ctx, "p", "where-1", "filtered")
	metrics.RecordBatch(ctx, "p", "batch-1", TriggerSize, 3)
	metrics.RecordStageFault(ctx, "p", "map-1", "PROCESSING_FAULT")
	metrics.RecordPipelineStarted(ctx)
	metrics.RecordPipelineStopped(ctx)
}

func TestNilMetrics(t *testing.T) {
	var metrics *Metrics
	ctx := context.Background()

	// A nil *Metrics must be usable everywhere.
	metrics.RecordItemSent(ctx, "p")
	metrics.RecordBatch(ctx, "p", "batch-1", TriggerTimeout, 1)
	metrics.RecordStageFault(ctx, "p", "map-1", "CANCELLED")
	metrics.RecordPipelineStarted(ctx)
}

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, not an int64 sum", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetrics_ManualReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	metrics.RecordBatch(ctx, "p", "batch-1", TriggerSize, 3)
	metrics.RecordBatch(ctx, "p", "batch-1", TriggerShutdown, 1)
	metrics.RecordItemSent(ctx, "p")
	metrics.RecordPipelineStarted(ctx)
	metrics.RecordPipelineStarted(ctx)
	metrics.RecordPipelineStopped(ctx)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	if got := sumValue(t, rm, "dataflow.batches.emitted"); got != 2 {
		t.Errorf("expected 2 batches, got %d", got)
	}
	if got := sumValue(t, rm, "dataflow.items.sent"); got != 1 {
		t.Errorf("expected 1 item sent, got %d", got)
	}
	if got := sumValue(t, rm, "dataflow.pipelines.active"); got != 1 {
		t.Errorf("expected 1 active pipeline, got %d", got)
	}
}

func TestSetSpanError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), SpanPipelineClose)
	SetSpanError(ctx, fmt.Errorf("stage faulted"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected the error to be recorded as a span event")
	}
}

func TestSetSpanError_NoSpan(t *testing.T) {
	// Must not panic without a span in context.
	SetSpanError(context.Background(), fmt.Errorf("ignored"))
}

func TestStartStageSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	}()

	_, ok := StartStageSpan(context.Background(), SpanBatchFlush, "p1", "batch-1", attribute.Int(AttrBatchSize, 3))
	EndSpan(ok, nil)
	_, failed := StartStageSpan(context.Background(), SpanStageProcess, "p1", "map-2")
	EndSpan(failed, fmt.Errorf("bad item"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	if attrs[AttrPipelineID].AsString() != "p1" || attrs[AttrStage].AsString() != "batch-1" || attrs[AttrBatchSize].AsInt64() != 3 {
		t.Errorf("unexpected attributes: %v", spans[0].Attributes)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("a successful flush must not carry an error status")
	}
	if spans[1].Status.Code != codes.Error || len(spans[1].Events) == 0 {
		t.Errorf("expected the failure recorded, got %v", spans[1].Status)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.rate), func(t *testing.T) {
			desc := sampler(tc.rate).Description()
			if !strings.HasPrefix(desc, "ParentBased{root:"+tc.want) {
				t.Errorf("sampler(%v) = %s, want root %s", tc.rate, desc, tc.want)
			}
		})
	}
}

type fixedChecker Health

func (c fixedChecker) CheckHealth(context.Context) Health { return Health(c) }

func TestServiceHealth(t *testing.T) {
	tests := []struct {
		name     string
		statuses []HealthStatus
		want     HealthStatus
	}{
		{"no components", nil, HealthStatusUp},
		{"all up", []HealthStatus{HealthStatusUp, HealthStatusUp}, HealthStatusUp},
		{"one degraded", []HealthStatus{HealthStatusUp, HealthStatusDegraded}, HealthStatusDegraded},
		{"down wins", []HealthStatus{HealthStatusDown, HealthStatusDegraded}, HealthStatusDown},
		{"down then degraded stays down", []HealthStatus{HealthStatusDegraded, HealthStatusDown, HealthStatusUp}, HealthStatusDown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			checkers := make([]HealthChecker, 0, len(tc.statuses))
			for i, s := range tc.statuses {
				checkers = append(checkers, fixedChecker{Name: fmt.Sprintf("p%d", i), Status: s})
			}

			sh := NewServiceHealth("svc", "1.0.0").Collect(context.Background(), checkers...)
			if sh.Status != tc.want {
				t.Errorf("expected %s, got %s", tc.want, sh.Status)
			}
			if sh.Healthy() != (tc.want == HealthStatusUp) {
				t.Errorf("Healthy() = %v for status %s", sh.Healthy(), sh.Status)
			}
			if len(sh.Components) != len(tc.statuses) {
				t.Errorf("expected %d components, got %d", len(tc.statuses), len(sh.Components))
			}
		})
	}
}
