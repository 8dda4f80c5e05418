package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/dataflow/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Batch flush triggers.
const (
	TriggerSize     = "size"
	TriggerTimeout  = "timeout"
	TriggerShutdown = "shutdown"
)

// Metrics holds OpenTelemetry instruments for pipeline observability.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	itemsSent       metric.Int64Counter
	itemsProcessed  metric.Int64Counter
	itemsDiscarded  metric.Int64Counter
	itemDuration    metric.Float64Histogram
	batchesEmitted  metric.Int64Counter
	batchSize       metric.Int64Histogram
	stageFaults     metric.Int64Counter
	pipelinesActive metric.Int64UpDownCounter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	itemsSent, err := meter.Int64Counter("dataflow.items.sent",
		metric.WithDescription("Items accepted by pipeline heads"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.items.sent counter: %w", err)
	}

	itemsProcessed, err := meter.Int64Counter("dataflow.items.processed",
		metric.WithDescription("Items handled by stage functions, by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.items.processed counter: %w", err)
	}

	itemsDiscarded, err := meter.Int64Counter("dataflow.items.discarded",
		metric.WithDescription("Items dropped by filters or faulted stages"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.items.discarded counter: %w", err)
	}

	itemDuration, err := meter.Float64Histogram("dataflow.item.duration",
		metric.WithDescription("Duration of stage function calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.item.duration histogram: %w", err)
	}

	batchesEmitted, err := meter.Int64Counter("dataflow.batches.emitted",
		metric.WithDescription("Batches emitted by batching stages, by trigger"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.batches.emitted counter: %w", err)
	}

	batchSize, err := meter.Int64Histogram("dataflow.batch.size",
		metric.WithDescription("Number of items per emitted batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.batch.size histogram: %w", err)
	}

	stageFaults, err := meter.Int64Counter("dataflow.stage.faults",
		metric.WithDescription("Stages that ended faulted, by fault kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.stage.faults counter: %w", err)
	}

	pipelinesActive, err := meter.Int64UpDownCounter("dataflow.pipelines.active",
		metric.WithDescription("Pipelines built and not yet terminated"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.pipelines.active gauge: %w", err)
	}

	return &Metrics{
		itemsSent:       itemsSent,
		itemsProcessed:  itemsProcessed,
		itemsDiscarded:  itemsDiscarded,
		itemDuration:    itemDuration,
		batchesEmitted:  batchesEmitted,
		batchSize:       batchSize,
		stageFaults:     stageFaults,
		pipelinesActive: pipelinesActive,
	}, nil
}

// RecordItemSent counts an item accepted by a pipeline head.
func (m *Metrics) RecordItemSent(ctx context.Context, pipelineID string) {
	if m == nil {
		return
	}
	m.itemsSent.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrPipelineID, pipelineID)))
}

// RecordItemProcessed records one stage function call.
func (m *Metrics) RecordItemProcessed(ctx context.Context, pipelineID, stage, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.itemsProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipelineID, pipelineID),
		attribute.String(AttrStage, stage),
		attribute.String(AttrStatus, status),
	))
	m.itemDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrPipelineID, pipelineID),
		attribute.String(AttrStage, stage),
	))
}

// RecordItemDiscarded counts an item dropped without reaching a stage function.
func (m *Metrics) RecordItemDiscarded(ctx context.Context, pipelineID, stage, reason string) {
	if m == nil {
		return
	}
	m.itemsDiscarded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipelineID, pipelineID),
		attribute.String(AttrStage, stage),
		attribute.String(AttrReason, reason),
	))
}

// RecordBatch records an emitted batch and what triggered it.
func (m *Metrics) RecordBatch(ctx context.Context, pipelineID, stage, trigger string, size int) {
	if m == nil {
		return
	}
	m.batchesEmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipelineID, pipelineID),
		attribute.String(AttrStage, stage),
		attribute.String(AttrTrigger, trigger),
	))
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(
		attribute.String(AttrPipelineID, pipelineID),
		attribute.String(AttrStage, stage),
	))
}

// RecordStageFault records a stage ending faulted.
func (m *Metrics) RecordStageFault(ctx context.Context, pipelineID, stage, kind string) {
	if m == nil {
		return
	}
	m.stageFaults.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipelineID, pipelineID),
		attribute.String(AttrStage, stage),
		attribute.String(AttrFaultKind, kind),
	))
}

// RecordPipelineStarted increments the active pipeline count.
func (m *Metrics) RecordPipelineStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.pipelinesActive.Add(ctx, 1)
}

// RecordPipelineStopped decrements the active pipeline count.
func (m *Metrics) RecordPipelineStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.pipelinesActive.Add(ctx, -1)
}
