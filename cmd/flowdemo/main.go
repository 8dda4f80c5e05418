// Command flowdemo reads lines from stdin and pushes them through a
// trim, filter and batch pipeline, logging each batch it receives.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kbukum/dataflow/config"
	"github.com/kbukum/dataflow/logger"
	"github.com/kbukum/dataflow/observability"
	"github.com/kbukum/dataflow/pipeline"
	"github.com/kbukum/dataflow/resilience"
)

const serviceName = "flowdemo"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load[config.ServiceConfig](serviceName)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging)
	log := logger.WithComponent(serviceName)
	logger.Register("dataflow", log.WithComponent("dataflow"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, metrics, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	retry := cfg.Retry
	retry.OnRetry = resilience.LogRetries(log, "sink")

	p, err := buildPipeline(ctx, cfg, retry, metrics, func(_ context.Context, batch []string) error {
		log.Info("batch received", logger.Fields("size", len(batch), "first", batch[0]))
		return nil
	})
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := p.Send(ctx, scanner.Text()); err != nil {
			log.Warn("line rejected", logger.Fields(logger.FieldError, err.Error()))
			break
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error("reading stdin", logger.Fields(logger.FieldError, err.Error()))
	}

	health := observability.NewServiceHealth(cfg.Name, cfg.Version).Collect(ctx, p)
	log.Info("pipeline health", logger.Fields("status", string(health.Status)))

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.Close(closeCtx)
}

// buildPipeline wires trim, blank-line filter and batching in front of sink.
// Cancelling ctx stops every stage, including batches sink is handling.
func buildPipeline(
	ctx context.Context,
	cfg *config.ServiceConfig,
	retry resilience.RetryConfig,
	metrics *observability.Metrics,
	sink func(ctx context.Context, batch []string) error,
) (*pipeline.Pipeline[string], error) {
	input := pipeline.Create[string](
		pipeline.WithContext(ctx),
		pipeline.WithName(cfg.Name),
		pipeline.WithConfig(cfg.Pipeline),
		pipeline.WithMetrics(metrics),
	)
	trimmed := pipeline.Map(input, func(_ context.Context, line string) (string, error) {
		return strings.TrimSpace(line), nil
	})
	filtered := trimmed.Where(func(line string) bool { return line != "" })
	return pipeline.Batch(filtered, cfg.Pipeline.BatchSize, cfg.Pipeline.BatchTimeout).
		Build(resilience.Action(retry, sink))
}

// setupTelemetry installs the OTLP meter and tracer providers when enabled.
// The returned metrics are nil otherwise, which disables recording.
func setupTelemetry(ctx context.Context, cfg *config.ServiceConfig) (func(), *observability.Metrics, error) {
	if !cfg.Observability.Enabled {
		return func() {}, nil, nil
	}

	meterCfg := cfg.Observability.MeterConfig(cfg.Name)
	mp, err := observability.InitMeter(ctx, &meterCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init meter: %w", err)
	}
	tp, err := observability.InitTracer(ctx, cfg.Observability.TracerConfig(cfg.Name))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, nil, fmt.Errorf("init tracer: %w", err)
	}
	metrics, err := observability.NewMetrics(observability.Meter("dataflow"))
	if err != nil {
		_ = mp.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown", logger.Fields(logger.FieldError, err.Error()))
		}
		if err := mp.Shutdown(sctx); err != nil {
			logger.Warn("meter shutdown", logger.Fields(logger.FieldError, err.Error()))
		}
	}, metrics, nil
}
