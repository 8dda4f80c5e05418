// Package observability provides OpenTelemetry tracing, metrics and health
// reporting for dataflow pipelines.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("my-service"))
//	defer tp.Shutdown(ctx)
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, &meterCfg)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("dataflow"))
//	p, err := pipeline.Create[string](pipeline.WithMetrics(metrics)).Build(sink)
//
// Health:
//
//	health := observability.NewServiceHealth("my-service", "1.0.0").Collect(ctx, p)
package observability
