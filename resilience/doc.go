// Package resilience retries stage functions with exponential backoff.
//
// The pipeline machinery never retries on its own: a failing stage function
// faults the pipeline. Wrap the function to retry transient failures first:
//
//	cfg := resilience.DefaultRetryConfig()
//	cfg.OnRetry = resilience.LogRetries(logger.Get("ingest"), "enrich")
//
//	enriched := pipeline.Map(b, resilience.Stage(cfg, enrich))
//	p, err := enriched.Build(resilience.Action(cfg, store.Save))
//
// Cancellations and pipeline faults are never retried.
package resilience
