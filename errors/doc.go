// Package errors provides the fault taxonomy shared by dataflow pipelines.
// It implements a structured Fault type with machine-readable codes and
// helpers to classify arbitrary errors (processing, cancellation, capacity)
// so callers can decide what to surface and what to treat as shutdown.
package errors
