package pipeline

import (
	"context"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/logger"
	"github.com/kbukum/dataflow/observability"
)

// State is the lifecycle position of a stage.
type State int

const (
	// StateOpen accepts new items.
	StateOpen State = iota
	// StateDraining rejects new items and finishes the ones already accepted.
	StateDraining
	// StateCompleted means every accepted item was processed.
	StateCompleted
	// StateFaulted means the stage stopped because of an error.
	StateFaulted
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFaulted
}

// Target is anything that accepts items and can be told that no more will
// arrive (Complete) or that upstream failed (Fault).
type Target[T any] interface {
	// Send hands one item to the target, blocking while it is full.
	Send(ctx context.Context, item T) error
	// Complete signals that no more items will be sent.
	Complete()
	// Fault stops the target with err. A nil err is treated as a cancellation.
	Fault(err error)
	// Done is closed once the target reached a terminal state.
	Done() <-chan struct{}
	// Err returns the terminal outcome, nil while running or on success.
	Err() error
}

// Source produces items of type T for exactly one downstream target.
type Source[T any] interface {
	// LinkTo connects the output to target. Items failing pred, when pred is
	// non-nil, are discarded. A source can be linked only once.
	LinkTo(target Target[T], pred func(T) bool) error
}

// Stage is a running element of a pipeline, consuming I and producing O.
type Stage[I, O any] interface {
	Target[I]
	Source[O]
	// Name identifies the stage in logs, metrics and health reports.
	Name() string
	// State returns the current lifecycle state.
	State() State
	// Start launches the stage's workers. Calling it more than once is a no-op.
	Start()
}

// stageInfo is the type-erased view of a stage used for health and startup.
type stageInfo interface {
	Name() string
	State() State
	Start()
}

// completion is the type-erased view of a pipeline tail.
type completion interface {
	Done() <-chan struct{}
	Err() error
}

// reportOutcome logs a stage's terminal outcome. Only the stage that raised
// a fault logs it as a warning and counts it; stages that received it from a
// neighbour log at debug.
func reportOutcome(log *logger.Logger, metrics *observability.Metrics, pipelineID, stage string, err error, raised bool) {
	switch {
	case err == nil:
		log.Debug("stage completed")
	case errors.IsCancellation(err):
		log.Debug("stage cancelled", logger.Fields(logger.FieldFaultKind, errors.ErrCodeCancelled))
	case !raised:
		log.WithError(err).Debug("stage stopped by upstream or downstream fault", logger.Fields(logger.FieldFaultKind, errors.Classify(err)))
	default:
		kind := errors.Classify(err)
		log.WithError(err).Warn("stage faulted", logger.Fields(logger.FieldFaultKind, kind))
		metrics.RecordStageFault(context.Background(), pipelineID, stage, string(kind))
	}
}
