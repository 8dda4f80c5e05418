package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/observability"
)

// link forwards a stage's output to its target. Items rejected by pred go to
// the discard sink. Completion is forwarded exactly once.
type link[T any] struct {
	target  Target[T]
	pred    func(T) bool
	discard *discardTarget[T]
	settled atomic.Bool
}

func newLink[T any](target Target[T], pred func(T) bool, o *options) *link[T] {
	l := &link[T]{target: target, pred: pred}
	if pred != nil {
		l.discard = &discardTarget[T]{stage: o.name, pipelineID: o.pipelineID, metrics: o.metrics}
	}
	return l
}

// emit routes item to the target or the discard sink. A panicking
// predicate is returned as a processing fault of the source stage.
func (l *link[T]) emit(ctx context.Context, item T) error {
	if l == nil {
		return nil
	}
	if l.pred != nil {
		keep, err := l.match(item)
		if err != nil {
			return err
		}
		if !keep {
			return l.discard.Send(ctx, item)
		}
	}
	return l.target.Send(ctx, item)
}

func (l *link[T]) match(item T) (keep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeProcessing, fmt.Sprintf("predicate panic: %v", r)).WithStage(l.discard.stage)
		}
	}()
	return l.pred(item), nil
}

// propagate forwards the terminal outcome of the source.
func (l *link[T]) propagate(err error) {
	if l == nil || !l.settled.CompareAndSwap(false, true) {
		return
	}
	if err == nil {
		l.target.Complete()
		return
	}
	l.target.Fault(err)
}

// discardTarget swallows items rejected by a filter. It never completes.
type discardTarget[T any] struct {
	stage      string
	pipelineID string
	metrics    *observability.Metrics
}

func (d *discardTarget[T]) Send(ctx context.Context, item T) error {
	failItem(item, errors.ItemDiscarded(d.stage))
	d.metrics.RecordItemDiscarded(ctx, d.pipelineID, d.stage, "filtered")
	return nil
}

func (d *discardTarget[T]) Complete()             {}
func (d *discardTarget[T]) Fault(error)           {}
func (d *discardTarget[T]) Done() <-chan struct{} { return nil }
func (d *discardTarget[T]) Err() error            { return nil }

// rejected reports whether err is a done target refusing an item, as
// opposed to a failure raised while emitting.
func rejected(err error) bool {
	f, ok := errors.AsFault(err)
	return ok && f.Code == errors.ErrCodePipelineClosed
}

// downstreamCause extracts the reason a done target rejected an item.
// A rejection carrying the target's terminal fault yields that fault.
func downstreamCause(err error) error {
	if f, ok := errors.AsFault(err); ok && f.Code == errors.ErrCodePipelineClosed && f.Cause != nil {
		return f.Cause
	}
	return err
}
