package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/logger"
	"github.com/kbukum/dataflow/observability"
)

// Pipeline is a running chain of stages accepting items of type T.
//
// Items enter through Send. Close completes the head stage, waits for every
// stage to drain and reports the outcome of the chain. A fault raised by any
// stage travels down the chain and is reported by Close exactly once.
type Pipeline[T any] struct {
	id      string
	name    string
	head    Target[T]
	tail    completion
	stages  []stageInfo
	tracker *tracker
	log     *logger.Logger
	metrics *observability.Metrics

	closing   atomic.Bool
	closeOnce sync.Once
	reported  atomic.Bool
	torn      chan struct{}
}

func newPipeline[T any](id string, head Target[T], tail completion, stages []stageInfo, o options) *Pipeline[T] {
	name := o.name
	if name == "" {
		name = "pipeline"
	}
	p := &Pipeline[T]{
		id:      id,
		name:    name,
		head:    head,
		tail:    tail,
		stages:  stages,
		tracker: newTracker(),
		log:     o.log.WithFields(logger.Fields(logger.FieldPipelineID, id, "pipeline", name)),
		metrics: o.metrics,
		torn:    make(chan struct{}),
	}
	p.metrics.RecordPipelineStarted(context.Background())
	go p.watch()
	return p
}

// watch waits for the tail to finish, stops the head if the chain faulted
// and fails every item still pending.
func (p *Pipeline[T]) watch() {
	<-p.tail.Done()
	err := p.tail.Err()
	if err != nil {
		p.head.Fault(err)
	}
	p.tracker.failAll(errors.PipelineShutdown(err))
	p.metrics.RecordPipelineStopped(context.Background())

	switch {
	case err == nil:
		p.log.Debug("pipeline completed")
	case errors.IsCancellation(err):
		p.log.Debug("pipeline cancelled")
	default:
		p.log.WithError(err).Warn("pipeline faulted", logger.Fields(logger.FieldFaultKind, errors.Classify(err)))
	}
	close(p.torn)
}

// ID returns the unique pipeline identifier.
func (p *Pipeline[T]) ID() string { return p.id }

// Name returns the pipeline name.
func (p *Pipeline[T]) Name() string { return p.name }

// Done is closed once every stage reached a terminal state.
func (p *Pipeline[T]) Done() <-chan struct{} { return p.torn }

// Err returns the raw terminal outcome of the chain, including
// cancellations. It is nil while the pipeline runs.
func (p *Pipeline[T]) Err() error {
	select {
	case <-p.torn:
		return p.tail.Err()
	default:
		return nil
	}
}

// Send hands item to the head stage, blocking while the head is full.
//
// After Close began, or once the chain stopped, Send fails with a
// PIPELINE_CLOSED fault wrapping the terminal error, if any. An item carrying
// a completion slot (see Completable) is failed with the same error.
func (p *Pipeline[T]) Send(ctx context.Context, item T) error {
	if p.closing.Load() {
		return p.reject(item, errors.PipelineClosed(nil))
	}
	select {
	case <-p.torn:
		return p.reject(item, errors.PipelineClosed(p.tail.Err()))
	default:
	}

	if r, ok := any(item).(resolvable); ok && !p.tracker.add(r) {
		return p.reject(item, errors.PipelineClosed(p.tail.Err()))
	}
	if err := p.head.Send(ctx, item); err != nil {
		failItem(item, err)
		return err
	}
	p.metrics.RecordItemSent(ctx, p.id)
	return nil
}

func (p *Pipeline[T]) reject(item T, err error) error {
	failItem(item, err)
	return err
}

// Close stops accepting items and waits until every accepted item was
// processed or the chain faulted. Close is safe to call many times and from
// many goroutines.
//
// It returns nil on success and when the chain stopped because of a
// cancellation. Any other fault is returned unchanged to exactly one caller;
// use Err to inspect it afterwards. If ctx ends first, Close returns
// ctx.Err() and the pipeline keeps draining.
func (p *Pipeline[T]) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closing.Store(true)
		p.head.Complete()
		p.log.Info("pipeline closing")
	})

	ctx, span := observability.StartSpan(ctx, observability.SpanPipelineClose,
		trace.WithAttributes(
			attribute.String(observability.AttrPipelineID, p.id),
			attribute.Int(observability.AttrStageCount, len(p.stages)),
		),
	)
	defer span.End()

	select {
	case <-p.torn:
	case <-ctx.Done():
		observability.SetSpanError(ctx, ctx.Err())
		return ctx.Err()
	}

	err := p.tail.Err()
	if err == nil || errors.IsCancellation(err) {
		return nil
	}
	observability.SetSpanError(ctx, err)
	if !p.reported.CompareAndSwap(false, true) {
		return nil
	}
	return err
}

// CheckHealth reports the pipeline as up while open, degraded while
// draining and down once terminated, with every stage's state as details.
func (p *Pipeline[T]) CheckHealth(_ context.Context) observability.Health {
	h := observability.Health{
		Name:    p.name,
		Status:  observability.HealthStatusUp,
		Details: make(map[string]string, len(p.stages)+1),
	}
	h.Details["id"] = p.id
	for _, s := range p.stages {
		h.Details[s.Name()] = s.State().String()
	}

	select {
	case <-p.torn:
		h.Status = observability.HealthStatusDown
		if err := p.tail.Err(); err != nil {
			h.Message = err.Error()
		} else {
			h.Message = "completed"
		}
	default:
		if p.closing.Load() {
			h.Status = observability.HealthStatusDegraded
			h.Message = "draining"
		}
	}
	return h
}

// SendAndWait sends value wrapped in a Completable and waits until a stage
// resolves it.
func SendAndWait[T any](ctx context.Context, p *Pipeline[*Completable[T]], value T) error {
	c := NewCompletable(value)
	if err := p.Send(ctx, c); err != nil {
		return err
	}
	return c.Wait(ctx)
}

// SendAndWaitResult sends value wrapped in a CompletableResult and waits for
// the result a stage resolves it with.
func SendAndWaitResult[T, R any](ctx context.Context, p *Pipeline[*CompletableResult[T, R]], value T) (R, error) {
	c := NewCompletableResult[T, R](value)
	if err := p.Send(ctx, c); err != nil {
		var zero R
		return zero, err
	}
	return c.Wait(ctx)
}
