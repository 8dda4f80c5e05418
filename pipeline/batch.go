package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/logger"
	"github.com/kbukum/dataflow/observability"
)

// Infinite disables the inactivity timeout of a BatchTimeout stage.
const Infinite time.Duration = -1

// BatchTimeout groups items into slices of up to size items. A batch is
// emitted as soon as it is full, when no item arrived for timeout, or when
// the stage completes. Items keep their arrival order and each one ends up
// in exactly one batch.
//
// Buffer, timer and lifecycle share one mutex, so a timer firing, a new
// arrival and shutdown never interleave.
type BatchTimeout[T any] struct {
	name    string
	size    int
	timeout time.Duration
	opts    options
	log     *logger.Logger
	metrics *observability.Metrics

	ctx     context.Context
	cancel  context.CancelCauseFunc
	stopCtx func() bool
	done    chan struct{}

	mu    sync.Mutex
	buf   []T
	timer *time.Timer
	gen   uint64
	state State
	err   error
	link  *link[[]T]
}

var _ Stage[int, []int] = (*BatchTimeout[int])(nil)

// NewBatchTimeout creates a batching stage. A timeout of zero or less
// (see Infinite) only flushes on size and on completion.
func NewBatchTimeout[T any](size int, timeout time.Duration, opts ...Option) (*BatchTimeout[T], error) {
	o := newOptions(opts)
	if o.name == "" {
		o.name = "batch"
	}
	if size < 1 {
		return nil, errors.InvalidConfig("batch_size", fmt.Sprintf("must be at least 1, got %d", size)).WithStage(o.name)
	}
	if err := o.validate(); err != nil {
		return nil, err.WithStage(o.name)
	}

	ctx, cancel := context.WithCancelCause(o.ctx)
	b := &BatchTimeout[T]{
		name:    o.name,
		size:    size,
		timeout: timeout,
		opts:    o,
		log:     o.stageLogger(),
		metrics: o.metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	b.stopCtx = context.AfterFunc(ctx, func() { b.Fault(context.Cause(ctx)) })
	return b, nil
}

// Name returns the stage name.
func (b *BatchTimeout[T]) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *BatchTimeout[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done is closed once the stage reached a terminal state.
func (b *BatchTimeout[T]) Done() <-chan struct{} { return b.done }

// Err returns the terminal fault, nil on success or while running.
func (b *BatchTimeout[T]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Start is a no-op: the stage runs on its senders' goroutines and its timer.
func (b *BatchTimeout[T]) Start() {}

// LinkTo connects the batch output to target.
func (b *BatchTimeout[T]) LinkTo(target Target[[]T], pred func([]T) bool) error {
	if target == nil {
		return errors.InvalidConfig("target", "link target must not be nil").WithStage(b.name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.link != nil {
		return errors.InvalidConfig("target", "stage output is already linked").WithStage(b.name)
	}
	b.link = newLink(target, pred, &b.opts)
	return nil
}

// Send appends item to the current batch. A full batch is emitted on the
// caller's goroutine before Send returns.
func (b *BatchTimeout[T]) Send(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return errors.PipelineClosed(b.err).WithStage(b.name)
	}

	b.buf = append(b.buf, item)
	if len(b.buf) < b.size {
		b.scheduleLocked()
		return nil
	}

	b.stopTimerLocked()
	ectx, release := b.emitContext(ctx)
	defer release()
	err := b.flushLocked(ectx, observability.TriggerSize)
	switch {
	case err == nil:
		return nil
	case b.state != StateOpen:
		// The flush faulted this stage; upstream sees a rejection.
		return errors.PipelineClosed(b.err).WithStage(b.name)
	case len(b.buf) > 0:
		// The caller gave up: reject its item, keep the earlier ones.
		b.buf = b.buf[:len(b.buf)-1]
		b.scheduleLocked()
	}
	return err
}

// Complete flushes the remaining partial batch and completes downstream.
func (b *BatchTimeout[T]) Complete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return
	}

	b.stopTimerLocked()
	if err := b.flushLocked(b.ctx, observability.TriggerShutdown); err != nil {
		if b.state == StateOpen {
			// The flush was interrupted by a concurrent Fault.
			b.finishLocked(context.Cause(b.ctx), false)
		}
		return
	}
	b.finishLocked(nil, false)
}

// Fault discards the buffered items and faults downstream with err.
func (b *BatchTimeout[T]) Fault(err error) {
	if err == nil {
		err = context.Canceled
	}
	// Cancel first so an emission blocked on a slow target lets go of the lock.
	b.cancel(err)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Terminal() {
		return
	}
	b.finishLocked(context.Cause(b.ctx), false)
}

// emitContext returns a context cancelled by either ctx or the stage.
func (b *BatchTimeout[T]) emitContext(ctx context.Context) (context.Context, func()) {
	ectx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(b.ctx, func() { cancel(context.Cause(b.ctx)) })
	return ectx, func() {
		stop()
		cancel(nil)
	}
}

func (b *BatchTimeout[T]) scheduleLocked() {
	if b.timeout <= 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(b.timeout, func() { b.onTimer(gen) })
}

// stopTimerLocked cancels the pending timer. Bumping the generation makes a
// callback that already fired and waits for the lock a no-op.
func (b *BatchTimeout[T]) stopTimerLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *BatchTimeout[T]) onTimer(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen || b.state != StateOpen || len(b.buf) == 0 {
		return
	}
	b.timer = nil
	if err := b.flushLocked(b.ctx, observability.TriggerTimeout); err != nil {
		b.log.Debug("timeout flush failed", logger.ErrorFields("flush", err))
	}
}

// flushLocked hands the buffered items downstream as one batch. A target
// that is already done faults this stage with the target's cause.
func (b *BatchTimeout[T]) flushLocked(ctx context.Context, trigger string) error {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = nil

	sctx, span := observability.StartStageSpan(ctx, observability.SpanBatchFlush, b.opts.pipelineID, b.name,
		attribute.String(observability.AttrTrigger, trigger),
		attribute.Int(observability.AttrBatchSize, len(batch)),
	)
	err := b.link.emit(sctx, batch)
	observability.EndSpan(span, err)
	if err == nil {
		b.metrics.RecordBatch(ctx, b.opts.pipelineID, b.name, trigger, len(batch))
		b.log.Debug("batch emitted", logger.Fields(logger.FieldBatchSize, len(batch), observability.AttrTrigger, trigger))
		return nil
	}

	if b.ctx.Err() == nil && ctx.Err() != nil {
		b.buf = batch
		return err
	}
	failItems(batch, err)
	if b.ctx.Err() == nil {
		b.finishLocked(downstreamCause(err), !rejected(err))
	}
	return err
}

// finishLocked moves the stage to its terminal state and forwards the
// outcome. raised marks a fault caused by this stage's own emission.
func (b *BatchTimeout[T]) finishLocked(err error, raised bool) {
	b.stopTimerLocked()
	b.err = err
	if err == nil {
		b.state = StateCompleted
	} else {
		b.state = StateFaulted
		failItems(b.buf, err)
		b.buf = nil
	}
	b.stopCtx()
	b.cancel(err)
	close(b.done)

	reportOutcome(b.log, b.metrics, b.opts.pipelineID, b.name, err, raised)
	b.link.propagate(err)
}
