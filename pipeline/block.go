package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/logger"
	"github.com/kbukum/dataflow/observability"
)

// Block is a bounded, concurrent processing stage. Items queue in an inbound
// channel of the configured capacity and are handled by a fixed number of
// workers, each calling fn and forwarding the result to the linked target.
//
// The first error returned by fn faults the block. A faulted block stops its
// workers, fails any queued items and forwards the fault downstream.
type Block[I, O any] struct {
	name    string
	fn      func(ctx context.Context, item I) (O, error)
	opts    options
	log     *logger.Logger
	metrics *observability.Metrics

	in   chan I
	done chan struct{}

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	state   State
	err     error
	senders sync.WaitGroup
	link    *link[O]
	started bool
	// raised is set when this block's own work failed, as opposed to a
	// fault received from a neighbour.
	raised atomic.Bool
}

var _ Stage[int, int] = (*Block[int, int])(nil)

// NewBlock creates a stage applying fn to every item. The block does nothing
// until Start is called.
func NewBlock[I, O any](fn func(ctx context.Context, item I) (O, error), opts ...Option) (*Block[I, O], error) {
	if fn == nil {
		return nil, errors.InvalidConfig("fn", "stage function must not be nil")
	}
	o := newOptions(opts)
	if o.name == "" {
		o.name = "block"
	}
	if err := o.validate(); err != nil {
		return nil, err.WithStage(o.name)
	}

	ctx, cancel := context.WithCancelCause(o.ctx)
	return &Block[I, O]{
		name:    o.name,
		fn:      fn,
		opts:    o,
		log:     o.stageLogger(),
		metrics: o.metrics,
		in:      make(chan I, o.capacity),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// identity passes items through unchanged.
func identity[T any](_ context.Context, item T) (T, error) {
	return item, nil
}

// Name returns the stage name.
func (b *Block[I, O]) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *Block[I, O]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done is closed once the block reached a terminal state.
func (b *Block[I, O]) Done() <-chan struct{} { return b.done }

// Err returns the terminal fault, nil on success or while running.
func (b *Block[I, O]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// LinkTo connects the block output to target. It must be called before Start.
func (b *Block[I, O]) LinkTo(target Target[O], pred func(O) bool) error {
	if target == nil {
		return errors.InvalidConfig("target", "link target must not be nil").WithStage(b.name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.link != nil {
		return errors.InvalidConfig("target", "stage output is already linked").WithStage(b.name)
	}
	if b.started {
		return errors.InvalidConfig("target", "cannot link a started stage").WithStage(b.name)
	}
	b.link = newLink(target, pred, &b.opts)
	return nil
}

// Start launches the workers.
func (b *Block[I, O]) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(b.ctx)
	for range b.opts.parallelism {
		g.Go(func() error { return b.work(gctx) })
	}
	go func() { b.finish(g.Wait()) }()

	b.log.Debug("stage started", logger.Fields("parallelism", b.opts.parallelism, "capacity", b.opts.capacity))
}

// Send queues item, blocking while the queue is full. It fails with a
// PIPELINE_CLOSED fault once the block stopped accepting items; the fault
// wraps the terminal error when the block faulted.
func (b *Block[I, O]) Send(ctx context.Context, item I) error {
	b.mu.Lock()
	if b.state != StateOpen {
		err := b.err
		b.mu.Unlock()
		return errors.PipelineClosed(err).WithStage(b.name)
	}
	b.senders.Add(1)
	b.mu.Unlock()
	defer b.senders.Done()

	if b.ctx.Err() != nil {
		return errors.PipelineClosed(context.Cause(b.ctx)).WithStage(b.name)
	}
	select {
	case b.in <- item:
		return nil
	case <-b.ctx.Done():
		return errors.PipelineClosed(context.Cause(b.ctx)).WithStage(b.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete stops accepting items. Queued items are still processed; the
// block completes once the queue is empty.
func (b *Block[I, O]) Complete() {
	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return
	}
	b.state = StateDraining
	b.mu.Unlock()

	// Senders admitted before the state change may still be blocked on a
	// full queue; the channel closes after they are through.
	go func() {
		b.senders.Wait()
		close(b.in)
	}()
}

// Fault stops the block with err. Queued items are failed with err.
func (b *Block[I, O]) Fault(err error) {
	if err == nil {
		err = context.Canceled
	}
	b.mu.Lock()
	terminal := b.state.Terminal()
	b.mu.Unlock()
	if !terminal {
		b.cancel(err)
	}
}

func (b *Block[I, O]) work(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-b.in:
			if !ok {
				return nil
			}
			if err := b.process(ctx, item); err != nil {
				return err
			}
		}
	}
}

func (b *Block[I, O]) process(ctx context.Context, item I) error {
	if ctx.Err() != nil {
		failItem(item, errors.PipelineShutdown(context.Cause(ctx)))
		return nil
	}

	start := time.Now()
	sctx, span := observability.StartStageSpan(ctx, observability.SpanStageProcess, b.opts.pipelineID, b.name)
	out, err := b.call(sctx, item)
	observability.EndSpan(span, err)
	if err != nil {
		b.metrics.RecordItemProcessed(ctx, b.opts.pipelineID, b.name, "error", time.Since(start))
		failItem(item, err)
		if ctx.Err() != nil {
			// fn gave up because the stage is already stopping.
			return nil
		}
		b.raised.Store(true)
		return err
	}
	b.metrics.RecordItemProcessed(ctx, b.opts.pipelineID, b.name, "ok", time.Since(start))

	if err := b.link.emit(ctx, out); err != nil {
		failItem(out, err)
		if ctx.Err() != nil {
			return nil
		}
		if !rejected(err) {
			b.raised.Store(true)
		}
		return downstreamCause(err)
	}
	return nil
}

// call runs fn, turning a panic into a processing fault.
func (b *Block[I, O]) call(ctx context.Context, item I) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeProcessing, fmt.Sprintf("panic: %v", r)).WithStage(b.name)
		}
	}()
	return b.fn(ctx, item)
}

// finish records the terminal outcome once every worker returned.
func (b *Block[I, O]) finish(err error) {
	external := b.ctx.Err() != nil
	if external {
		err = context.Cause(b.ctx)
	}

	b.mu.Lock()
	b.err = err
	if err == nil {
		b.state = StateCompleted
	} else {
		b.state = StateFaulted
	}
	b.mu.Unlock()

	b.cancel(err)
	if err != nil {
		b.senders.Wait()
		b.drain(err)
	}
	close(b.done)

	reportOutcome(b.log, b.metrics, b.opts.pipelineID, b.name, err, !external && b.raised.Load())
	b.link.propagate(err)
}

// drain fails items left in the queue after a fault.
func (b *Block[I, O]) drain(err error) {
	for {
		select {
		case item, ok := <-b.in:
			if !ok {
				return
			}
			failItem(item, err)
		default:
			return
		}
	}
}
