package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/logger"
)

// plan is shared by every Builder derived from one Create call.
type plan struct {
	id     string
	base   []Option
	stages []stageInfo
	seq    int
	err    error
	built  bool
}

// stageOptions returns the options of the next stage: the pipeline-wide
// ones, a generated name, then the per-stage overrides.
func (p *plan) stageOptions(kind string, extra []Option) []Option {
	name := kind
	if kind != "input" {
		p.seq++
		name = fmt.Sprintf("%s-%d", kind, p.seq)
	}
	opts := make([]Option, 0, len(p.base)+len(extra)+2)
	opts = append(opts, p.base...)
	opts = append(opts, withPipelineID(p.id), WithName(name))
	return append(opts, extra...)
}

func (p *plan) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// Builder composes a pipeline accepting I whose last stage produces O.
// Each step returns a new Builder; the chain is consumed by Build.
// Composition errors are collected and returned by Build.
type Builder[I, O any] struct {
	plan *plan
	head Target[I]
	tail Source[O]
	pred func(O) bool
}

// Create starts a pipeline accepting items of type T. The options apply to
// every stage; WithName names the pipeline.
func Create[T any](opts ...Option) *Builder[T, T] {
	p := &plan{id: uuid.NewString(), base: opts}
	b := &Builder[T, T]{plan: p}

	head, err := NewBlock(identity[T], p.stageOptions("input", nil)...)
	if err != nil {
		p.fail(err)
		return b
	}
	p.stages = append(p.stages, head)
	b.head = head
	b.tail = head
	return b
}

// attach links the current tail to stage and makes stage the new tail.
func attach[I, O, N any](b *Builder[I, O], stage Stage[O, N]) *Builder[I, N] {
	next := &Builder[I, N]{plan: b.plan, head: b.head}
	if b.plan.err != nil || b.tail == nil {
		return next
	}
	if err := b.tail.LinkTo(stage, b.pred); err != nil {
		b.plan.fail(err)
		return next
	}
	b.plan.stages = append(b.plan.stages, stage)
	next.tail = stage
	return next
}

// Map appends a stage transforming each item with fn. An error returned by
// fn faults the pipeline.
func Map[I, O, N any](b *Builder[I, O], fn func(ctx context.Context, item O) (N, error), opts ...Option) *Builder[I, N] {
	blk, err := NewBlock(fn, b.plan.stageOptions("map", opts)...)
	if err != nil {
		b.plan.fail(err)
		return &Builder[I, N]{plan: b.plan, head: b.head}
	}
	return attach[I, O, N](b, blk)
}

// Where appends a stage forwarding only items for which pred returns true.
// Other items are dropped without blocking the stage; a dropped Completable
// is failed with an ITEM_DISCARDED fault.
func (b *Builder[I, O]) Where(pred func(O) bool, opts ...Option) *Builder[I, O] {
	if pred == nil {
		b.plan.fail(errors.InvalidConfig("pred", "filter predicate must not be nil"))
		return &Builder[I, O]{plan: b.plan, head: b.head}
	}
	blk, err := NewBlock(identity[O], b.plan.stageOptions("where", opts)...)
	if err != nil {
		b.plan.fail(err)
		return &Builder[I, O]{plan: b.plan, head: b.head}
	}
	next := attach[I, O, O](b, blk)
	next.pred = pred
	return next
}

// Batch appends a BatchTimeout stage grouping items into slices of up to
// size. Pass Infinite as timeout to flush only on size and on Close.
func Batch[I, O any](b *Builder[I, O], size int, timeout time.Duration, opts ...Option) *Builder[I, []O] {
	bt, err := NewBatchTimeout[O](size, timeout, b.plan.stageOptions("batch", opts)...)
	if err != nil {
		b.plan.fail(err)
		return &Builder[I, []O]{plan: b.plan, head: b.head}
	}
	return attach[I, O, []O](b, bt)
}

// Then appends a caller-provided stage. The stage must not be linked yet.
func Then[I, O, N any](b *Builder[I, O], stage Stage[O, N]) *Builder[I, N] {
	if stage == nil {
		b.plan.fail(errors.InvalidConfig("stage", "stage must not be nil"))
		return &Builder[I, N]{plan: b.plan, head: b.head}
	}
	return attach(b, stage)
}

// Build terminates the chain with action, starts every stage and returns the
// running pipeline. A builder chain can be built only once.
func (b *Builder[I, O]) Build(action func(ctx context.Context, item O) error, opts ...Option) (*Pipeline[I], error) {
	p := b.plan
	if p.built {
		return nil, errors.InvalidConfig("", "pipeline was already built from this builder")
	}
	p.built = true
	if action == nil {
		p.fail(errors.InvalidConfig("action", "terminal action must not be nil"))
	}
	if p.err != nil {
		return nil, p.err
	}

	sink, err := NewBlock(func(ctx context.Context, item O) (struct{}, error) {
		return struct{}{}, action(ctx, item)
	}, p.stageOptions("action", opts)...)
	if err != nil {
		return nil, err
	}
	if err := b.tail.LinkTo(sink, b.pred); err != nil {
		return nil, err
	}
	p.stages = append(p.stages, sink)

	pl := newPipeline(p.id, b.head, sink, p.stages, newOptions(p.base))
	for _, s := range p.stages {
		s.Start()
	}
	pl.log.Info("pipeline started", logger.Fields("stages", len(p.stages)))
	return pl, nil
}
