package pipeline

import (
	"context"
	"fmt"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/logger"
	"github.com/kbukum/dataflow/observability"
)

const (
	// DefaultCapacity is the inbound queue size of a stage.
	DefaultCapacity = 128
	// DefaultParallelism processes one item at a time, preserving order.
	DefaultParallelism = 1
)

// Option configures a stage. Options passed to Create apply to every stage
// of the pipeline; options passed to a single builder call override them for
// that stage only.
type Option func(*options)

type options struct {
	ctx         context.Context
	name        string
	capacity    int
	parallelism int
	log         *logger.Logger
	metrics     *observability.Metrics
	pipelineID  string
}

func defaultOptions() options {
	return options{
		ctx:         context.Background(),
		capacity:    DefaultCapacity,
		parallelism: DefaultParallelism,
	}
}

func newOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get("dataflow")
	}
	return o
}

func (o *options) validate() *errors.Fault {
	if o.ctx == nil {
		return errors.InvalidConfig("context", "must not be nil")
	}
	if o.capacity < 1 {
		return errors.InvalidConfig("capacity", fmt.Sprintf("must be at least 1, got %d", o.capacity))
	}
	if o.parallelism < 1 {
		return errors.InvalidConfig("parallelism", fmt.Sprintf("must be at least 1, got %d", o.parallelism))
	}
	return nil
}

// stageLogger returns the stage logger tagged with pipeline and stage identity.
func (o *options) stageLogger() *logger.Logger {
	fields := logger.Fields(logger.FieldStage, o.name)
	if o.pipelineID != "" {
		fields[logger.FieldPipelineID] = o.pipelineID
	}
	return o.log.WithFields(fields)
}

// WithContext binds the stage to ctx. Cancelling ctx stops the stage; the
// resulting fault counts as a cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithName names the pipeline when given to Create, or a single stage when
// given to a builder step.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithCapacity sets the size of the inbound queue.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithParallelism sets how many items a stage processes concurrently.
// Values above one give up ordering.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// WithLogger sets the logger. Defaults to logger.Get("dataflow").
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records stage activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithConfig applies capacity and parallelism from cfg.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.Capacity > 0 {
			o.capacity = cfg.Capacity
		}
		if cfg.Parallelism > 0 {
			o.parallelism = cfg.Parallelism
		}
	}
}

func withPipelineID(id string) Option {
	return func(o *options) { o.pipelineID = id }
}
