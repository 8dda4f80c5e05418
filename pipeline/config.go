package pipeline

import (
	"time"

	"github.com/kbukum/dataflow/validation"
)

// Config holds stage sizing read from configuration files.
type Config struct {
	Capacity     int           `yaml:"capacity" mapstructure:"capacity" validate:"gte=1"`
	Parallelism  int           `yaml:"parallelism" mapstructure:"parallelism" validate:"gte=1,lte=1024"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=1"`
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
}

// ApplyDefaults fills zero values. A zero BatchTimeout becomes one second;
// use a negative value for Infinite.
func (c *Config) ApplyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Parallelism == 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.Validate(c)
}
