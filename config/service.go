package config

import (
	"fmt"

	"github.com/kbukum/dataflow/logger"
	"github.com/kbukum/dataflow/observability"
	"github.com/kbukum/dataflow/pipeline"
	"github.com/kbukum/dataflow/resilience"
	"github.com/kbukum/dataflow/validation"
)

// ServiceConfig is the configuration of a service running dataflow
// pipelines. Projects extend it by embedding it in their own config structs.
//
//	type MyConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Store store.Config   `yaml:"store" mapstructure:"store"`
//	}
type ServiceConfig struct {
	Name          string                 `yaml:"name" mapstructure:"name" validate:"required"`
	Environment   string                 `yaml:"environment" mapstructure:"environment" validate:"oneof=development staging production"`
	Version       string                 `yaml:"version" mapstructure:"version"`
	Debug         bool                   `yaml:"debug" mapstructure:"debug"`
	Logging       logger.Config          `yaml:"logging" mapstructure:"logging"`
	Pipeline      pipeline.Config        `yaml:"pipeline" mapstructure:"pipeline"`
	Retry         resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
	Observability observability.Config   `yaml:"observability" mapstructure:"observability"`
}

// GetServiceConfig returns the base ServiceConfig. It is promoted to
// embedding structs.
func (c *ServiceConfig) GetServiceConfig() *ServiceConfig {
	return c
}

// ApplyDefaults applies default values to every section.
// Embedding structs should call c.ServiceConfig.ApplyDefaults() first.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Logging.ServiceName == "" && c.Name != "" {
		c.Logging.ServiceName = c.Name
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
	c.Pipeline.ApplyDefaults()
	c.Retry.ApplyDefaults()

	c.Observability.ApplyDefaults()
	c.Observability.Environment = c.Environment
	c.Observability.Version = c.Version
}

// Validate validates every section.
// Embedding structs should call c.ServiceConfig.Validate() first.
func (c *ServiceConfig) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	return nil
}
