package observability

import "time"

// Config contains OpenTelemetry export settings for a service.
type Config struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string        `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,hostname_port"`
	Insecure    bool          `yaml:"insecure" mapstructure:"insecure"`
	Interval    time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
	SampleRate  float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Environment string        `yaml:"-" mapstructure:"-"`
	Version     string        `yaml:"-" mapstructure:"-"`
}

// ApplyDefaults applies default values to observability configuration.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
}

// MeterConfig derives the meter provider settings for serviceName.
func (c *Config) MeterConfig(serviceName string) MeterConfig {
	mc := DefaultMeterConfig(serviceName)
	mc.Endpoint = c.Endpoint
	mc.Insecure = c.Insecure
	mc.Interval = c.Interval
	if c.Environment != "" {
		mc.Environment = c.Environment
	}
	if c.Version != "" {
		mc.ServiceVersion = c.Version
	}
	return mc
}

// TracerConfig derives the tracer provider settings for serviceName.
func (c *Config) TracerConfig(serviceName string) TracerConfig {
	tc := DefaultTracerConfig(serviceName)
	tc.Endpoint = c.Endpoint
	tc.Insecure = c.Insecure
	tc.SampleRate = c.SampleRate
	if c.Environment != "" {
		tc.Environment = c.Environment
	}
	if c.Version != "" {
		tc.ServiceVersion = c.Version
	}
	return tc
}
