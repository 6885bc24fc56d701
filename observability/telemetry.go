package observability

import (
	"context"
	"errors"
	"time"
)

// Config is the telemetry section of the service configuration.
type Config struct {
	// Endpoint enables OTLP export when set.
	Endpoint    string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate  float64       `yaml:"sample_rate" mapstructure:"sample_rate"`
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
}

// ApplyDefaults fills unset sampling and interval values.
func (c *Config) ApplyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
}

// Enabled reports whether an exporter endpoint is configured.
func (c *Config) Enabled() bool { return c.Endpoint != "" }

// Setup installs OTLP tracer and meter providers when an endpoint is
// configured. The returned function shuts both down; it is a no-op when
// telemetry is disabled and the global no-op providers stay in place.
func Setup(ctx context.Context, cfg Config, serviceName, version string) (func(context.Context) error, error) {
	if !cfg.Enabled() {
		return func(context.Context) error { return nil }, nil
	}
	cfg.ApplyDefaults()

	tp, err := InitTracer(ctx, TracerConfig{
		ServiceName: serviceName, ServiceVersion: version, Environment: cfg.Environment,
		Endpoint: cfg.Endpoint, Insecure: cfg.Insecure, SampleRate: cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	mp, err := InitMeter(ctx, &MeterConfig{
		ServiceName: serviceName, ServiceVersion: version, Environment: cfg.Environment,
		Endpoint: cfg.Endpoint, Insecure: cfg.Insecure, Interval: cfg.Interval,
	})
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
