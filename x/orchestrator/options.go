package orchestrator

import "time"

// Option configures the orchestrator
type Option func(*Config)

// Config holds orchestrator configuration
type Config struct {
	// CircuitTimeout bounds every circuit request; zero means no bound.
	CircuitTimeout time.Duration
	Metrics        *Metrics
}

// WithCircuitTimeout bounds each circuit request. A timed out request counts as a rejection.
func WithCircuitTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.CircuitTimeout = timeout
	}
}

// WithMetrics enables metrics collection
func WithMetrics(m *Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}
