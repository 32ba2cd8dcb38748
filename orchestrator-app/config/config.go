package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apisrv "github.com/compose-network/prover-orchestrator/server/api"
	"github.com/compose-network/prover-orchestrator/x/circuits"
)

// Prover modes.
const (
	ProverModeSimulated = "simulated"
	ProverModeHTTP      = "http"
)

// Config holds the complete application configuration
type Config struct {
	API          apisrv.Config      `mapstructure:"api"          yaml:"api"`
	Metrics      MetricsConfig      `mapstructure:"metrics"      yaml:"metrics"`
	Log          LogConfig          `mapstructure:"log"          yaml:"log"`
	Prover       ProverConfig       `mapstructure:"prover"       yaml:"prover"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// ProverConfig selects and tunes the circuit prover backend.
type ProverConfig struct {
	Mode            string          `mapstructure:"mode"              yaml:"mode"`
	BaseURL         string          `mapstructure:"base_url"          yaml:"base_url"`
	PollInterval    time.Duration   `mapstructure:"poll_interval"     yaml:"poll_interval"`
	MaxPollInterval time.Duration   `mapstructure:"max_poll_interval" yaml:"max_poll_interval"`
	RequestTimeout  time.Duration   `mapstructure:"request_timeout"   yaml:"request_timeout"`
	Simulated       SimulatedConfig `mapstructure:"simulated"         yaml:"simulated"`
}

// SimulatedConfig drives the in-process prover used for local runs.
type SimulatedConfig struct {
	// Latency is added to every circuit, keyed by circuit kind.
	Latency map[string]time.Duration `mapstructure:"latency" yaml:"latency"`
	// Fail rejects every request of the listed circuit kinds with the given message.
	Fail map[string]string `mapstructure:"fail" yaml:"fail"`
}

// OrchestratorConfig tunes epoch proving.
type OrchestratorConfig struct {
	CircuitTimeout    time.Duration `mapstructure:"circuit_timeout"     yaml:"circuit_timeout"`
	StatusLogInterval time.Duration `mapstructure:"status_log_interval" yaml:"status_log_interval"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	api := apisrv.DefaultConfig()
	v.SetDefault("api.listen_addr", api.ListenAddr)
	v.SetDefault("api.read_header_timeout", api.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", api.ReadTimeout)
	v.SetDefault("api.write_timeout", api.WriteTimeout)
	v.SetDefault("api.idle_timeout", api.IdleTimeout)
	v.SetDefault("api.shutdown_timeout", api.ShutdownTimeout)
	v.SetDefault("api.max_header_bytes", api.MaxHeaderBytes)
	v.SetDefault("api.cors.enabled", false)
	v.SetDefault("api.cors.allowed_origins", api.CORS.AllowedOrigins)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("prover.mode", ProverModeSimulated)
	v.SetDefault("prover.base_url", "")
	v.SetDefault("prover.poll_interval", "500ms")
	v.SetDefault("prover.max_poll_interval", "10s")
	v.SetDefault("prover.request_timeout", "30s")

	v.SetDefault("orchestrator.circuit_timeout", "10m")
	v.SetDefault("orchestrator.status_log_interval", "30s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateProver(); err != nil {
		return err
	}
	return c.validateOrchestrator()
}

func (c *Config) validateAPI() error {
	if strings.TrimSpace(c.API.ListenAddr) == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	if c.API.ReadTimeout <= 0 {
		return fmt.Errorf("api.read_timeout must be positive")
	}
	if c.API.WriteTimeout <= 0 {
		return fmt.Errorf("api.write_timeout must be positive")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

func (c *Config) validateProver() error {
	switch c.Prover.Mode {
	case ProverModeSimulated:
		for kind := range c.Prover.Simulated.Latency {
			if !circuits.Kind(kind).Valid() {
				return fmt.Errorf("prover.simulated.latency: unknown circuit %q", kind)
			}
		}
		for kind := range c.Prover.Simulated.Fail {
			if !circuits.Kind(kind).Valid() {
				return fmt.Errorf("prover.simulated.fail: unknown circuit %q", kind)
			}
		}
	case ProverModeHTTP:
		if strings.TrimSpace(c.Prover.BaseURL) == "" {
			return fmt.Errorf("prover.base_url is required in %s mode", ProverModeHTTP)
		}
		u, err := url.Parse(c.Prover.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("prover.base_url %q is not an absolute URL", c.Prover.BaseURL)
		}
		if c.Prover.PollInterval <= 0 {
			return fmt.Errorf("prover.poll_interval must be positive")
		}
		if c.Prover.MaxPollInterval < c.Prover.PollInterval {
			return fmt.Errorf("prover.max_poll_interval must not be below prover.poll_interval")
		}
	default:
		return fmt.Errorf("prover.mode must be %q or %q, got %q", ProverModeSimulated, ProverModeHTTP, c.Prover.Mode)
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	if c.Orchestrator.CircuitTimeout < 0 {
		return fmt.Errorf("orchestrator.circuit_timeout must not be negative")
	}
	if c.Orchestrator.StatusLogInterval < 0 {
		return fmt.Errorf("orchestrator.status_log_interval must not be negative")
	}
	return nil
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		API: apisrv.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
		Prover: ProverConfig{
			Mode:            ProverModeSimulated,
			PollInterval:    500 * time.Millisecond,
			MaxPollInterval: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			CircuitTimeout:    10 * time.Minute,
			StatusLogInterval: 30 * time.Second,
		},
	}
}
