// Package config loads the orchestrator's YAML configuration file,
// applies defaults, overlays environment variable overrides, and
// validates the result before any component starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the metrics/healthz HTTP server.
type ServerConfig struct {
	MetricsPort string `yaml:"metrics_port"`
}

// LoggingConfig controls logrus's level and formatter.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BreakerConfig holds the default circuit breaker settings applied to
// a deployment request that omits its own.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	MonitoringWindow time.Duration `yaml:"monitoring_window"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// StrategiesConfig holds the default strategy parameters used when a
// deployment request doesn't fully specify its rollout plan.
type StrategiesConfig struct {
	DefaultCanaryPercentages []int         `yaml:"default_canary_percentages"`
	DefaultStabilization     time.Duration `yaml:"default_stabilization"`
	DefaultMaxUnavailable    string        `yaml:"default_max_unavailable"`
	DefaultMaxSurge          string        `yaml:"default_max_surge"`

	// RetryMaxAttempts and RetryBaseDelay govern the Phase Runner's
	// Transient External retry loop (spec.md §7): a failed prepare/act
	// step that sharederrors.IsRetryable classifies as transient is
	// retried up to RetryMaxAttempts times with exponential backoff
	// starting at RetryBaseDelay.
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
}

// HealthConfig holds the default probe cadence and SLA target used by
// the Health Monitor when a deployment doesn't override them.
type HealthConfig struct {
	DefaultProbePeriod time.Duration `yaml:"default_probe_period"`
	DefaultSLATarget   float64       `yaml:"default_sla_target"`
}

// ResourceAdvisorConfig holds the Resource Advisor's tick cadence and
// utilization thresholds.
type ResourceAdvisorConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	CPUThreshold    float64       `yaml:"cpu_threshold"`
	MemoryThreshold float64       `yaml:"memory_threshold"`
}

// ShutdownConfig controls the orchestrator's graceful drain timeout.
type ShutdownConfig struct {
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// Config is the root of the orchestrator's configuration document.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Logging         LoggingConfig         `yaml:"logging"`
	Breaker         BreakerConfig         `yaml:"breaker"`
	Strategies      StrategiesConfig      `yaml:"strategies"`
	Health          HealthConfig          `yaml:"health"`
	ResourceAdvisor ResourceAdvisorConfig `yaml:"resource_advisor"`
	Shutdown        ShutdownConfig        `yaml:"shutdown"`
}

// Load reads path, applies defaults, overlays environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(config)

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.MetricsPort == "" {
		config.Server.MetricsPort = "9090"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}

	if config.Breaker.FailureThreshold == 0 {
		config.Breaker.FailureThreshold = 5
	}
	if config.Breaker.SuccessThreshold == 0 {
		config.Breaker.SuccessThreshold = 2
	}
	if config.Breaker.Timeout == 0 {
		config.Breaker.Timeout = 30 * time.Second
	}
	if config.Breaker.MonitoringWindow == 0 {
		config.Breaker.MonitoringWindow = 60 * time.Second
	}
	if config.Breaker.HalfOpenMaxCalls == 0 {
		config.Breaker.HalfOpenMaxCalls = 3
	}

	if len(config.Strategies.DefaultCanaryPercentages) == 0 {
		config.Strategies.DefaultCanaryPercentages = []int{10, 25, 50, 100}
	}
	if config.Strategies.DefaultStabilization == 0 {
		config.Strategies.DefaultStabilization = 60 * time.Second
	}
	if config.Strategies.DefaultMaxUnavailable == "" {
		config.Strategies.DefaultMaxUnavailable = "25%"
	}
	if config.Strategies.DefaultMaxSurge == "" {
		config.Strategies.DefaultMaxSurge = "25%"
	}
	if config.Strategies.RetryMaxAttempts == 0 {
		config.Strategies.RetryMaxAttempts = 3
	}
	if config.Strategies.RetryBaseDelay == 0 {
		config.Strategies.RetryBaseDelay = 500 * time.Millisecond
	}

	if config.Health.DefaultProbePeriod == 0 {
		config.Health.DefaultProbePeriod = 10 * time.Second
	}
	if config.Health.DefaultSLATarget == 0 {
		config.Health.DefaultSLATarget = 0.99
	}

	if config.ResourceAdvisor.TickInterval == 0 {
		config.ResourceAdvisor.TickInterval = 5 * time.Minute
	}
	if config.ResourceAdvisor.CPUThreshold == 0 {
		config.ResourceAdvisor.CPUThreshold = 0.8
	}
	if config.ResourceAdvisor.MemoryThreshold == 0 {
		config.ResourceAdvisor.MemoryThreshold = 0.9
	}

	if config.Shutdown.GracefulTimeout == 0 {
		config.Shutdown.GracefulTimeout = 30 * time.Second
	}
}

// loadFromEnv overlays the ORCH_* environment variables onto config.
// Unset variables leave the existing value untouched.
func loadFromEnv(config *Config) error {
	if v := os.Getenv("ORCH_METRICS_PORT"); v != "" {
		config.Server.MetricsPort = v
	}
	if v := os.Getenv("ORCH_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ORCH_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	if v := os.Getenv("ORCH_BREAKER_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ORCH_BREAKER_FAILURE_THRESHOLD: %w", err)
		}
		config.Breaker.FailureThreshold = n
	}
	if v := os.Getenv("ORCH_BREAKER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ORCH_BREAKER_TIMEOUT: %w", err)
		}
		config.Breaker.Timeout = d
	}
	if v := os.Getenv("ORCH_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ORCH_SHUTDOWN_TIMEOUT: %w", err)
		}
		config.Shutdown.GracefulTimeout = d
	}
	return nil
}

func validate(config *Config) error {
	if config.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be greater than 0")
	}
	if config.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker success threshold must be greater than 0")
	}

	if len(config.Strategies.DefaultCanaryPercentages) == 0 {
		return fmt.Errorf("default canary percentages must not be empty")
	}
	prev := 0
	for _, p := range config.Strategies.DefaultCanaryPercentages {
		if p <= 0 || p > 100 {
			return fmt.Errorf("default canary percentages must be in (0, 100]")
		}
		if p <= prev {
			return fmt.Errorf("default canary percentages must be strictly ascending")
		}
		prev = p
	}

	if config.Strategies.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be greater than 0")
	}
	if config.Strategies.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be greater than 0")
	}

	if config.Health.DefaultSLATarget < 0.0 || config.Health.DefaultSLATarget > 1.0 {
		return fmt.Errorf("default SLA target must be between 0.0 and 1.0")
	}

	if config.ResourceAdvisor.CPUThreshold <= 0.0 || config.ResourceAdvisor.CPUThreshold > 1.0 {
		return fmt.Errorf("CPU threshold must be between 0.0 and 1.0")
	}
	if config.ResourceAdvisor.MemoryThreshold <= 0.0 || config.ResourceAdvisor.MemoryThreshold > 1.0 {
		return fmt.Errorf("memory threshold must be between 0.0 and 1.0")
	}
	if config.ResourceAdvisor.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be greater than 0")
	}

	if config.Shutdown.GracefulTimeout <= 0 {
		return fmt.Errorf("graceful timeout must be greater than 0")
	}

	return nil
}
