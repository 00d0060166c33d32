// Package config loads and validates orchestrator configuration from a YAML
// file, an optional .env file, and ORCHESTRA_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kbukum/orchestra/balancer"
	"github.com/kbukum/orchestra/health"
	"github.com/kbukum/orchestra/logger"
	"github.com/kbukum/orchestra/queue"
	"github.com/kbukum/orchestra/resilience"
	"github.com/kbukum/orchestra/server"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	Base     BaseConfig           `yaml:"base" mapstructure:"base"`
	Logging  logger.Config        `yaml:"logging" mapstructure:"logging"`
	Balancer BalancerConfig       `yaml:"balancer" mapstructure:"balancer"`
	Health   health.CheckerConfig `yaml:"health" mapstructure:"health"`
	Dispatch DispatchConfig       `yaml:"dispatch" mapstructure:"dispatch"`
	Server   server.Config        `yaml:"server" mapstructure:"server"`
}

// ApplyDefaults applies default values to every section.
func (c *Config) ApplyDefaults() {
	c.Base.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Balancer.ApplyDefaults()
	c.Health.ApplyDefaults()
	c.Dispatch.ApplyDefaults()
	c.Server.ApplyDefaults()
}

// Validate validates every section. Call ApplyDefaults first.
func (c *Config) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Balancer.Validate(); err != nil {
		return err
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	return c.Server.Validate()
}

// BaseConfig contains the fields every deployment needs.
type BaseConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
}

// ApplyDefaults applies default values to base configuration.
func (c *BaseConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "orchestra"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
}

// Validate validates base configuration.
func (c *BaseConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("base.name is required")
	}
	validEnvs := []string{"development", "staging", "production"}
	for _, v := range validEnvs {
		if c.Environment == v {
			return nil
		}
	}
	return fmt.Errorf("base.environment must be one of [development, staging, production] (got: %s)", c.Environment)
}

// BalancerConfig selects the load balancing strategy.
type BalancerConfig struct {
	Strategy string `yaml:"strategy" mapstructure:"strategy"`
}

// ApplyDefaults applies the default round_robin strategy.
func (c *BalancerConfig) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = string(balancer.RoundRobin)
	}
}

// Validate checks the strategy against the supported set.
func (c *BalancerConfig) Validate() error {
	if !balancer.Strategy(c.Strategy).Valid() {
		return fmt.Errorf("balancer.strategy must be one of %v (got: %s)", balancer.Strategies(), c.Strategy)
	}
	return nil
}

// DispatchConfig configures message delivery: retry, circuit breaking, and
// the dead-letter buffer.
type DispatchConfig struct {
	// RetryAttempts is the total delivery attempts per message, including
	// the first. 1 means no retry.
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	// BreakerThreshold is the consecutive failure count that opens a
	// destination's circuit.
	BreakerThreshold int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout" mapstructure:"breaker_timeout"`
	DeadLetterLimit  int           `yaml:"dead_letter_limit" mapstructure:"dead_letter_limit"`
}

// ApplyDefaults applies default values: single attempt, breaker 5 failures
// with a 30s cool-down, 100 dead letters.
func (c *DispatchConfig) ApplyDefaults() {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.DeadLetterLimit <= 0 {
		c.DeadLetterLimit = 100
	}
}

// Validate checks dispatch configuration bounds.
func (c *DispatchConfig) Validate() error {
	if c.RetryAttempts < 1 {
		return fmt.Errorf("dispatch.retry_attempts must be at least 1 (got: %d)", c.RetryAttempts)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("dispatch.breaker_threshold must be at least 1 (got: %d)", c.BreakerThreshold)
	}
	if c.BreakerTimeout <= 0 {
		return fmt.Errorf("dispatch.breaker_timeout must be positive (got: %s)", c.BreakerTimeout)
	}
	return nil
}

// DispatcherConfig converts the section into the dispatcher's own config.
func (c DispatchConfig) DispatcherConfig() queue.DispatcherConfig {
	return queue.DispatcherConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:    c.RetryAttempts,
			InitialBackoff: c.RetryBackoff,
		},
		Breaker: resilience.CircuitBreakerConfig{
			Name:             "delivery",
			FailureThreshold: c.BreakerThreshold,
			Timeout:          c.BreakerTimeout,
		},
		DeadLetterLimit: c.DeadLetterLimit,
	}
}
