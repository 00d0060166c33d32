package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Base.Name != "orchestra" {
		t.Errorf("base.name = %q", cfg.Base.Name)
	}
	if cfg.Base.Environment != "development" || !cfg.Base.Debug {
		t.Error("development defaults not applied")
	}
	if cfg.Balancer.Strategy != "round_robin" {
		t.Errorf("balancer.strategy = %q, want round_robin", cfg.Balancer.Strategy)
	}
	if cfg.Health.Interval != 5*time.Second || cfg.Health.ProbeTimeout != time.Second {
		t.Errorf("health defaults = %v/%v", cfg.Health.Interval, cfg.Health.ProbeTimeout)
	}
	if cfg.Dispatch.RetryAttempts != 1 {
		t.Errorf("dispatch.retry_attempts = %d, want 1", cfg.Dispatch.RetryAttempts)
	}
	if cfg.Dispatch.BreakerThreshold != 5 || cfg.Dispatch.BreakerTimeout != 30*time.Second {
		t.Errorf("breaker defaults = %d/%v", cfg.Dispatch.BreakerThreshold, cfg.Dispatch.BreakerTimeout)
	}
	if cfg.Dispatch.DeadLetterLimit != 100 {
		t.Errorf("dispatch.dead_letter_limit = %d, want 100", cfg.Dispatch.DeadLetterLimit)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad environment", func(c *Config) { c.Base.Environment = "qa" }, "base.environment"},
		{"bad strategy", func(c *Config) { c.Balancer.Strategy = "random" }, "balancer.strategy"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"zero retry attempts", func(c *Config) { c.Dispatch.RetryAttempts = 0 }, "dispatch.retry_attempts"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.errMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tc.errMsg)
			}
		})
	}
}

func TestDispatchConfigConversion(t *testing.T) {
	d := DispatchConfig{
		RetryAttempts:    3,
		RetryBackoff:     50 * time.Millisecond,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
		DeadLetterLimit:  10,
	}
	dc := d.DispatcherConfig()

	if dc.Retry.MaxAttempts != 3 || dc.Retry.InitialBackoff != 50*time.Millisecond {
		t.Errorf("retry config = %+v", dc.Retry)
	}
	if dc.Breaker.FailureThreshold != 2 || dc.Breaker.Timeout != time.Minute {
		t.Errorf("breaker config = %+v", dc.Breaker)
	}
	if dc.DeadLetterLimit != 10 {
		t.Errorf("dead letter limit = %d", dc.DeadLetterLimit)
	}
}

func TestLoadWithYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	yamlContent := `
base:
  name: orchestra-test
  environment: staging
balancer:
  strategy: least_conn
health:
  interval: 10s
  probe_timeout: 2s
dispatch:
  breaker_threshold: 3
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	var cfg Config
	if err := Load(&cfg, WithConfigFile(path)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Base.Name != "orchestra-test" || cfg.Base.Environment != "staging" {
		t.Errorf("base = %+v", cfg.Base)
	}
	if cfg.Balancer.Strategy != "least_conn" {
		t.Errorf("strategy = %q", cfg.Balancer.Strategy)
	}
	if cfg.Health.Interval != 10*time.Second || cfg.Health.ProbeTimeout != 2*time.Second {
		t.Errorf("health = %+v", cfg.Health)
	}
	if cfg.Dispatch.BreakerThreshold != 3 {
		t.Errorf("breaker threshold = %d", cfg.Dispatch.BreakerThreshold)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	var cfg Config
	if err := Load(&cfg, WithConfigFile("/nonexistent/config.yml"), WithEnvFile("/nonexistent/.env")); err != nil {
		t.Fatalf("Load with missing files: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ORCHESTRA_BALANCER_STRATEGY", "ip_hash")
	t.Setenv("ORCHESTRA_HEALTH_PROBE_TIMEOUT", "3s")

	var cfg Config
	if err := Load(&cfg, WithFileSystem(&mockFS{})); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Balancer.Strategy != "ip_hash" {
		t.Errorf("strategy = %q, want env override ip_hash", cfg.Balancer.Strategy)
	}
	if cfg.Health.ProbeTimeout != 3*time.Second {
		t.Errorf("probe timeout = %v, want 3s", cfg.Health.ProbeTimeout)
	}
}

func TestNewValidatesAfterLoading(t *testing.T) {
	t.Setenv("ORCHESTRA_BALANCER_STRATEGY", "random")

	if _, err := New(WithFileSystem(&mockFS{})); err == nil {
		t.Fatal("expected validation error for unknown strategy")
	}
}

func TestKeyVariants(t *testing.T) {
	variants := keyVariants("HEALTH_PROBE_TIMEOUT")

	want := map[string]bool{
		"health.probe.timeout": false,
		"health.probe_timeout": false,
	}
	for _, v := range variants {
		if _, ok := want[v]; ok {
			want[v] = true
		}
	}
	for key, seen := range want {
		if !seen {
			t.Errorf("variant %q missing from %v", key, variants)
		}
	}
}

type mockFS struct {
	files map[string]bool
}

func (m *mockFS) Exists(path string) bool   { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error { return nil }
