package config

import (
	"testing"

	"github.com/spf13/viper"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal defaults: %v", err)
	}
	return &cfg
}

// TestDefaults: the stock configuration is complete and passes validation.
func TestDefaults(t *testing.T) {
	cfg := defaultConfig(t)

	if err := validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port: want 8080, got %d", cfg.Port)
	}
	if cfg.Detector.SigmaThreshold != 3.0 {
		t.Errorf("sigma threshold: want 3.0, got %.1f", cfg.Detector.SigmaThreshold)
	}
	if len(cfg.Metrics.Endpoints) == 0 {
		t.Error("default metrics endpoint missing")
	}
	if cfg.Queue.SoftLimitSeconds >= cfg.Queue.HardLimitSeconds {
		t.Errorf("queue limits inverted: soft %d hard %d",
			cfg.Queue.SoftLimitSeconds, cfg.Queue.HardLimitSeconds)
	}
	if !cfg.DryRunMode {
		t.Error("dry run must default to on")
	}
	if cfg.Dedup.WindowOverrides["critical"] != 15 {
		t.Errorf("critical dedup window: got %d", cfg.Dedup.WindowOverrides["critical"])
	}
}

// TestValidate rejects each broken field.
func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port overflow", func(c *Config) { c.Port = 70000 }},
		{"no metrics endpoints", func(c *Config) { c.Metrics.Endpoints = nil }},
		{"non-positive sigma", func(c *Config) { c.Detector.SigmaThreshold = 0 }},
		{"non-positive monitor concurrency", func(c *Config) { c.Monitor.Concurrency = 0 }},
		{"soft limit at hard limit", func(c *Config) { c.Queue.SoftLimitSeconds = c.Queue.HardLimitSeconds }},
		{"zero-request rate limit", func(c *Config) {
			c.RateLimits = map[string]RateLimit{"api": {MaxRequests: 0, WindowSeconds: 60}}
		}},
		{"zero-window rate limit", func(c *Config) {
			c.RateLimits = map[string]RateLimit{"api": {MaxRequests: 10, WindowSeconds: 0}}
		}},
	}
	for _, c := range cases {
		cfg := defaultConfig(t)
		c.mutate(cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: want validation error, got none", c.name)
		}
	}
}
