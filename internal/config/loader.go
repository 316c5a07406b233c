package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration with priority order: environment variables, then
// config.yaml, then defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/remedy/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("REMEDY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file - continue with env vars and defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	v.SetDefault("metrics.endpoints", []string{"http://localhost:9090"})
	v.SetDefault("metrics.timeout", 30000)

	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl", 300)
	v.SetDefault("cache.db", 0)

	v.SetDefault("datastore.host", "127.0.0.1")
	v.SetDefault("datastore.port", 3306)
	v.SetDefault("datastore.user", "root")
	v.SetDefault("datastore.database", "remedy")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.llm_cache_ttl_seconds", 86400)

	v.SetDefault("detector.sigma_threshold", 3.0)

	v.SetDefault("monitor.monitor_poll_seconds", 60)
	v.SetDefault("monitor.monitor_min_confidence", 0.75)
	v.SetDefault("monitor.monitor_dedup_window", 600)
	v.SetDefault("monitor.monitor_concurrency", 5)

	v.SetDefault("correlation.correlation_window_seconds", 300)
	v.SetDefault("correlation.correlation_min_signals", 2)

	v.SetDefault("dedup.dedup_window_overrides", map[string]int{
		"critical": 15,
		"high":     30,
		"medium":   60,
		"low":      120,
	})

	v.SetDefault("selector.confidence_approval_threshold", 0.70)

	v.SetDefault("verification.verification_stabilization_seconds", 120)
	v.SetDefault("verification.verification_improvement_threshold", 20.0)

	v.SetDefault("blast.users_per_rps", 10.0)
	v.SetDefault("blast.revenue_per_user_hour", 0.05)

	v.SetDefault("queue.name", "remedy:tasks")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.soft_limit_seconds", 240)
	v.SetDefault("queue.hard_limit_seconds", 300)

	v.SetDefault("orchestrator.namespace", "default")

	v.SetDefault("service_dependencies", "./configs/topology.yaml")
	v.SetDefault("runbooks", "./configs/runbooks.yaml")
	v.SetDefault("dry_run_mode", true)
}

func validate(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if len(cfg.Metrics.Endpoints) == 0 {
		return fmt.Errorf("at least one metrics endpoint is required")
	}
	if cfg.Detector.SigmaThreshold <= 0 {
		return fmt.Errorf("sigma_threshold must be positive, got %f", cfg.Detector.SigmaThreshold)
	}
	if cfg.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor_concurrency must be positive, got %d", cfg.Monitor.Concurrency)
	}
	if cfg.Queue.SoftLimitSeconds >= cfg.Queue.HardLimitSeconds {
		return fmt.Errorf("queue soft limit (%ds) must be below the hard limit (%ds)",
			cfg.Queue.SoftLimitSeconds, cfg.Queue.HardLimitSeconds)
	}
	for name, rl := range cfg.RateLimits {
		if rl.MaxRequests <= 0 || rl.WindowSeconds <= 0 {
			return fmt.Errorf("rate limit %q must have positive max_requests and window_seconds", name)
		}
	}
	return nil
}
