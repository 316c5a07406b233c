package config

type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Metrics      MetricsBackendConfig `mapstructure:"metrics" yaml:"metrics"`
	Cache        CacheConfig          `mapstructure:"cache" yaml:"cache"`
	Datastore    DatastoreConfig      `mapstructure:"datastore" yaml:"datastore"`
	LLM          LLMConfig            `mapstructure:"llm" yaml:"llm"`
	Detector     DetectorConfig       `mapstructure:"detector" yaml:"detector"`
	Monitor      MonitorConfig        `mapstructure:"monitor" yaml:"monitor"`
	Correlation  CorrelationConfig    `mapstructure:"correlation" yaml:"correlation"`
	Dedup        DedupConfig          `mapstructure:"dedup" yaml:"dedup"`
	Selector     SelectorConfig       `mapstructure:"selector" yaml:"selector"`
	Verification VerificationConfig   `mapstructure:"verification" yaml:"verification"`
	Blast        BlastConfig          `mapstructure:"blast" yaml:"blast"`
	RateLimits   map[string]RateLimit `mapstructure:"rate_limits" yaml:"rate_limits"`
	Queue        QueueConfig          `mapstructure:"queue" yaml:"queue"`
	Orchestrator OrchestratorConfig   `mapstructure:"orchestrator" yaml:"orchestrator"`

	// Declarative files.
	ServiceDependenciesFile string `mapstructure:"service_dependencies" yaml:"service_dependencies"`
	RunbooksFile            string `mapstructure:"runbooks" yaml:"runbooks"`

	// DryRunMode forces every executor into simulation.
	DryRunMode bool `mapstructure:"dry_run_mode" yaml:"dry_run_mode"`
}

// MetricsBackendConfig points at a Prometheus-compatible query API.
type MetricsBackendConfig struct {
	Endpoints []string `mapstructure:"endpoints" yaml:"endpoints"`
	Timeout   int      `mapstructure:"timeout" yaml:"timeout"` // milliseconds
	Username  string   `mapstructure:"username" yaml:"username"`
	Password  string   `mapstructure:"password" yaml:"password"`
}

// CacheConfig handles the shared Valkey/Redis cache.
type CacheConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	TTL      int    `mapstructure:"ttl" yaml:"ttl"` // seconds
}

// DatastoreConfig holds the relational datastore connection.
type DatastoreConfig struct {
	Host     string            `mapstructure:"host" yaml:"host"`
	Port     int               `mapstructure:"port" yaml:"port"`
	User     string            `mapstructure:"user" yaml:"user"`
	Password string            `mapstructure:"password" yaml:"password"`
	Database string            `mapstructure:"database" yaml:"database"`
	TLS      bool              `mapstructure:"tls" yaml:"tls"`
	Params   map[string]string `mapstructure:"params" yaml:"params"`
}

// LLMConfig configures the reasoning model provider.
type LLMConfig struct {
	Provider        string  `mapstructure:"provider" yaml:"provider"` // "openai"
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL         string  `mapstructure:"base_url" yaml:"base_url"`
	Model           string  `mapstructure:"model" yaml:"model"`
	Temperature     float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	CacheTTLSeconds int     `mapstructure:"llm_cache_ttl_seconds" yaml:"llm_cache_ttl_seconds"`
}

type DetectorConfig struct {
	SigmaThreshold float64 `mapstructure:"sigma_threshold" yaml:"sigma_threshold"`
}

// MonitorConfig drives the periodic anomaly monitor loop.
type MonitorConfig struct {
	PollSeconds        int      `mapstructure:"monitor_poll_seconds" yaml:"monitor_poll_seconds"`
	MinConfidence      float64  `mapstructure:"monitor_min_confidence" yaml:"monitor_min_confidence"`
	DedupWindowSeconds int      `mapstructure:"monitor_dedup_window" yaml:"monitor_dedup_window"`
	Concurrency        int      `mapstructure:"monitor_concurrency" yaml:"monitor_concurrency"`
	Services           []string `mapstructure:"services" yaml:"services"`
}

type CorrelationConfig struct {
	WindowSeconds int `mapstructure:"correlation_window_seconds" yaml:"correlation_window_seconds"`
	MinSignals    int `mapstructure:"correlation_min_signals" yaml:"correlation_min_signals"`
}

// DedupConfig carries per-severity lookback minutes for incident dedup.
type DedupConfig struct {
	WindowOverrides map[string]int `mapstructure:"dedup_window_overrides" yaml:"dedup_window_overrides"`
}

type SelectorConfig struct {
	ConfidenceApprovalThreshold float64 `mapstructure:"confidence_approval_threshold" yaml:"confidence_approval_threshold"`
}

type VerificationConfig struct {
	StabilizationSeconds int     `mapstructure:"verification_stabilization_seconds" yaml:"verification_stabilization_seconds"`
	ImprovementThreshold float64 `mapstructure:"verification_improvement_threshold" yaml:"verification_improvement_threshold"`
}

// BlastConfig scales request volume into user and revenue estimates.
type BlastConfig struct {
	UsersPerRPS        float64 `mapstructure:"users_per_rps" yaml:"users_per_rps"`
	RevenuePerUserHour float64 `mapstructure:"revenue_per_user_hour" yaml:"revenue_per_user_hour"`
}

type RateLimit struct {
	MaxRequests   int `mapstructure:"max_requests" yaml:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds" yaml:"window_seconds"`
}

// QueueConfig configures the named-task worker queue.
type QueueConfig struct {
	Name             string `mapstructure:"name" yaml:"name"`
	Concurrency      int    `mapstructure:"concurrency" yaml:"concurrency"`
	SoftLimitSeconds int    `mapstructure:"soft_limit_seconds" yaml:"soft_limit_seconds"`
	HardLimitSeconds int    `mapstructure:"hard_limit_seconds" yaml:"hard_limit_seconds"`
}

// OrchestratorConfig points at the container orchestrator. An empty
// kubeconfig with in_cluster=false leaves executors in simulation mode.
type OrchestratorConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig" yaml:"kubeconfig"`
	InCluster  bool   `mapstructure:"in_cluster" yaml:"in_cluster"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace"`
}
