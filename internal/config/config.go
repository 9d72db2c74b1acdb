// Package config provides configuration management for the corpus service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the corpus service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Query contains query processor settings.
	Query QueryConfig `mapstructure:"query"`
	// Providers contains per-provider API client settings.
	Providers ProvidersConfig `mapstructure:"providers"`
	// Pipeline contains retrieval pipeline settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Canonical contains canonicalization engine settings.
	Canonical CanonicalConfig `mapstructure:"canonical"`
	// Kafka contains run-event publishing settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the maximum duration to keep idle connections open.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPAddress returns the host:port address for the HTTP server.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (environment variable only).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace is the metric namespace prefix.
	Namespace string `mapstructure:"namespace"`
}

// QueryConfig holds query processor configuration.
type QueryConfig struct {
	// MaxTerms caps the number of query terms after tokenization.
	MaxTerms int `mapstructure:"max_terms"`
	// MaxSynonymsPerConcept caps ontology synonyms contributed per concept.
	MaxSynonymsPerConcept int `mapstructure:"max_synonyms_per_concept"`
	// MaxExpandedTerms caps the total number of ontology-expanded terms.
	MaxExpandedTerms int `mapstructure:"max_expanded_terms"`
	// ConfidenceThreshold is the confidence below which the LLM fallback
	// rewrite is attempted.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// FallbackTimeout bounds a single fallback rewrite call.
	FallbackTimeout time.Duration `mapstructure:"fallback_timeout"`
	// FallbackAPIKey is the fallback credential (environment variable only).
	FallbackAPIKey string `mapstructure:"-"`
	// FallbackBaseURL is the OpenAI-compatible endpoint for rewrites.
	FallbackBaseURL string `mapstructure:"fallback_base_url"`
	// FallbackModel is the model used for rewrites.
	FallbackModel string `mapstructure:"fallback_model"`
	// CacheSize is the LRU size of the prepared-query cache.
	CacheSize int `mapstructure:"cache_size"`
	// Breaker contains circuit breaker settings for the fallback path.
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds sliding-window circuit breaker settings.
type BreakerConfig struct {
	// Window is the sliding window over which failures are counted.
	Window time.Duration `mapstructure:"window"`
	// MinSamples is the minimum number of attempts in the window before the
	// failure ratio is evaluated.
	MinSamples int `mapstructure:"min_samples"`
	// FailureRatio is the ratio of failures that opens the breaker.
	FailureRatio float64 `mapstructure:"failure_ratio"`
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// ProviderConfig holds one provider's API client settings.
type ProviderConfig struct {
	// Enabled controls whether the provider participates in retrieval.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the provider credential (environment variable only).
	APIKey string `mapstructure:"-"`
	// Mailto is the contact address sent to providers that reward polite
	// clients with higher rate limits (OpenAlex).
	Mailto string `mapstructure:"mailto"`
	// RateLimit is the sustained requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the token bucket burst size.
	BurstSize int `mapstructure:"burst_size"`
	// PageSize is the maximum records fetched per search call.
	PageSize int `mapstructure:"page_size"`
	// Timeout bounds one HTTP call to the provider.
	Timeout time.Duration `mapstructure:"timeout"`
	// AcquireWait bounds the rate-limit token acquisition wait.
	AcquireWait time.Duration `mapstructure:"acquire_wait"`
	// MaxRetries is the retry budget for retryable responses.
	MaxRetries int `mapstructure:"max_retries"`
}

// ProvidersConfig holds all provider configurations.
type ProvidersConfig struct {
	SemanticScholar ProviderConfig `mapstructure:"semantic_scholar"`
	OpenAlex        ProviderConfig `mapstructure:"openalex"`
	PubMed          ProviderConfig `mapstructure:"pubmed"`
	Scopus          ProviderConfig `mapstructure:"scopus"`
}

// PipelineConfig holds retrieval pipeline configuration.
type PipelineConfig struct {
	// Budget is the pipeline-wide time budget for one retrieval run.
	Budget time.Duration `mapstructure:"budget"`
	// CallTimeout bounds each individual provider search call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// MaxResultsPerSource is the default page size requested per provider.
	MaxResultsPerSource int `mapstructure:"max_results_per_source"`
	// MinExpansionBudget is the minimum remaining budget required to start
	// citation-graph expansion.
	MinExpansionBudget time.Duration `mapstructure:"min_expansion_budget"`
	// MaxCandidates is the default candidate cap per run.
	MaxCandidates int `mapstructure:"max_candidates"`
	// MinAbstractLength is the minimum abstract length for usable records.
	MinAbstractLength int `mapstructure:"min_abstract_length"`
	// ExpansionSeeds is the number of seed records walked for references.
	ExpansionSeeds int `mapstructure:"expansion_seeds"`
	// ExpansionBatchSize is the reference fetch batch size.
	ExpansionBatchSize int `mapstructure:"expansion_batch_size"`
	// ExpansionCap is the maximum records appended by expansion.
	ExpansionCap int `mapstructure:"expansion_cap"`
}

// CanonicalConfig holds canonicalization engine configuration.
type CanonicalConfig struct {
	// IncrementalWindow is how far back incremental runs look for changes.
	IncrementalWindow time.Duration `mapstructure:"incremental_window"`
	// IncrementalSchedule is the cron spec for incremental runs.
	IncrementalSchedule string `mapstructure:"incremental_schedule"`
	// FullSchedule is the cron spec for full rebuilds.
	FullSchedule string `mapstructure:"full_schedule"`
	// PrecisionFloor is the minimum precision for run promotion.
	PrecisionFloor float64 `mapstructure:"precision_floor"`
	// RecallFloor is the minimum recall for run promotion.
	RecallFloor float64 `mapstructure:"recall_floor"`
}

// KafkaConfig holds run-event publishing configuration.
type KafkaConfig struct {
	// Enabled controls whether run events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the topic run events are published to.
	Topic string `mapstructure:"topic"`
	// WriteTimeout bounds one publish call.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load reads configuration from defaults, an optional config file, and
// environment variables (CORPUS_ prefix), then validates it.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CORPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/corpus-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is fine; env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("CORPUS_DATABASE_PASSWORD")
	cfg.Query.FallbackAPIKey = os.Getenv("CORPUS_QUERY_FALLBACK_API_KEY")

	cfg.Providers.SemanticScholar.APIKey = os.Getenv("CORPUS_PROVIDERS_SEMANTIC_SCHOLAR_API_KEY")
	cfg.Providers.OpenAlex.APIKey = os.Getenv("CORPUS_PROVIDERS_OPENALEX_API_KEY")
	cfg.Providers.PubMed.APIKey = os.Getenv("CORPUS_PROVIDERS_PUBMED_API_KEY")
	cfg.Providers.Scopus.APIKey = os.Getenv("CORPUS_PROVIDERS_SCOPUS_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "corpus")
	v.SetDefault("database.name", "corpus")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "1m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "corpus")

	// Query processor defaults
	v.SetDefault("query.max_terms", 12)
	v.SetDefault("query.max_synonyms_per_concept", 3)
	v.SetDefault("query.max_expanded_terms", 8)
	v.SetDefault("query.confidence_threshold", 0.55)
	v.SetDefault("query.fallback_timeout", "4s")
	v.SetDefault("query.fallback_base_url", "https://api.openai.com/v1")
	v.SetDefault("query.fallback_model", "gpt-4o-mini")
	v.SetDefault("query.cache_size", 512)
	v.SetDefault("query.breaker.window", "60s")
	v.SetDefault("query.breaker.min_samples", 4)
	v.SetDefault("query.breaker.failure_ratio", 0.5)
	v.SetDefault("query.breaker.cooldown", "30s")

	// Provider defaults
	for name, rps := range map[string]float64{
		"semantic_scholar": 1,
		"openalex":         10,
		"pubmed":           3,
		"scopus":           6,
	} {
		v.SetDefault("providers."+name+".enabled", true)
		v.SetDefault("providers."+name+".rate_limit", rps)
		v.SetDefault("providers."+name+".burst_size", int(rps))
		v.SetDefault("providers."+name+".page_size", 25)
		v.SetDefault("providers."+name+".timeout", "12s")
		v.SetDefault("providers."+name+".acquire_wait", "10s")
		v.SetDefault("providers."+name+".max_retries", 2)
	}

	// Pipeline defaults
	v.SetDefault("pipeline.budget", "25s")
	v.SetDefault("pipeline.call_timeout", "12s")
	v.SetDefault("pipeline.max_results_per_source", 25)
	v.SetDefault("pipeline.min_expansion_budget", "3s")
	v.SetDefault("pipeline.max_candidates", 100)
	v.SetDefault("pipeline.min_abstract_length", 200)
	v.SetDefault("pipeline.expansion_seeds", 3)
	v.SetDefault("pipeline.expansion_batch_size", 10)
	v.SetDefault("pipeline.expansion_cap", 25)

	// Canonicalization defaults
	v.SetDefault("canonical.incremental_window", "24h")
	v.SetDefault("canonical.incremental_schedule", "*/15 * * * *")
	v.SetDefault("canonical.full_schedule", "0 3 * * *")
	v.SetDefault("canonical.precision_floor", 0.95)
	v.SetDefault("canonical.recall_floor", 0.90)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "corpus.canonicalization.runs")
	v.SetDefault("kafka.write_timeout", "5s")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be in (0, 65535], got %d", c.Server.HTTPPort)
	}

	switch c.Database.SSLMode {
	case SSLModeDisable, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
	default:
		return fmt.Errorf("database.ssl_mode %q is not a valid SSL mode", c.Database.SSLMode)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database.max_conns (%d) must be >= database.min_conns (%d)",
			c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Query.ConfidenceThreshold < 0 || c.Query.ConfidenceThreshold > 1 {
		return fmt.Errorf("query.confidence_threshold must be in [0, 1], got %g", c.Query.ConfidenceThreshold)
	}
	if c.Query.MaxTerms <= 0 {
		return fmt.Errorf("query.max_terms must be positive, got %d", c.Query.MaxTerms)
	}
	if c.Query.CacheSize <= 0 {
		return fmt.Errorf("query.cache_size must be positive, got %d", c.Query.CacheSize)
	}
	if c.Query.Breaker.FailureRatio <= 0 || c.Query.Breaker.FailureRatio > 1 {
		return fmt.Errorf("query.breaker.failure_ratio must be in (0, 1], got %g", c.Query.Breaker.FailureRatio)
	}

	if c.Pipeline.Budget <= 0 {
		return fmt.Errorf("pipeline.budget must be positive, got %s", c.Pipeline.Budget)
	}
	if c.Pipeline.MinAbstractLength < 0 {
		return fmt.Errorf("pipeline.min_abstract_length must be >= 0, got %d", c.Pipeline.MinAbstractLength)
	}

	if c.Canonical.PrecisionFloor < 0 || c.Canonical.PrecisionFloor > 1 {
		return fmt.Errorf("canonical.precision_floor must be in [0, 1], got %g", c.Canonical.PrecisionFloor)
	}
	if c.Canonical.RecallFloor < 0 || c.Canonical.RecallFloor > 1 {
		return fmt.Errorf("canonical.recall_floor must be in [0, 1], got %g", c.Canonical.RecallFloor)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty when kafka is enabled")
	}

	return nil
}
