package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the giftsearch API configuration.
type Config struct {
	HTTP       HTTPConfig                `yaml:"http"`
	Auth       AuthConfig                `yaml:"auth"`
	Logging    LoggingConfig             `yaml:"logging"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Database   DatabaseConfig            `yaml:"database"`
	Redis      RedisConfig               `yaml:"redis"`
	Embedding  EmbeddingConfig           `yaml:"embedding"`
	Generation GenerationConfig          `yaml:"generation"`
	Cache      CacheConfig               `yaml:"cache"`
	Search     SearchConfig              `yaml:"search"`
	Monitoring MonitoringConfig          `yaml:"monitoring"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// ProviderConfig holds an OpenAI-compatible provider endpoint.
type ProviderConfig struct {
	APIKey       string       `yaml:"api_key"`
	BaseURL      string       `yaml:"base_url"`
	HTTPRetryMax int          `yaml:"http_retry_max"`
	Budget       BudgetConfig `yaml:"budget"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// DatabaseConfig holds Postgres pool settings. An empty DSN starts the
// service with vector operations disabled.
type DatabaseConfig struct {
	DSN                 string `yaml:"dsn"`
	MaxConns            int32  `yaml:"max_conns"`
	MinConns            int32  `yaml:"min_conns"`
	IdleTimeoutSec      int    `yaml:"idle_timeout_sec"`
	StatementTimeoutSec int    `yaml:"statement_timeout_sec"`
	AcquireTimeoutSec   int    `yaml:"acquire_timeout_sec"`
	MaxRetries          int    `yaml:"max_retries"`
	RetryBaseDelayMs    int    `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs     int    `yaml:"retry_max_delay_ms"`
	Migrate             *bool  `yaml:"migrate"`
}

// ShouldMigrate reports whether migrations run at startup (default true).
func (d DatabaseConfig) ShouldMigrate() bool { return d.Migrate == nil || *d.Migrate }

// RedisConfig holds the embedding cache and budget counter store.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding generation settings.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	BatchSize         int     `yaml:"batch_size"`
	CacheTTLSec       int     `yaml:"cache_ttl_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unpaced
	PricePer1KTokens  float64 `yaml:"price_per_1k_tokens"` // 0 = built-in table
}

// GenerationConfig holds recommendation generation settings.
type GenerationConfig struct {
	Provider           string  `yaml:"provider"`
	PrimaryModel       string  `yaml:"primary_model"`
	FallbackModel      string  `yaml:"fallback_model"`
	Temperature        float32 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	TimeoutSec         int     `yaml:"timeout_sec"`
	MaxRetries         int     `yaml:"max_retries"`
	RetryBaseDelayMs   int     `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs    int     `yaml:"retry_max_delay_ms"`
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute"`
	DiversityCap       int     `yaml:"diversity_cap"`
	MaxResults         int     `yaml:"max_results"`
	BreakerFailures    uint32  `yaml:"breaker_failures"`
	BreakerOpenSec     int     `yaml:"breaker_open_sec"`
}

// CacheConfig holds query result cache settings.
type CacheConfig struct {
	Tier1TTLSec      int   `yaml:"tier1_ttl_sec"`
	Tier1MaxEntries  int   `yaml:"tier1_max_entries"`
	Tier2TTLSec      int   `yaml:"tier2_ttl_sec"`
	SweepIntervalSec int   `yaml:"sweep_interval_sec"`
	SingleFlight     *bool `yaml:"single_flight"`
}

// SingleFlightEnabled reports whether concurrent misses are coalesced (default true).
func (c CacheConfig) SingleFlightEnabled() bool { return c.SingleFlight == nil || *c.SingleFlight }

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultMatchCount     int     `yaml:"default_match_count"`
	DefaultMatchThreshold float64 `yaml:"default_match_threshold"`
	RRFK                  int     `yaml:"rrf_k"`
}

// MonitoringConfig holds snapshot refresh and alert thresholds.
type MonitoringConfig struct {
	RefreshIntervalSec   int     `yaml:"refresh_interval_sec"`
	MinCacheHitRate      float64 `yaml:"min_cache_hit_rate"`
	MinCacheLookups      int64   `yaml:"min_cache_lookups"`
	MaxPoolUtilization   float64 `yaml:"max_pool_utilization"`
	MinEmbeddingCoverage float64 `yaml:"min_embedding_coverage"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	setInt(&c.HTTP.ReadTimeoutSec, 10)
	setInt(&c.HTTP.WriteTimeoutSec, 30)
	setInt(&c.HTTP.ShutdownSec, 10)

	for name, p := range c.Providers {
		if p.HTTPRetryMax <= 0 {
			p.HTTPRetryMax = 2
		}
		c.Providers[name] = p
	}

	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns <= 0 {
		c.Database.MinConns = min(2, c.Database.MaxConns)
	}
	setInt(&c.Database.IdleTimeoutSec, 30)
	setInt(&c.Database.StatementTimeoutSec, 30)
	setInt(&c.Database.AcquireTimeoutSec, 5)
	setInt(&c.Database.MaxRetries, 3)
	setInt(&c.Database.RetryBaseDelayMs, 100)
	setInt(&c.Database.RetryMaxDelayMs, 2000)

	setInt(&c.Redis.ReadinessTimeout, 10)

	setString(&c.Embedding.Provider, "openai")
	setString(&c.Embedding.Model, "text-embedding-3-small")
	setInt(&c.Embedding.Dimensions, 1536)
	setInt(&c.Embedding.BatchSize, 50)
	setInt(&c.Embedding.CacheTTLSec, 7*24*3600)

	setString(&c.Generation.Provider, "openai")
	setString(&c.Generation.PrimaryModel, "gpt-4o-mini")
	if c.Generation.Temperature <= 0 {
		c.Generation.Temperature = 0.7
	}
	setInt(&c.Generation.MaxTokens, 2000)
	setInt(&c.Generation.TimeoutSec, 30)
	setInt(&c.Generation.MaxRetries, 3)
	setInt(&c.Generation.RetryBaseDelayMs, 1000)
	setInt(&c.Generation.RetryMaxDelayMs, 10000)
	setInt(&c.Generation.RateLimitPerMinute, 60)
	setInt(&c.Generation.DiversityCap, 3)
	setInt(&c.Generation.MaxResults, 10)
	if c.Generation.BreakerFailures == 0 {
		c.Generation.BreakerFailures = 5
	}
	setInt(&c.Generation.BreakerOpenSec, 30)

	setInt(&c.Cache.Tier1TTLSec, 300)
	setInt(&c.Cache.Tier1MaxEntries, 1000)
	setInt(&c.Cache.Tier2TTLSec, 3600)
	setInt(&c.Cache.SweepIntervalSec, 300)

	setInt(&c.Search.DefaultMatchCount, 10)
	if c.Search.DefaultMatchThreshold <= 0 {
		c.Search.DefaultMatchThreshold = 0.5
	}
	setInt(&c.Search.RRFK, 60)

	setInt(&c.Monitoring.RefreshIntervalSec, 30)
	if c.Monitoring.MinCacheHitRate <= 0 {
		c.Monitoring.MinCacheHitRate = 0.3
	}
	if c.Monitoring.MinCacheLookups <= 0 {
		c.Monitoring.MinCacheLookups = 100
	}
	if c.Monitoring.MaxPoolUtilization <= 0 {
		c.Monitoring.MaxPoolUtilization = 0.9
	}
	if c.Monitoring.MinEmbeddingCoverage <= 0 {
		c.Monitoring.MinEmbeddingCoverage = 0.95
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if _, ok := c.Providers[c.Embedding.Provider]; !ok {
		return fmt.Errorf("embedding.provider %q is not defined in providers", c.Embedding.Provider)
	}
	if _, ok := c.Providers[c.Generation.Provider]; !ok {
		return fmt.Errorf("generation.provider %q is not defined in providers", c.Generation.Provider)
	}
	for name, p := range c.Providers {
		switch p.Budget.Action {
		case "", "warn", "reject":
			// ok
		default:
			return fmt.Errorf(
				"providers.%s.budget.action must be \"warn\" or \"reject\", got %q",
				name, p.Budget.Action,
			)
		}
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) must not exceed database.max_conns (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 2048 {
		return fmt.Errorf("embedding.batch_size must be between 1 and 2048, got %d", c.Embedding.BatchSize)
	}
	if c.Generation.RateLimitPerMinute <= 0 {
		return fmt.Errorf("generation.rate_limit_per_minute must be positive, got %d", c.Generation.RateLimitPerMinute)
	}
	if c.Generation.PrimaryModel == "" {
		return fmt.Errorf("generation.primary_model is required")
	}
	if c.Search.DefaultMatchThreshold > 1 {
		return fmt.Errorf("search.default_match_threshold must be within [0,1], got %v", c.Search.DefaultMatchThreshold)
	}
	return nil
}

// Seconds converts a config value in seconds to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis converts a config value in milliseconds to a duration.
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
