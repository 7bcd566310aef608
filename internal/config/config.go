// Package config loads the sync engine's startup configuration: server
// binding, worker pool sizing, per-dependency breaker/retry policy, health
// monitoring, and the declarative catalog file paths.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration tree.
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Database DatabaseConfig           `mapstructure:"database"`
	Sqlite   SqliteConfig             `mapstructure:"sqlite"`
	Redis    RedisConfig              `mapstructure:"redis"`
	Log      LogConfig                `mapstructure:"log"`
	App      AppConfig                `mapstructure:"app"`
	Metrics  MetricsConfig            `mapstructure:"metrics"`
	Sync     SyncConfig               `mapstructure:"sync"`
	Breakers   map[string]BreakerConfig   `mapstructure:"breakers"`
	Retries    map[string]RetryConfig     `mapstructure:"retries"`
	Health     map[string]HealthConfig    `mapstructure:"health"`
	RateLimits map[string]RateLimitConfig `mapstructure:"rate_limits"`
}

// RateLimitConfig configures one named token-bucket rate limiter guarding
// outbound adapter calls ahead of their circuit breaker.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ServerConfig holds HTTP control-plane binding configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds the CAMA (target) Postgres connection settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// SqliteConfig holds the PACS (source) SQLite file connection settings.
type SqliteConfig struct {
	Path         string        `mapstructure:"path"`
	ReadOnly     bool          `mapstructure:"read_only"`
	BusyTimeout  time.Duration `mapstructure:"busy_timeout"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

// RedisConfig holds the distributed-lock backend settings.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig holds structured-logging output configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig holds process-identity and environment configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
	Timezone    string `mapstructure:"timezone"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// SyncConfig holds the pipeline's own tunables.
type SyncConfig struct {
	WorkerPoolSize         int           `mapstructure:"worker_pool_size"`
	BatchSize              int           `mapstructure:"batch_size"`
	StaleJobTimeoutMinutes int           `mapstructure:"stale_job_timeout_minutes"`
	StaleSweepInterval     time.Duration `mapstructure:"stale_sweep_interval"`
	HealthLoopInterval     time.Duration `mapstructure:"health_loop_interval"`
	FieldMappingPath       string        `mapstructure:"field_mapping_path"`
	ResolutionRulesPath    string        `mapstructure:"resolution_rules_path"`
}

// StaleJobTimeout returns the configured stale-job threshold as a Duration.
func (s SyncConfig) StaleJobTimeout() time.Duration {
	return time.Duration(s.StaleJobTimeoutMinutes) * time.Minute
}

// BreakerConfig configures one named circuit breaker.
type BreakerConfig struct {
	FailureThreshold         int      `mapstructure:"failure_threshold"`
	ResetTimeoutSeconds      int      `mapstructure:"reset_timeout_seconds"`
	HalfOpenSuccessThreshold int      `mapstructure:"half_open_success_threshold"`
	MonitoredExceptions      []string `mapstructure:"monitored_exceptions"`
}

// RetryConfig configures one named retry strategy.
type RetryConfig struct {
	Strategy       string        `mapstructure:"strategy"`
	InitialWait    time.Duration `mapstructure:"initial_wait"`
	Base           float64       `mapstructure:"base"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	MaxRetries     int           `mapstructure:"max_retries"`
	MaxRetryTime   time.Duration `mapstructure:"max_retry_time"`
	JitterFactor   float64       `mapstructure:"jitter_factor"`
}

// HealthConfig configures one monitored resource's health loop behavior.
type HealthConfig struct {
	IntervalSeconds   int      `mapstructure:"interval_seconds"`
	FailureThreshold  int      `mapstructure:"failure_threshold"`
	RecoveryThreshold int      `mapstructure:"recovery_threshold"`
	DependsOn         []string `mapstructure:"depends_on"`
	CooldownSeconds   int      `mapstructure:"cooldown_seconds"`
}

// LoadConfig loads configuration from configPath (if non-empty) overlaid
// with environment variables, applying defaults first.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "cama")
	viper.SetDefault("database.username", "dev")
	viper.SetDefault("database.password", "dev")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")

	viper.SetDefault("sqlite.path", "data/pacs.db")
	viper.SetDefault("sqlite.read_only", true)
	viper.SetDefault("sqlite.busy_timeout", "5s")
	viper.SetDefault("sqlite.query_timeout", "15s")
	viper.SetDefault("sqlite.max_open_conns", 1)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("app.name", "syncengine")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.timezone", "UTC")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 8080)

	viper.SetDefault("sync.worker_pool_size", 4)
	viper.SetDefault("sync.batch_size", 500)
	viper.SetDefault("sync.stale_job_timeout_minutes", 30)
	viper.SetDefault("sync.stale_sweep_interval", "1m")
	viper.SetDefault("sync.health_loop_interval", "15s")
	viper.SetDefault("sync.field_mapping_path", "configs/field_mappings.yaml")
	viper.SetDefault("sync.resolution_rules_path", "configs/resolution_rules.yaml")

	viper.SetDefault("breakers.target.failure_threshold", 5)
	viper.SetDefault("breakers.target.reset_timeout_seconds", 30)
	viper.SetDefault("breakers.target.half_open_success_threshold", 1)
	viper.SetDefault("breakers.source.failure_threshold", 5)
	viper.SetDefault("breakers.source.reset_timeout_seconds", 30)
	viper.SetDefault("breakers.source.half_open_success_threshold", 1)

	viper.SetDefault("retries.target.strategy", "exponential_jitter")
	viper.SetDefault("retries.target.initial_wait", "1s")
	viper.SetDefault("retries.target.base", 2.0)
	viper.SetDefault("retries.target.max_wait", "60s")
	viper.SetDefault("retries.target.max_retries", 3)
	viper.SetDefault("retries.target.max_retry_time", "30s")
	viper.SetDefault("retries.target.jitter_factor", 0.2)
	viper.SetDefault("retries.source.strategy", "exponential_jitter")
	viper.SetDefault("retries.source.initial_wait", "1s")
	viper.SetDefault("retries.source.base", 2.0)
	viper.SetDefault("retries.source.max_wait", "60s")
	viper.SetDefault("retries.source.max_retries", 3)
	viper.SetDefault("retries.source.max_retry_time", "30s")
	viper.SetDefault("retries.source.jitter_factor", 0.2)

	viper.SetDefault("health.target.interval_seconds", 15)
	viper.SetDefault("health.target.failure_threshold", 3)
	viper.SetDefault("health.target.recovery_threshold", 2)
	viper.SetDefault("health.target.cooldown_seconds", 30)
	viper.SetDefault("health.source.interval_seconds", 15)
	viper.SetDefault("health.source.failure_threshold", 3)
	viper.SetDefault("health.source.recovery_threshold", 2)
	viper.SetDefault("health.source.cooldown_seconds", 30)

	viper.SetDefault("rate_limits.target.requests_per_second", 50.0)
	viper.SetDefault("rate_limits.target.burst", 10)
	viper.SetDefault("rate_limits.source.requests_per_second", 50.0)
	viper.SetDefault("rate_limits.source.burst", 10)
}

// Validate checks structural invariants of a loaded Config.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Sync.WorkerPoolSize <= 0 {
		return fmt.Errorf("sync.worker_pool_size must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.StaleJobTimeoutMinutes <= 0 {
		return fmt.Errorf("sync.stale_job_timeout_minutes must be positive")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if c.Sqlite.Path == "" {
		return fmt.Errorf("sqlite.path cannot be empty")
	}
	if c.Sqlite.MaxOpenConns <= 0 {
		return fmt.Errorf("sqlite.max_open_conns must be positive")
	}
	return nil
}

// GetDatabaseURL constructs the CAMA Postgres DSN from configuration.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsDevelopment reports whether the app environment is "development".
func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }

// IsProduction reports whether the app environment is "production".
func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// IsDebug reports whether debug logging/behavior should be enabled.
func (c *Config) IsDebug() bool { return c.App.Debug || c.IsDevelopment() }
