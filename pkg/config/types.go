package config

import "time"

// ServerConfig holds HTTP listener settings for the external API.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultServerConfig returns the built-in HTTP listener defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// DatabaseConfig holds PostgreSQL connection and pooling settings, mirroring
// pkg/database.Config with YAML tags and a PasswordEnv indirection so
// credentials never live in the config file itself.
type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port" validate:"min=1,max=65535"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultDatabaseConfig returns the built-in database defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "complianceengine",
		PasswordEnv:     "DATABASE_PASSWORD",
		Database:        "complianceengine",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// WorkerConfig tunes the Job Supervisor's worker pool and per-stage
// timeouts.
type WorkerConfig struct {
	WorkerCount        int           `yaml:"worker_count" validate:"min=1,max=64"`
	MaxConcurrentJobs  int           `yaml:"max_concurrent_jobs" validate:"min=1"`
	PollInterval       time.Duration `yaml:"poll_interval" validate:"gt=0"`
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter" validate:"gte=0"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`
	SoftTimeLimit      time.Duration `yaml:"soft_time_limit" validate:"gt=0"`
	HardTimeLimit      time.Duration `yaml:"hard_time_limit" validate:"gt=0"`
	OrphanStaleAfter   time.Duration `yaml:"orphan_stale_after" validate:"gt=0"`
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval" validate:"gt=0"`
	MaxRetries         int           `yaml:"max_retries" validate:"gte=0"`
	RetryBackoff       time.Duration `yaml:"retry_backoff" validate:"gt=0"`
}

// DefaultWorkerConfig returns's documented worker defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		WorkerCount:        4,
		MaxConcurrentJobs:  16,
		PollInterval:       2 * time.Second,
		PollIntervalJitter: 500 * time.Millisecond,
		HeartbeatInterval:  15 * time.Second,
		SoftTimeLimit:      540 * time.Second,
		HardTimeLimit:      600 * time.Second,
		OrphanStaleAfter:   2 * time.Minute,
		OrphanScanInterval: 30 * time.Second,
		MaxRetries:         3,
		RetryBackoff:       60 * time.Second,
	}
}

// PipelineConfig tunes the stage pipeline's thresholds.
type PipelineConfig struct {
	ComplianceRegenerationThreshold float64 `yaml:"compliance_regeneration_threshold" validate:"gte=0,lte=100"`
	Stage1UncertaintyLow            float64 `yaml:"stage1_uncertainty_low" validate:"gte=0,lte=1"`
	Stage1UncertaintyHigh           float64 `yaml:"stage1_uncertainty_high" validate:"gte=0,lte=1"`
}

// DefaultPipelineConfig returns the documented pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		ComplianceRegenerationThreshold: 95,
		Stage1UncertaintyLow:            0.30,
		Stage1UncertaintyHigh:           0.70,
	}
}

// RetentionConfig controls the TTLs applied to the two reliability caches
//.
type RetentionConfig struct {
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" validate:"gt=0"`
	DegradationTTL time.Duration `yaml:"degradation_ttl" validate:"gt=0"`
}

// DefaultRetentionConfig returns the documented retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		IdempotencyTTL: 24 * time.Hour,
		DegradationTTL: 7 * 24 * time.Hour,
	}
}

// ProviderKind distinguishes the transport used to reach an LLM backend.
type ProviderKind string

const (
	ProviderKindHTTP ProviderKind = "http"
	ProviderKindGRPC ProviderKind = "grpc"
)

// ProviderConfig describes one registered LLM backend.
type ProviderConfig struct {
	ID         string       `yaml:"id" validate:"required"`
	Kind       ProviderKind `yaml:"kind" validate:"required,oneof=http grpc"`
	Endpoint   string       `yaml:"endpoint" validate:"required"`
	APIKeyEnv  string       `yaml:"api_key_env"`
	Model      string       `yaml:"model"`
	DailyRequests  int64    `yaml:"daily_requests" validate:"gte=0"`
	DailyTokens    int64    `yaml:"daily_tokens" validate:"gte=0"`
	HourlyRequests int64    `yaml:"hourly_requests" validate:"gte=0"`
	HourlyTokens   int64    `yaml:"hourly_tokens" validate:"gte=0"`
}

// ProviderPoolConfig is the ordered provider list plus failover tuning
//.
type ProviderPoolConfig struct {
	Providers         []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	Primary           string           `yaml:"primary"`
	BlacklistDuration time.Duration    `yaml:"blacklist_duration" validate:"gt=0"`
	CallDeadline      time.Duration    `yaml:"call_deadline" validate:"gt=0"`
}

// DefaultProviderPoolConfig returns defaults for every field except the
// provider list itself, which has no sane built-in value.
func DefaultProviderPoolConfig() *ProviderPoolConfig {
	return &ProviderPoolConfig{
		BlacklistDuration: 5 * time.Minute,
		CallDeadline:      120 * time.Second,
	}
}

// RateLimitConfig bounds the force-new-analysis endpoint (e.g. 3/hour/origin).
type RateLimitConfig struct {
	ForceNewPerHour int `yaml:"force_new_per_hour" validate:"gte=1"`
}

// DefaultRateLimitConfig returns the documented example rate limit.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{ForceNewPerHour: 3}
}

// StreamConfig tunes the Event Stream Hub's keep-alive cadence
//.
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`
}

// DefaultStreamConfig returns the built-in streaming defaults.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{HeartbeatInterval: 20 * time.Second}
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// DefaultLoggingConfig returns the built-in logging defaults.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{Level: "info", Format: "json"}
}
