package config

// Config is the fully-resolved process configuration: YAML file, merged
// against built-in defaults, then validated. cmd/complianceengine builds
// every other package's constructor arguments from this struct alone.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Database  DatabaseConfig     `yaml:"database"`
	Worker    WorkerConfig       `yaml:"worker"`
	Pipeline  PipelineConfig     `yaml:"pipeline"`
	Retention RetentionConfig    `yaml:"retention"`
	Providers ProviderPoolConfig `yaml:"provider"`
	RateLimit RateLimitConfig    `yaml:"rate_limit"`
	Stream    StreamConfig       `yaml:"stream"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// defaultConfig assembles the built-in defaults for every section. It is
// the merge base: Initialize loads the user's YAML on top of this via
// dario.cat/mergo so an empty or partial config file still yields a fully
// populated, runnable Config.
func defaultConfig() *Config {
	return &Config{
		Server:    *DefaultServerConfig(),
		Database:  *DefaultDatabaseConfig(),
		Worker:    *DefaultWorkerConfig(),
		Pipeline:  *DefaultPipelineConfig(),
		Retention: *DefaultRetentionConfig(),
		Providers: *DefaultProviderPoolConfig(),
		RateLimit: *DefaultRateLimitConfig(),
		Stream:    *DefaultStreamConfig(),
		Logging:   *DefaultLoggingConfig(),
	}
}
