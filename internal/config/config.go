package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine. Values come from the YAML
// file first; environment variables (see the env tags) override them.
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Engine   EngineConfig   `yaml:"engine" envPrefix:"ENGINE_"`
	Email    EmailConfig    `yaml:"email" envPrefix:"EMAIL_"`
	SMS      SMSConfig      `yaml:"sms" envPrefix:"SMS_"`
	Chat     ChatConfig     `yaml:"chat" envPrefix:"CHAT_"`
	Handover HandoverConfig `yaml:"handover" envPrefix:"HANDOVER_"`
	Archive  ArchiveConfig  `yaml:"archive" envPrefix:"ARCHIVE_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`

	// Store selects the registry and lead/campaign backend: "postgres" or
	// "memory". Memory mode never starts implicitly.
	Store        string `yaml:"store" env:"ENGINE_STORE"`
	FixturesFile string `yaml:"fixtures_file" env:"ENGINE_FIXTURES_FILE"`
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int    `yaml:"port" env:"PORT"`
	Host                   string `yaml:"host" env:"HOST"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds" env:"READ_TIMEOUT_SECONDS"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	return c.Host
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url" env:"URL"`
	MaxOpenConns           int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns           int    `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" env:"CONN_MAX_LIFETIME_MINUTES"`
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig is optional. An empty Addr disables Redis locks.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// EngineConfig tunes the scheduler and the state machine.
type EngineConfig struct {
	TickIntervalSeconds    int  `yaml:"tick_interval_seconds" env:"TICK_INTERVAL_SECONDS"`
	BatchSize              int  `yaml:"batch_size" env:"BATCH_SIZE"`
	MaxConcurrent          int  `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	AdvanceTimeoutSeconds  int  `yaml:"advance_timeout_seconds" env:"ADVANCE_TIMEOUT_SECONDS"`
	RetentionDays          int  `yaml:"retention_days" env:"RETENTION_DAYS"`
	CleanupIntervalMinutes int  `yaml:"cleanup_interval_minutes" env:"CLEANUP_INTERVAL_MINUTES"`
	DistributedLocks       bool `yaml:"distributed_locks" env:"DISTRIBUTED_LOCKS"`
	LockTTLSeconds         int  `yaml:"lock_ttl_seconds" env:"LOCK_TTL_SECONDS"`

	Retry RetryConfig `yaml:"retry" envPrefix:"RETRY_"`
}

func (c EngineConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

func (c EngineConfig) AdvanceTimeout() time.Duration {
	return time.Duration(c.AdvanceTimeoutSeconds) * time.Second
}

func (c EngineConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

func (c EngineConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// RetryConfig bounds dispatch retries per step.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" env:"INITIAL_BACKOFF_MS"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" env:"MAX_BACKOFF_MS"`
	Multiplier       float64 `yaml:"multiplier" env:"MULTIPLIER"`
}

func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// EmailConfig holds the SES sender settings. An empty Provider leaves the
// email channel unconfigured; email steps then fail.
type EmailConfig struct {
	Provider         string `yaml:"provider" env:"PROVIDER"`
	Region           string `yaml:"region" env:"REGION"`
	AccessKey        string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey        string `yaml:"secret_key" env:"SECRET_KEY"`
	ConfigurationSet string `yaml:"configuration_set" env:"CONFIGURATION_SET"`
	FromEmail        string `yaml:"from_email" env:"FROM_EMAIL"`
	FromName         string `yaml:"from_name" env:"FROM_NAME"`
	ReplyTo          string `yaml:"reply_to" env:"REPLY_TO"`
}

// SMSConfig holds the REST SMS provider settings.
type SMSConfig struct {
	Provider       string `yaml:"provider" env:"PROVIDER"`
	AccountSID     string `yaml:"account_sid" env:"ACCOUNT_SID"`
	AuthToken      string `yaml:"auth_token" env:"AUTH_TOKEN"`
	FromNumber     string `yaml:"from_number" env:"FROM_NUMBER"`
	BaseURL        string `yaml:"base_url" env:"BASE_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	MaxRetries     int    `yaml:"max_retries" env:"MAX_RETRIES"`
}

// Timeout returns the configured timeout as a duration
func (c SMSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChatConfig configures the live chat stream.
type ChatConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	HeartbeatSeconds int      `yaml:"heartbeat_seconds" env:"HEARTBEAT_SECONDS"`
	BufferSize       int      `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

func (c ChatConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// HandoverConfig selects where handover notifications go. Both targets may
// be set; with neither, notifications are only logged.
type HandoverConfig struct {
	SQSQueueURL   string `yaml:"sqs_queue_url" env:"SQS_QUEUE_URL"`
	SQSRegion     string `yaml:"sqs_region" env:"SQS_REGION"`
	WebhookURL    string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	WebhookSecret string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
}

// ArchiveConfig holds storage for executions removed by cleanup. Type is
// "local", "aws" or empty (no archive).
type ArchiveConfig struct {
	Type          string `yaml:"type" env:"TYPE"`
	LocalPath     string `yaml:"local_path" env:"LOCAL_PATH"`
	S3Bucket      string `yaml:"s3_bucket" env:"S3_BUCKET"`
	DynamoDBTable string `yaml:"dynamodb_table" env:"DYNAMODB_TABLE"`
	AWSRegion     string `yaml:"aws_region" env:"AWS_REGION"`
	AWSProfile    string `yaml:"aws_profile" env:"AWS_PROFILE"` // Empty string uses default credential chain (IAM role on ECS)
	TTLDays       int    `yaml:"ttl_days" env:"TTL_DAYS"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ArchiveConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

func (c ArchiveConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	// RedactPII defaults to true when unset.
	RedactPII *bool `yaml:"redact_pii" env:"REDACT_PII"`
}

func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in production. An empty path
// skips the YAML file.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 30
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetimeMinutes == 0 {
		c.Database.ConnMaxLifetimeMinutes = 5
	}
	if c.Engine.TickIntervalSeconds == 0 {
		c.Engine.TickIntervalSeconds = 5
	}
	if c.Engine.BatchSize == 0 {
		c.Engine.BatchSize = 100
	}
	if c.Engine.MaxConcurrent == 0 {
		c.Engine.MaxConcurrent = 10
	}
	if c.Engine.AdvanceTimeoutSeconds == 0 {
		c.Engine.AdvanceTimeoutSeconds = 300
	}
	if c.Engine.RetentionDays == 0 {
		c.Engine.RetentionDays = 30
	}
	if c.Engine.CleanupIntervalMinutes == 0 {
		c.Engine.CleanupIntervalMinutes = 60
	}
	if c.Engine.LockTTLSeconds == 0 {
		c.Engine.LockTTLSeconds = 600
	}
	if c.Engine.Retry.MaxAttempts == 0 {
		c.Engine.Retry.MaxAttempts = 3
	}
	if c.Engine.Retry.InitialBackoffMS == 0 {
		c.Engine.Retry.InitialBackoffMS = 1000
	}
	if c.Engine.Retry.MaxBackoffMS == 0 {
		c.Engine.Retry.MaxBackoffMS = 30000
	}
	if c.Engine.Retry.Multiplier == 0 {
		c.Engine.Retry.Multiplier = 2
	}
	if c.Email.Region == "" {
		c.Email.Region = "us-west-2"
	}
	if c.SMS.BaseURL == "" {
		c.SMS.BaseURL = "https://api.twilio.com"
	}
	if c.SMS.TimeoutSeconds == 0 {
		c.SMS.TimeoutSeconds = 30
	}
	if c.SMS.MaxRetries == 0 {
		c.SMS.MaxRetries = 3
	}
	if c.Chat.HeartbeatSeconds == 0 {
		c.Chat.HeartbeatSeconds = 25
	}
	if c.Chat.BufferSize == 0 {
		c.Chat.BufferSize = 16
	}
	if c.Archive.LocalPath == "" {
		c.Archive.LocalPath = "./data/archive"
	}
	if c.Archive.AWSRegion == "" {
		c.Archive.AWSRegion = c.Email.Region
	}
	if c.Archive.TTLDays == 0 {
		c.Archive.TTLDays = 365
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store == "" {
		c.Store = StorePostgres
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for store=postgres"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}

	switch strings.ToLower(c.Email.Provider) {
	case "":
	case "ses":
		if c.Email.FromEmail == "" {
			errs = append(errs, errors.New("email.from_email is required for provider=ses"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown email provider %q", c.Email.Provider))
	}

	switch strings.ToLower(c.SMS.Provider) {
	case "":
	case "twilio":
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.FromNumber == "" {
			errs = append(errs, errors.New("sms.account_sid, sms.auth_token and sms.from_number are required for provider=twilio"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sms provider %q", c.SMS.Provider))
	}

	switch c.Archive.Type {
	case "", "local":
	case "aws":
		if c.Archive.S3Bucket == "" || c.Archive.DynamoDBTable == "" {
			errs = append(errs, errors.New("archive.s3_bucket and archive.dynamodb_table are required for type=aws"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive type %q", c.Archive.Type))
	}

	if c.Engine.DistributedLocks && !c.Redis.Enabled() && c.Store != StorePostgres {
		errs = append(errs, errors.New("engine.distributed_locks needs redis.addr or store=postgres"))
	}
	if c.Engine.RetentionDays < 0 {
		errs = append(errs, errors.New("engine.retention_days must be >= 0"))
	}
	return errors.Join(errs...)
}
