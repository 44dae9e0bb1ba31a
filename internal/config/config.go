package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Values come from the YAML file named
// by CERTGEN_CONFIG and are then overridden by environment variables.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	DatabaseURL     string        `yaml:"database_url"`
	JWTSecret       string        `yaml:"jwt_secret"`
	CallbackSecret  string        `yaml:"callback_secret"`
	CallbackMaxSkew time.Duration `yaml:"callback_max_skew"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	Log             LogConfig     `yaml:"log"`
	Service         ServiceConfig `yaml:"service"`
	Storage         StorageConfig `yaml:"storage"`
	Redis           RedisConfig   `yaml:"redis"`
	DocHost         DocHostConfig `yaml:"document_host"`
	Outbox          OutboxConfig  `yaml:"outbox"`
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServiceConfig tunes the certificate service.
type ServiceConfig struct {
	PageSize            int           `yaml:"page_size"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency"`
	SignedURLTTL        time.Duration `yaml:"signed_url_ttl"`
	EmailSender         string        `yaml:"email_sender"`
	MaxUploadBytes      int64         `yaml:"max_upload_bytes"`
	MaxRows             int           `yaml:"max_rows"`
}

// StorageConfig points at the S3 bucket. An empty bucket keeps files in memory.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// RedisConfig points at the task queue. An empty address keeps tasks in memory.
type RedisConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	GenerationQueue   string        `yaml:"generation_queue"`
	EmailQueue        string        `yaml:"email_queue"`
	ScheduledQueue    string        `yaml:"scheduled_queue"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
}

// DocHostConfig configures the remote document host client. An empty base
// URL disables URL and remote-pick sources.
type DocHostConfig struct {
	BaseURL      string   `yaml:"base_url"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// OutboxConfig tunes event delivery.
type OutboxConfig struct {
	DispatchInterval   time.Duration `yaml:"dispatch_interval"`
	BatchSize          int           `yaml:"batch_size"`
	ProcessedRetention time.Duration `yaml:"processed_retention"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		CallbackMaxSkew: 5 * time.Minute,
		Log:             LogConfig{Level: "info", Format: "json"},
		Service: ServiceConfig{
			PageSize:            100,
			DispatchConcurrency: 16,
			SignedURLTTL:        15 * time.Minute,
			MaxUploadBytes:      20 << 20,
			MaxRows:             50000,
		},
		Storage: StorageConfig{Region: "us-east-1"},
		Redis:   RedisConfig{SchedulerInterval: 30 * time.Second},
		Outbox: OutboxConfig{
			DispatchInterval:   2 * time.Second,
			BatchSize:          100,
			ProcessedRetention: 14 * 24 * time.Hour,
		},
	}
}

// Load reads the YAML file named by CERTGEN_CONFIG, applies environment
// overrides and validates the result.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CERTGEN_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML over cfg, keeping fields the document omits.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	return nil
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if c.CallbackSecret == "" {
		return errors.New("config: CALLBACK_HMAC_SECRET is required")
	}
	if c.Service.PageSize <= 0 {
		return errors.New("config: service page size must be positive")
	}
	if c.Service.DispatchConcurrency <= 0 {
		return errors.New("config: dispatch concurrency must be positive")
	}
	if c.DocHost.BaseURL != "" && (c.DocHost.TokenURL == "" || c.DocHost.ClientID == "") {
		return errors.New("config: document host needs token url and client id")
	}
	return nil
}

func applyEnv(c *Config) {
	c.HTTPAddr = getenvDefault("HTTP_ADDR", c.HTTPAddr)
	c.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", c.DatabaseURL))
	c.JWTSecret = getenvDefault("AUTH_JWT_SECRET", c.JWTSecret)
	c.CallbackSecret = getenvDefault("CALLBACK_HMAC_SECRET", c.CallbackSecret)
	c.CallbackMaxSkew = getenvDuration("CALLBACK_MAX_SKEW", c.CallbackMaxSkew)
	if origins := splitCSV(os.Getenv("CORS_ORIGINS")); len(origins) > 0 {
		c.CORSOrigins = origins
	}

	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenvDefault("LOG_FORMAT", c.Log.Format)

	c.Service.PageSize = getenvIntDefault("PAGE_SIZE", c.Service.PageSize)
	c.Service.DispatchConcurrency = getenvIntDefault("DISPATCH_CONCURRENCY", c.Service.DispatchConcurrency)
	c.Service.SignedURLTTL = getenvDuration("SIGNED_URL_TTL", c.Service.SignedURLTTL)
	c.Service.EmailSender = getenvDefault("EMAIL_SENDER", c.Service.EmailSender)
	c.Service.MaxRows = getenvIntDefault("MAX_ROWS", c.Service.MaxRows)
	c.Service.MaxUploadBytes = int64(getenvIntDefault("MAX_UPLOAD_BYTES", int(c.Service.MaxUploadBytes)))

	c.Storage.Bucket = getenvDefault("S3_BUCKET", c.Storage.Bucket)
	c.Storage.Region = getenvDefault("AWS_REGION", c.Storage.Region)
	c.Storage.Prefix = getenvDefault("S3_PREFIX", c.Storage.Prefix)

	c.Redis.Addr = getenvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenvDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvIntDefault("REDIS_DB", c.Redis.DB)
	c.Redis.GenerationQueue = getenvDefault("GENERATION_QUEUE", c.Redis.GenerationQueue)
	c.Redis.EmailQueue = getenvDefault("EMAIL_QUEUE", c.Redis.EmailQueue)
	c.Redis.ScheduledQueue = getenvDefault("SCHEDULED_EMAIL_QUEUE", c.Redis.ScheduledQueue)
	c.Redis.SchedulerInterval = getenvDuration("SCHEDULER_INTERVAL", c.Redis.SchedulerInterval)

	c.DocHost.BaseURL = getenvDefault("DOCHOST_BASE_URL", c.DocHost.BaseURL)
	c.DocHost.TokenURL = getenvDefault("DOCHOST_TOKEN_URL", c.DocHost.TokenURL)
	c.DocHost.ClientID = getenvDefault("DOCHOST_CLIENT_ID", c.DocHost.ClientID)
	c.DocHost.ClientSecret = getenvDefault("DOCHOST_CLIENT_SECRET", c.DocHost.ClientSecret)
	if scopes := splitCSV(os.Getenv("DOCHOST_SCOPES")); len(scopes) > 0 {
		c.DocHost.Scopes = scopes
	}

	c.Outbox.DispatchInterval = getenvDuration("OUTBOX_DISPATCH_INTERVAL", c.Outbox.DispatchInterval)
	c.Outbox.BatchSize = getenvIntDefault("OUTBOX_BATCH_SIZE", c.Outbox.BatchSize)
	c.Outbox.ProcessedRetention = getenvDuration("OUTBOX_RETENTION", c.Outbox.ProcessedRetention)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
