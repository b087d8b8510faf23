package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/stanstork/stratum-ingest/internal/bus"
	"github.com/stanstork/stratum-ingest/internal/pipeline/source"
	"github.com/stanstork/stratum-ingest/internal/pipeline/storage"
)

const envPrefix = "STRATUM"

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL           string `mapstructure:"url"`
	MaxOpenConns  int    `mapstructure:"max_open_conns"`
	MaxIdleConns  int    `mapstructure:"max_idle_conns"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type SchedulerConfig struct {
	QueuedInterval   time.Duration `mapstructure:"queued_interval"`
	RetryingInterval time.Duration `mapstructure:"retrying_interval"`
}

type PoolConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type SourcesConfig struct {
	API source.APIConfig `mapstructure:"api"`
	// DatabaseURL is the database DATABASE sources query. Empty disables them.
	DatabaseURL string `mapstructure:"database_url"`
}

type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type CloudStorageConfig struct {
	DefaultProvider string              `mapstructure:"default_provider"`
	S3              storage.S3Config    `mapstructure:"s3"`
	GCS             storage.GCSConfig   `mapstructure:"gcs"`
	Azure           storage.AzureConfig `mapstructure:"azure"`
}

type StorageConfig struct {
	Local LocalStorageConfig `mapstructure:"local"`
	Cloud CloudStorageConfig `mapstructure:"cloud"`
	// DatabaseURL is the target of DATABASE storages. Empty disables them.
	DatabaseURL string `mapstructure:"database_url"`
}

type EmailConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	From            string   `mapstructure:"from"`
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Bus       bus.Config      `mapstructure:"bus"`
	Email     EmailConfig     `mapstructure:"email"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("scheduler.queued_interval", 60*time.Second)
	v.SetDefault("scheduler.retrying_interval", 300*time.Second)
	v.SetDefault("pool.workers", 5)
	v.SetDefault("pool.queue_size", 25)
	v.SetDefault("retry.initial_interval", time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_interval", 5*time.Minute)
	v.SetDefault("sources.api.timeout", 30*time.Second)
	v.SetDefault("sources.api.retry_max", 3)
	v.SetDefault("sources.api.max_body_bytes", int64(256<<20))
	v.SetDefault("sources.database_url", "")
	v.SetDefault("storage.local.base_path", "./data")
	v.SetDefault("storage.cloud.default_provider", "s3")
	v.SetDefault("storage.cloud.s3.endpoint", "")
	v.SetDefault("storage.cloud.s3.region", "")
	v.SetDefault("storage.cloud.s3.access_key_id", "")
	v.SetDefault("storage.cloud.s3.secret_access_key", "")
	v.SetDefault("storage.cloud.s3.use_ssl", true)
	v.SetDefault("storage.cloud.gcs.credentials_file", "")
	v.SetDefault("storage.cloud.gcs.endpoint", "")
	v.SetDefault("storage.cloud.azure.account_name", "")
	v.SetDefault("storage.cloud.azure.account_key", "")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("bus.driver", "none")
	v.SetDefault("bus.auto_queue", false)
	v.SetDefault("bus.kafka.brokers", []string{})
	v.SetDefault("bus.kafka.group_id", "stratum-ingest")
	v.SetDefault("bus.kafka.client_id", "stratum-ingest")
	v.SetDefault("bus.nats.url", "")
	v.SetDefault("bus.nats.queue_group", "stratum-ingest")
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.from", "")
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.alert_recipients", []string{})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Load reads config.yaml from the given directories (default "." and "./config"),
// after loading a .env file if one exists. STRATUM_* environment variables
// override file values, e.g. STRATUM_DATABASE_URL.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Fallback defaults
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.Email.SMTPPort == 0 {
		config.Email.SMTPPort = 587
	}
	if config.Storage.DatabaseURL == "" {
		config.Storage.DatabaseURL = config.Database.URL
	}

	return &config, nil
}

// Validate reports misconfiguration the service cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Database.URL) == "" {
		problems = append(problems, "database.url must be set")
	}
	if c.Pool.Workers < 1 {
		problems = append(problems, "pool.workers must be at least 1")
	}
	if c.Pool.QueueSize < 1 {
		problems = append(problems, "pool.queue_size must be at least 1")
	}
	if c.Scheduler.QueuedInterval <= 0 || c.Scheduler.RetryingInterval <= 0 {
		problems = append(problems, "scheduler intervals must be positive")
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.Multiplier < 1 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		problems = append(problems, "retry requires initial_interval > 0, multiplier >= 1 and max_interval >= initial_interval")
	}
	switch strings.ToLower(c.Bus.Driver) {
	case "", "none", "nats":
	case "kafka":
		if len(c.Bus.Kafka.Brokers) == 0 {
			problems = append(problems, "bus.kafka.brokers must be set for the kafka driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("bus.driver %q is not one of kafka, nats, none", c.Bus.Driver))
	}
	if c.Email.Enabled && (strings.TrimSpace(c.Email.SMTPHost) == "" || strings.TrimSpace(c.Email.From) == "") {
		problems = append(problems, "email.smtp_host and email.from are required when email is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
