package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Server   ServerConfig   `mapstructure:"server"`
	IMAP     IMAPConfig     `mapstructure:"imap"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds the store connection string. The scheme selects the
// backend: postgres://, mysql:// or sqlite:.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// WorkerConfig holds delivery worker tunables
type WorkerConfig struct {
	MaxRetries        int   `mapstructure:"max_retries" validate:"min=1"`
	MaxDelaySeconds   int64 `mapstructure:"max_delay_seconds" validate:"min=1"`
	APITimeoutSeconds int   `mapstructure:"api_timeout_seconds" validate:"min=1"`
	IntervalSeconds   int   `mapstructure:"interval_seconds" validate:"min=1"`
	ItemsPerIteration int   `mapstructure:"items_per_iteration" validate:"min=1"`
	Concurrency       int   `mapstructure:"concurrency" validate:"min=1"`
}

// IngestConfig holds ingest path settings
type IngestConfig struct {
	// RecipientDelimiter strips sub-addressing ("user+tag") before route
	// matching. Empty disables it.
	RecipientDelimiter string `mapstructure:"recipient_delimiter" validate:"max=1"`
}

// ServerConfig holds the worker's ops HTTP server configuration
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// IMAPConfig holds mailbox poller configuration
type IMAPConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Host                string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port                int    `mapstructure:"port" validate:"min=1,max=65535"`
	User                string `mapstructure:"user" validate:"required_if=Enabled true"`
	Password            string `mapstructure:"password"`
	Mailbox             string `mapstructure:"mailbox"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" validate:"min=1"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Default values mirror the long-standing settings.toml defaults.
const (
	DefaultMaxRetries        = 50
	DefaultMaxDelaySeconds   = 60 * 30
	DefaultAPITimeoutSeconds = 60
	DefaultIntervalSeconds   = 5
	DefaultItemsPerIteration = 50
	DefaultConcurrency       = 10
)

const envPrefix = "EMAIL_HOOK"

// legacyAliases maps the flat keys of older settings files onto the
// sectioned keys.
var legacyAliases = map[string]string{
	"database_url":               "database.url",
	"worker_max_retries":         "worker.max_retries",
	"worker_max_delay_seconds":   "worker.max_delay_seconds",
	"worker_api_timeout_seconds": "worker.api_timeout_seconds",
	"worker_interval_seconds":    "worker.interval_seconds",
	"worker_items_per_iteration": "worker.items_per_iteration",
	"recipient_delimiter":        "ingest.recipient_delimiter",
}

// LoadConfig loads configuration from the config file and environment
// variables. An empty path searches settings.toml in the working directory
// and /etc/email-hook.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/email-hook")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Legacy keys land at default priority so both the sectioned key and
	// the environment still override them.
	for alias, key := range legacyAliases {
		if v.InConfig(alias) {
			v.SetDefault(key, v.Get(alias))
		}
	}

	// Environment variables override config file
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("worker.max_retries", DefaultMaxRetries)
	v.SetDefault("worker.max_delay_seconds", DefaultMaxDelaySeconds)
	v.SetDefault("worker.api_timeout_seconds", DefaultAPITimeoutSeconds)
	v.SetDefault("worker.interval_seconds", DefaultIntervalSeconds)
	v.SetDefault("worker.items_per_iteration", DefaultItemsPerIteration)
	v.SetDefault("worker.concurrency", DefaultConcurrency)

	v.SetDefault("ingest.recipient_delimiter", "")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("imap.enabled", false)
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.poll_interval_seconds", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvVars binds every known key so AutomaticEnv also reaches keys that
// have no default and do not appear in the file.
func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"database.url",
		"imap.host",
		"imap.user",
		"imap.password",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Worker.Concurrency > c.Worker.ItemsPerIteration {
		return fmt.Errorf("worker concurrency (%d) must not exceed items per iteration (%d)",
			c.Worker.Concurrency, c.Worker.ItemsPerIteration)
	}

	return nil
}

// APITimeout returns the per-request webhook timeout.
func (w WorkerConfig) APITimeout() time.Duration {
	return time.Duration(w.APITimeoutSeconds) * time.Second
}

// Interval returns the tick interval of the worker loop.
func (w WorkerConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

// MaxDelay returns the backoff ceiling.
func (w WorkerConfig) MaxDelay() time.Duration {
	return time.Duration(w.MaxDelaySeconds) * time.Second
}

// StaleAfter returns how long a row may stay in delivering before the
// recovery sweep hands it back to pending. A claimed row can wait behind
// ceil(items/concurrency) rounds, each a request and an outcome write both
// bounded by the API timeout, so the window covers all of them plus one
// spare timeout.
func (w WorkerConfig) StaleAfter() time.Duration {
	concurrency := w.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	rounds := (w.ItemsPerIteration + concurrency - 1) / concurrency
	return w.APITimeout() * time.Duration(2*rounds+1)
}

// PollInterval returns the mailbox poll interval.
func (c IMAPConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Address returns host:port of the IMAP server.
func (c IMAPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
