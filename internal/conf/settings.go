// Package conf loads and validates notifyroute settings.
package conf

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// NOTIFYROUTE_REDIS_URL.
const EnvPrefix = "NOTIFYROUTE"

// Settings is the full runtime configuration. It is built once at startup
// and passed to constructors; nothing reads it from package state.
type Settings struct {
	Database  DatabaseSettings  `mapstructure:"database"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Queue     QueueSettings     `mapstructure:"queue"`
	Delivery  DeliverySettings  `mapstructure:"delivery"`
	Transport TransportSettings `mapstructure:"transport"`
	HTTP      HTTPSettings      `mapstructure:"http"`
	MQTT      MQTTSettings      `mapstructure:"mqtt"`
	Logging   LoggingSettings   `mapstructure:"logging"`
	Sentry    SentrySettings    `mapstructure:"sentry"`
}

// DatabaseSettings selects the entity store backend.
type DatabaseSettings struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "mysql"
	DSN    string `mapstructure:"dsn"`    // file path for sqlite, DSN for mysql
	Debug  bool   `mapstructure:"debug"`
}

// RedisSettings configures the shared suppression/queue Redis.
type RedisSettings struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// QueueSettings configures the delayed task queue and its consumers.
type QueueSettings struct {
	Name              string   `mapstructure:"name"`
	Consumers         int      `mapstructure:"consumers"`
	PollInterval      Duration `mapstructure:"poll_interval"`
	BatchSize         int      `mapstructure:"batch_size"`
	VisibilityTimeout Duration `mapstructure:"visibility_timeout"`
}

// DeliverySettings holds the delivery worker's retry and suppression knobs.
type DeliverySettings struct {
	MaxRetries          int      `mapstructure:"max_retries"`
	RetryDelay          Duration `mapstructure:"retry_delay"`
	DefaultTimeout      Duration `mapstructure:"default_timeout"`
	StormBatchSize      int      `mapstructure:"storm_batch_size"`
	StormWindowFallback Duration `mapstructure:"storm_window_fallback"`
	SilenceCacheTTL     Duration `mapstructure:"silence_cache_ttl"`
	SilenceLocation     string   `mapstructure:"silence_location"`
}

// TransportSettings configures the outbound dispatcher.
type TransportSettings struct {
	SenderCacheTTL Duration `mapstructure:"sender_cache_ttl"`
	// SMSURL is the provider URL used by sms channels that do not carry one.
	SMSURL string `mapstructure:"sms_url"`
}

// HTTPSettings configures the ingress API.
type HTTPSettings struct {
	Listen        string   `mapstructure:"listen"`
	RatePerSecond float64  `mapstructure:"rate_per_second"`
	Burst         int      `mapstructure:"burst"`
	ShutdownGrace Duration `mapstructure:"shutdown_grace"`
}

// MQTTSettings configures the optional MQTT event intake.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      byte   `mapstructure:"qos"`
}

// LoggingSettings configures the process logger.
type LoggingSettings struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentrySettings enables error reporting when DSN is set.
type SentrySettings struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "notifyroute.db")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "notif")

	v.SetDefault("queue.name", "notifications")
	v.SetDefault("queue.consumers", 4)
	v.SetDefault("queue.poll_interval", "500ms")
	v.SetDefault("queue.batch_size", 16)
	v.SetDefault("queue.visibility_timeout", "5m")

	v.SetDefault("delivery.max_retries", 3)
	v.SetDefault("delivery.retry_delay", "30s")
	v.SetDefault("delivery.default_timeout", "10s")
	v.SetDefault("delivery.storm_batch_size", 10)
	v.SetDefault("delivery.storm_window_fallback", "120s")
	v.SetDefault("delivery.silence_cache_ttl", "5m")
	v.SetDefault("delivery.silence_location", "UTC")

	v.SetDefault("transport.sender_cache_ttl", "10m")

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.rate_per_second", 20)
	v.SetDefault("http.burst", 40)
	v.SetDefault("http.shutdown_grace", "10s")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.topic", "notifyroute/events")
	v.SetDefault("mqtt.client_id", "notifyroute")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
}

// Load reads settings from configPath (or the default search paths when
// empty), a .env file in the working directory, and NOTIFYROUTE_* env vars.
func Load(configPath string) (*Settings, error) {
	// A missing .env is the common case.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("notifyroute")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/notifyroute")
		}
		v.AddConfigPath("/etc/notifyroute")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !asConfigNotFound(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func asConfigNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	e, ok := err.(viper.ConfigFileNotFoundError) //nolint:errorlint // viper returns the value type unwrapped
	if ok {
		*target = e
	}
	return ok
}

// Validate rejects settings the process cannot run with.
func (s *Settings) Validate() error {
	switch s.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("invalid database.driver %q: expected sqlite or mysql", s.Database.Driver)
	}
	if s.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if s.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if s.Queue.Name == "" {
		return fmt.Errorf("queue.name is required")
	}
	if s.Queue.Consumers < 1 {
		return fmt.Errorf("queue.consumers must be at least 1, got %d", s.Queue.Consumers)
	}
	if s.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries must not be negative, got %d", s.Delivery.MaxRetries)
	}
	if s.Delivery.RetryDelay < 0 {
		return fmt.Errorf("delivery.retry_delay must not be negative")
	}
	if s.Delivery.StormBatchSize < 1 {
		return fmt.Errorf("delivery.storm_batch_size must be at least 1, got %d", s.Delivery.StormBatchSize)
	}
	if _, err := s.Delivery.Location(); err != nil {
		return err
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// Location resolves SilenceLocation, defaulting to UTC.
func (d DeliverySettings) Location() (*time.Location, error) {
	if d.SilenceLocation == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.SilenceLocation)
	if err != nil {
		return nil, fmt.Errorf("invalid delivery.silence_location %q: %w", d.SilenceLocation, err)
	}
	return loc, nil
}

// Default returns settings populated only from defaults. Used by tests and
// by commands that run without a config file.
func Default() *Settings {
	v := viper.New()
	SetDefaults(v)
	s, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("default settings are invalid: %v", err))
	}
	return s
}
