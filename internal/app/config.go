package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration of the magic-link service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Notifier    NotifierConfig    `mapstructure:"notifier"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// IsDevelopment reports whether the server runs in development mode. An empty
// environment counts as development.
func (c ServerConfig) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "dev", "development":
		return true
	default:
		return false
	}
}

// StoreConfig selects the persistent store backend: database, redis, mongo or memory.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig describes connection options for the supported SQL databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RedisConfig holds Redis connection options.
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Prefix   string        `mapstructure:"prefix"`
}

// MongoConfig holds MongoDB connection options.
type MongoConfig struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	TokenBytes  int               `mapstructure:"token_bytes"`
	TokenPepper string            `mapstructure:"token_pepper"`
	MagicLink   MagicLinkSettings `mapstructure:"magic_link"`
	Session     SessionSettings   `mapstructure:"session"`
}

// MagicLinkSettings configures link delivery and record retention.
type MagicLinkSettings struct {
	BaseURL       string        `mapstructure:"base_url"`
	Subject       string        `mapstructure:"subject"`
	Retention     time.Duration `mapstructure:"retention"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// SessionSettings configures the session cookie and optional expiry.
type SessionSettings struct {
	CookieName   string        `mapstructure:"cookie_name"`
	CookieDomain string        `mapstructure:"cookie_domain"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
	AbsoluteTTL  time.Duration `mapstructure:"absolute_ttl"`
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
}

// NotifierConfig selects how magic links reach users: log, smtp or webhook.
type NotifierConfig struct {
	Driver  string        `mapstructure:"driver"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	From       string        `mapstructure:"from"`
	Encryption string        `mapstructure:"encryption"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// WebhookConfig defines the HTTP endpoint receiving magic links.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MaintenanceConfig controls the periodic purge of expired store entries.
type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// Variables from a .env file in the working directory are loaded first and never
// override variables already present in the environment.
func LoadConfig(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("MAGICLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("store.driver", "database")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/magiclink.sqlite")

	v.SetDefault("redis.address", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)
	v.SetDefault("redis.timeout", "5s")
	v.SetDefault("redis.prefix", "magiclink")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "magiclink")
	v.SetDefault("mongo.collection", "store_entries")
	v.SetDefault("mongo.timeout", "10s")

	v.SetDefault("auth.token_bytes", 32)
	v.SetDefault("auth.magic_link.base_url", "http://localhost:8080/api/auth/magic-link/redeem")
	v.SetDefault("auth.magic_link.subject", "Your sign-in link")
	v.SetDefault("auth.magic_link.retention", "24h")
	v.SetDefault("auth.magic_link.notify_timeout", "10s")
	v.SetDefault("auth.session.cookie_name", "magiclink_session")
	v.SetDefault("auth.session.cookie_secure", false)
	v.SetDefault("auth.session.absolute_ttl", "0s")
	v.SetDefault("auth.session.idle_ttl", "0s")

	v.SetDefault("notifier.driver", "log")
	v.SetDefault("notifier.smtp.port", 587)
	v.SetDefault("notifier.smtp.encryption", "starttls")
	v.SetDefault("notifier.smtp.timeout", "10s")
	v.SetDefault("notifier.webhook.timeout", "5s")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@hourly")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
