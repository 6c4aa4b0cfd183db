package app

import (
	"strings"

	"github.com/charlesng35/magiclink/internal/database"
	"github.com/charlesng35/magiclink/internal/store"
)

// Supported store drivers.
const (
	StoreDriverDatabase = "database"
	StoreDriverRedis    = "redis"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// Backend returns the normalised store driver, defaulting to the SQL database.
func (c StoreConfig) Backend() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	switch driver {
	case "":
		return StoreDriverDatabase
	case "mongodb":
		return StoreDriverMongo
	default:
		return driver
	}
}

// ConnectionConfig converts the application database configuration into the database package representation.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var auth DBAuthConfig
	switch cfg.Driver {
	case "", "sqlite":
		cfg.Driver = "sqlite"
		return cfg
	case "postgres", "postgresql":
		cfg.Driver = "postgres"
		auth = c.Postgres
	case "mysql", "mariadb":
		cfg.Driver = "mysql"
		auth = c.MySQL
	default:
		// unsupported drivers are reported by database.Open
		return cfg
	}

	cfg.Host = strings.TrimSpace(auth.Host)
	cfg.Port = auth.Port
	cfg.Name = strings.TrimSpace(auth.Database)
	cfg.User = strings.TrimSpace(auth.Username)
	cfg.Password = auth.Password
	return cfg
}

// ClientConfig converts the Redis settings into the store package representation.
func (c RedisConfig) ClientConfig() store.RedisConfig {
	return store.RedisConfig{
		Address:  strings.TrimSpace(c.Address),
		Username: strings.TrimSpace(c.Username),
		Password: c.Password,
		DB:       c.DB,
		TLS:      c.TLS,
		Timeout:  c.Timeout,
		Prefix:   strings.TrimSpace(c.Prefix),
	}
}

// ClientConfig converts the MongoDB settings into the store package representation.
func (c MongoConfig) ClientConfig() store.MongoConfig {
	return store.MongoConfig{
		URI:        strings.TrimSpace(c.URI),
		Database:   strings.TrimSpace(c.Database),
		Collection: strings.TrimSpace(c.Collection),
		Timeout:    c.Timeout,
	}
}
