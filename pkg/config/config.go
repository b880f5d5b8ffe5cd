// Package config provides unified configuration for the chronicle gate.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CHRONICLE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"sort"
	"time"
)

// Config holds all configuration for the chronicle gate.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Keys          KeysConfig          `yaml:"keys"`
	Directory     DirectoryConfig     `yaml:"directory"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MiB
}

// KeysConfig locates the server signing key.
type KeysConfig struct {
	// SigningKeyFile holds the PEM encoded Ed25519 private key. It is created
	// on first start when missing.
	SigningKeyFile string `yaml:"signing_key_file"` // default: "local/signing.key"
}

// DirectoryConfig holds client directory settings.
type DirectoryConfig struct {
	Type     string         `yaml:"type"` // "memory", "postgres" or "sqlite", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Cache    CacheConfig    `yaml:"cache"`

	// Clients are registered at startup if their ID is not taken yet.
	Clients []ClientConfig `yaml:"clients"`

	// Instances maps the names accepted in ?instance= to table prefixes.
	Instances map[string]string `yaml:"instances"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path           string `yaml:"path"`             // default: "local/chronicle.db"
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// CacheConfig holds directory cache settings.
type CacheConfig struct {
	Type  string        `yaml:"type"` // "none", "memory" or "redis", default: "none"
	TTL   time.Duration `yaml:"ttl"`  // default: 1m
	Redis RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"` // default: "localhost:6379"
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
	Prefix       string `yaml:"prefix"` // default: "chronicle"
}

// ClientConfig describes a client registered from configuration.
type ClientConfig struct {
	ID        string `yaml:"id"`
	PublicKey string `yaml:"public_key"` // base64url Ed25519 public key
	Admin     bool   `yaml:"admin"`
	Comment   string `yaml:"comment"`
}

// LoggingConfig controls the default slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn", "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"

	// Debug lists debug categories (gate, directory, sapient, transport, all).
	// CHRONICLE_DEBUG overrides it.
	Debug string `yaml:"debug"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     10 << 20,
		},
		Keys: KeysConfig{
			SigningKeyFile: "local/signing.key",
		},
		Directory: DirectoryConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
			SQLite: SQLiteConfig{
				Path:           "local/chronicle.db",
				MigrateOnStart: true,
			},
			Cache: CacheConfig{
				Type: "none",
				TTL:  time.Minute,
				Redis: RedisConfig{
					Addr:   "localhost:6379",
					Prefix: "chronicle",
				},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// InstancePrefixes returns the configured table prefixes.
func (c *DirectoryConfig) InstancePrefixes() []string {
	seen := make(map[string]bool, len(c.Instances))
	var out []string
	for _, p := range c.Instances {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
