package config

import (
	"errors"
	"fmt"

	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/storage"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be in range.
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	if c.Keys.SigningKeyFile == "" {
		errs = append(errs, errors.New("keys.signing_key_file is required"))
	}

	// directory.type must be a known value.
	switch c.Directory.Type {
	case "memory":
	case "postgres":
		if c.Directory.Postgres.DSN == "" && c.Directory.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("directory.postgres.dsn or directory.postgres.dsn_file is required when directory.type is \"postgres\""))
		}
	case "sqlite":
		if c.Directory.SQLite.Path == "" {
			errs = append(errs, errors.New("directory.sqlite.path is required when directory.type is \"sqlite\""))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.type must be \"memory\", \"postgres\" or \"sqlite\", got %q", c.Directory.Type))
	}

	switch c.Directory.Cache.Type {
	case "none", "":
	case "memory", "redis":
		if c.Directory.Cache.TTL <= 0 {
			errs = append(errs, fmt.Errorf("directory.cache.ttl must be > 0, got %v", c.Directory.Cache.TTL))
		}
		if c.Directory.Cache.Type == "redis" && c.Directory.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("directory.cache.redis.addr is required when directory.cache.type is \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.cache.type must be \"none\", \"memory\" or \"redis\", got %q", c.Directory.Cache.Type))
	}

	for name, prefix := range c.Directory.Instances {
		if !storage.ValidInstanceName(name) {
			errs = append(errs, fmt.Errorf("directory.instances: invalid instance name %q", name))
		}
		if !storage.ValidInstanceName(prefix) {
			errs = append(errs, fmt.Errorf("directory.instances[%s]: invalid table prefix %q", name, prefix))
		}
	}

	seen := make(map[string]bool, len(c.Directory.Clients))
	for i, cl := range c.Directory.Clients {
		if cl.ID == "" {
			errs = append(errs, fmt.Errorf("directory.clients[%d].id is required", i))
		} else if seen[cl.ID] {
			errs = append(errs, fmt.Errorf("directory.clients[%d]: duplicate id %q", i, cl.ID))
		}
		seen[cl.ID] = true
		if _, err := keys.ParsePublicKey(cl.PublicKey); err != nil {
			errs = append(errs, fmt.Errorf("directory.clients[%d].public_key: %w", i, err))
		}
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
