package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CHRONICLE_CONFIG env, ./config.yaml, /etc/chronicle/config.yaml)
//  3. CHRONICLE_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CHRONICLE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/chronicle/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("CHRONICLE_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/chronicle/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps CHRONICLE_* environment variables to config fields.
// Malformed numeric or duration values are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CHRONICLE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHRONICLE_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("CHRONICLE_MAX_BODY_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHRONICLE_MAX_BODY_SIZE: %w", err)
		}
		cfg.Server.MaxBodySize = n
	}
	if v := os.Getenv("CHRONICLE_SIGNING_KEY_FILE"); v != "" {
		cfg.Keys.SigningKeyFile = v
	}
	if v := os.Getenv("CHRONICLE_DIRECTORY"); v != "" {
		cfg.Directory.Type = v
	}
	if v := os.Getenv("CHRONICLE_POSTGRES_DSN"); v != "" {
		cfg.Directory.Postgres.DSN = v
	}
	if v := os.Getenv("CHRONICLE_SQLITE_PATH"); v != "" {
		cfg.Directory.SQLite.Path = v
	}
	if v := os.Getenv("CHRONICLE_CACHE"); v != "" {
		cfg.Directory.Cache.Type = v
	}
	if v := os.Getenv("CHRONICLE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHRONICLE_CACHE_TTL: %w", err)
		}
		cfg.Directory.Cache.TTL = d
	}
	if v := os.Getenv("CHRONICLE_REDIS_ADDR"); v != "" {
		cfg.Directory.Cache.Redis.Addr = v
	}
	if v := os.Getenv("CHRONICLE_REDIS_PASSWORD"); v != "" {
		cfg.Directory.Cache.Redis.Password = v
	}
	if v := os.Getenv("CHRONICLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHRONICLE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// CHRONICLE_CLIENTS: JSON array of client configs.
	if v := os.Getenv("CHRONICLE_CLIENTS"); v != "" {
		clients, err := parseClientsJSON(v)
		if err != nil {
			return err
		}
		cfg.Directory.Clients = clients
	}

	// CHRONICLE_INSTANCES: JSON object of instance name to table prefix.
	if v := os.Getenv("CHRONICLE_INSTANCES"); v != "" {
		instances := make(map[string]string)
		if err := json.Unmarshal([]byte(v), &instances); err != nil {
			return fmt.Errorf("parsing CHRONICLE_INSTANCES: %w", err)
		}
		cfg.Directory.Instances = instances
	}

	return nil
}

// clientJSON mirrors ClientConfig with JSON names.
type clientJSON struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
	Admin     bool   `json:"admin"`
	Comment   string `json:"comment"`
}

// parseClientsJSON parses a JSON array of client configurations.
func parseClientsJSON(jsonStr string) ([]ClientConfig, error) {
	var raw []clientJSON
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("parsing CHRONICLE_CLIENTS: %w", err)
	}
	clients := make([]ClientConfig, len(raw))
	for i, c := range raw {
		clients[i] = ClientConfig(c)
	}
	return clients, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// directory.postgres.dsn_file -> directory.postgres.dsn
	if cfg.Directory.Postgres.DSNFile != "" && cfg.Directory.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Directory.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("directory.postgres.dsn_file: %w", err)
		}
		cfg.Directory.Postgres.DSN = val
	}

	// directory.cache.redis.password_file -> directory.cache.redis.password
	if cfg.Directory.Cache.Redis.PasswordFile != "" && cfg.Directory.Cache.Redis.Password == "" {
		val, err := readSecretFile(cfg.Directory.Cache.Redis.PasswordFile)
		if err != nil {
			return fmt.Errorf("directory.cache.redis.password_file: %w", err)
		}
		cfg.Directory.Cache.Redis.Password = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
