// Package config loads the runner's environment-driven configuration, plus
// an optional etlrund.yaml override for the sink allowlist seed and
// per-index Elasticsearch mappings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runner's resolved configuration.
type Config struct {
	DatabaseURL  string
	PollInterval time.Duration
	HTTPAddr     string

	MaxRetries   int
	RetryBaseDur time.Duration

	ElasticsearchAddr string

	AllowedTables  []string `yaml:"allowed_tables"`
	AllowedIndices []string `yaml:"allowed_indices"`

	// IndexMappings registers the Elasticsearch field mapping for each
	// document index by name (no "es:" prefix). An index missing here
	// gets a dynamic mapping when DocumentIndexWriter first creates it.
	IndexMappings map[string]map[string]any `yaml:"index_mappings"`

	RunRetentionMaxAge time.Duration
	RunRetentionSweep  time.Duration
}

// Load resolves configuration from the environment, optionally layering an
// etlrund.yaml allowlist override on top (see ResolvePath).
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		PollInterval:      envDurationSeconds("POLL_INTERVAL_SECONDS", 5*time.Second),
		HTTPAddr:          envString("HTTP_ADDR", ":8080"),
		MaxRetries:        envInt("MAX_RUN_RETRIES", 3),
		RetryBaseDur:      envDurationSeconds("RETRY_BASE_SECONDS", 1*time.Second),
		ElasticsearchAddr: envString("ELASTICSEARCH_ADDR", "http://localhost:9200"),
		RunRetentionMaxAge: envDurationSeconds("RUN_RETENTION_MAX_AGE_SECONDS", 30*24*time.Hour),
		RunRetentionSweep:  envDurationSeconds("RUN_RETENTION_SWEEP_SECONDS", time.Hour),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if path := ResolvePath(); path != "" {
		if err := cfg.loadOverride(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadOverride layers an etlrund.yaml file's allowed_tables,
// allowed_indices, and index_mappings onto the config. Unset fields in the
// file leave the environment-seeded defaults (empty slices/maps) untouched.
func (c *Config) loadOverride(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(override.AllowedTables) > 0 {
		c.AllowedTables = override.AllowedTables
	}
	if len(override.AllowedIndices) > 0 {
		c.AllowedIndices = override.AllowedIndices
	}
	if len(override.IndexMappings) > 0 {
		c.IndexMappings = override.IndexMappings
	}
	return nil
}

// ResolvePath finds the allowlist override file path.
// Priority: ETLRUND_CONFIG env var > ./etlrund.yaml > "" (no override).
func ResolvePath() string {
	if p := os.Getenv("ETLRUND_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("etlrund.yaml"); err == nil {
		return "etlrund.yaml"
	}
	return ""
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return n
}

func envDurationSeconds(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid duration-seconds env var, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return time.Duration(n) * time.Second
}
