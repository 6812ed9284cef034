// Package config loads and validates schemalens configuration.
//
// Configuration can come from YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values. Secrets
// (datasource passwords) must only come from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Named validation errors for out-of-range options.
var (
	ErrInvalidTTL          = errors.New("cache ttl_seconds must be positive")
	ErrInvalidThreshold    = errors.New("mapper similarity_threshold must be in (0,1]")
	ErrInvalidSuggestions  = errors.New("mapper max_suggestions must be positive")
	ErrInvalidTimeout      = errors.New("discovery timeout_seconds must be positive")
	ErrInvalidStaleCeiling = errors.New("fallback stale_ceiling_seconds must be at least the cache ttl")
)

// Config holds all configuration for schemalens.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3470"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Cache     CacheConfig     `yaml:"cache"`
	Mapper    MapperConfig    `yaml:"mapper"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Fallback  FallbackConfig  `yaml:"fallback"`

	// Datasource is the relational store whose catalog is discovered.
	Datasource DatasourceConfig `yaml:"datasource"`

	// Store is the engine's own PostgreSQL database for learned mappings.
	// Optional: when Host is empty, learned mappings are kept in memory only.
	Store StoreConfig `yaml:"store"`
}

// CacheConfig holds schema cache settings.
type CacheConfig struct {
	// TTLSeconds is how long cached snapshots and term lookups stay fresh.
	TTLSeconds int `yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS" env-default:"300"`
}

// MapperConfig holds semantic mapper settings.
type MapperConfig struct {
	// SimilarityThreshold is the minimum score for a mapping candidate.
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"MAPPER_SIMILARITY_THRESHOLD" env-default:"0.7"`
	// MaxSuggestions caps how many candidates a resolution returns.
	MaxSuggestions int `yaml:"max_suggestions" env:"MAPPER_MAX_SUGGESTIONS" env-default:"3"`
}

// DiscoveryConfig holds schema discovery settings.
type DiscoveryConfig struct {
	// TimeoutSeconds bounds a full discovery pass.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"DISCOVERY_TIMEOUT_SECONDS" env-default:"30"`
	// SampleValues is how many example values to collect per column (0 disables).
	SampleValues int `yaml:"sample_values" env:"DISCOVERY_SAMPLE_VALUES" env-default:"5"`
}

// FallbackConfig governs degraded-mode behavior.
type FallbackConfig struct {
	// StaleCeilingSeconds is the hard age ceiling for serving a cached
	// snapshot before the engine transitions to Degraded.
	StaleCeilingSeconds int `yaml:"stale_ceiling_seconds" env:"FALLBACK_STALE_CEILING_SECONDS" env-default:"3600"`
	// SchemaPath optionally points to a YAML file with a minimal built-in
	// schema served when no cached snapshot exists at all.
	SchemaPath string `yaml:"schema_path" env:"FALLBACK_SCHEMA_PATH" env-default:""`
}

// DatasourceConfig identifies the relational store to discover.
type DatasourceConfig struct {
	Type     string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DATASOURCE_USER" env-default:""`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE" env-default:""`
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSLMODE" env-default:"disable"`
}

// Map converts the datasource block into the generic adapter config map.
func (d *DatasourceConfig) Map() map[string]any {
	return map[string]any{
		"host":     d.Host,
		"port":     d.Port,
		"user":     d.User,
		"password": d.Password,
		"database": d.Database,
		"ssl_mode": d.SSLMode,
	}
}

// StoreConfig holds the learned-mapping store database settings.
type StoreConfig struct {
	Host           string `yaml:"host" env:"STORE_PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"STORE_PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"STORE_PGUSER" env-default:"schemalens"`
	Password       string `yaml:"-" env:"STORE_PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"STORE_PGDATABASE" env-default:"schemalens"`
	SSLMode        string `yaml:"ssl_mode" env:"STORE_PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"STORE_PGMAX_CONNECTIONS" env-default:"10"`
	MigrationsPath string `yaml:"migrations_path" env:"STORE_MIGRATIONS_PATH" env-default:"migrations"`
}

// Enabled reports whether a persistent store is configured.
func (s *StoreConfig) Enabled() bool {
	return s.Host != ""
}

// URL builds the pgx connection string for the store database.
func (s *StoreConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Database, s.SSLMode)
}

// Load reads configuration from path with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		// No config file - environment variables and defaults only.
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every tunable for sane ranges.
func (c *Config) Validate() error {
	return c.Options().Validate()
}

// Options extracts the hot-reloadable tunables from the full config.
func (c *Config) Options() Options {
	return Options{
		TTL:                 time.Duration(c.Cache.TTLSeconds) * time.Second,
		SimilarityThreshold: c.Mapper.SimilarityThreshold,
		MaxSuggestions:      c.Mapper.MaxSuggestions,
		DiscoveryTimeout:    time.Duration(c.Discovery.TimeoutSeconds) * time.Second,
		StaleCeiling:        time.Duration(c.Fallback.StaleCeilingSeconds) * time.Second,
	}
}
