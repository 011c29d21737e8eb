package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match/sorting"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
)

// Config holds the search orchestrator configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Search   SearchConfig   `yaml:"search"`
	Shards   ShardsConfig   `yaml:"shards"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
	// AllowedShards restricts an API key to the listed shard ids (decimal or
	// 0x-hex). Keys without an entry may search every shard.
	AllowedShards map[string][]string `yaml:"allowed_shards"`
}

// ShardAllowList returns AllowedShards with parsed shard ids. Call it on a
// validated config.
func (a AuthConfig) ShardAllowList() map[string][]shard.ID {
	out := make(map[string][]shard.ID, len(a.AllowedShards))
	for key, ids := range a.AllowedShards {
		for _, raw := range ids {
			if id, err := shard.Parse(raw); err == nil {
				out[key] = append(out[key], id)
			}
		}
	}
	return out
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// SearchConfig holds request defaults and dispatch limits.
type SearchConfig struct {
	DefaultSorting      string `yaml:"default_sorting"` // confidence, distance, alphabetical
	DefaultHits         int    `yaml:"default_hits"`
	NbrSortedHits       int    `yaml:"nbr_sorted_hits"` // 0 = sort everything
	UniqueOrFull        bool   `yaml:"unique_or_full"`
	RequestTimeoutMs    int    `yaml:"request_timeout_ms"`
	DispatchConcurrency int    `yaml:"dispatch_concurrency"`
}

// ShardsConfig holds the addresses of the shard services.
type ShardsConfig struct {
	SearchURL string `yaml:"search_url"`
	MapURL    string `yaml:"map_url"`
	// Overrides route single shards, keyed by decimal or 0x-hex shard id,
	// to their own search service.
	Overrides     map[string]string `yaml:"overrides"`
	RateLimit     float64           `yaml:"rate_limit"` // requests/sec per service, 0 = unlimited
	Burst         int               `yaml:"burst"`
	HTTPTimeoutMs int               `yaml:"http_timeout_ms"`
}

// CacheConfig holds answer cache and catalog settings.
type CacheConfig struct {
	AnswerTTLSec      int    `yaml:"answer_ttl_sec"` // 0 = disabled
	TopRegionKey      string `yaml:"top_region_key"`
	CatalogRefreshSec int    `yaml:"catalog_refresh_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Search.DefaultSorting == "" {
		c.Search.DefaultSorting = "confidence"
	}
	if c.Search.DefaultHits <= 0 {
		c.Search.DefaultHits = 20
	}
	if c.Search.RequestTimeoutMs <= 0 {
		c.Search.RequestTimeoutMs = 5000
	}
	if c.Search.DispatchConcurrency <= 0 {
		c.Search.DispatchConcurrency = 16
	}
	if c.Shards.Burst <= 0 {
		c.Shards.Burst = 50
	}
	if c.Shards.HTTPTimeoutMs <= 0 {
		c.Shards.HTTPTimeoutMs = 2000
	}
	if c.Cache.CatalogRefreshSec <= 0 {
		c.Cache.CatalogRefreshSec = 30
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "valkey", "redis":
	default:
		return fmt.Errorf("database.driver must be \"valkey\" or \"redis\", got %q", c.Database.Driver)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	for key, ids := range c.Auth.AllowedShards {
		if !slices.Contains(c.Auth.APIKeys, key) {
			return fmt.Errorf("auth.allowed_shards: key %q is not in auth.api_keys", key)
		}
		if len(ids) == 0 {
			return fmt.Errorf("auth.allowed_shards: empty shard list for key %q", key)
		}
		for _, raw := range ids {
			if _, err := shard.Parse(raw); err != nil {
				return fmt.Errorf("auth.allowed_shards: %w", err)
			}
		}
	}
	if _, err := sorting.ParsePolicy(c.Search.DefaultSorting); err != nil {
		return fmt.Errorf("search.default_sorting: %w", err)
	}
	if c.Search.NbrSortedHits < 0 {
		return fmt.Errorf("search.nbr_sorted_hits must not be negative, got %d", c.Search.NbrSortedHits)
	}
	if c.Shards.SearchURL == "" {
		return fmt.Errorf("shards.search_url is required")
	}
	if c.Shards.MapURL == "" {
		return fmt.Errorf("shards.map_url is required")
	}
	for key := range c.Shards.Overrides {
		if _, err := shard.Parse(key); err != nil {
			return fmt.Errorf("shards.overrides: %w", err)
		}
	}
	if c.Shards.RateLimit < 0 {
		return fmt.Errorf("shards.rate_limit must not be negative, got %g", c.Shards.RateLimit)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
