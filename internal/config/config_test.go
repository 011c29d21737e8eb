package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Shards:   ShardsConfig{SearchURL: "http://search:8090", MapURL: "http://map:8091"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = 0 }},
		{"missing addrs", func(c *Config) { c.Database.Addrs = nil }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "memcached" }},
		{"unknown sorting", func(c *Config) { c.Search.DefaultSorting = "random" }},
		{"negative sorted hits", func(c *Config) { c.Search.NbrSortedHits = -1 }},
		{"missing search url", func(c *Config) { c.Shards.SearchURL = "" }},
		{"missing map url", func(c *Config) { c.Shards.MapURL = "" }},
		{"bad override key", func(c *Config) { c.Shards.Overrides = map[string]string{"lund": "http://x"} }},
		{"negative rate limit", func(c *Config) { c.Shards.RateLimit = -1 }},
		{"allowed shards for unknown key", func(c *Config) {
			c.Auth.AllowedShards = map[string][]string{"nobody": {"1"}}
		}},
		{"empty allowed shards", func(c *Config) {
			c.Auth.APIKeys = []string{"k1"}
			c.Auth.AllowedShards = map[string][]string{"k1": {}}
		}},
		{"bad allowed shard", func(c *Config) {
			c.Auth.APIKeys = []string{"k1"}
			c.Auth.AllowedShards = map[string][]string{"k1": {"malmo"}}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate_HexOverrideKey(t *testing.T) {
	cfg := validConfig()
	cfg.Shards.Overrides = map[string]string{"0x80000001": "http://overview:8090", "12": "http://se:8090"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuth_ShardAllowList(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.APIKeys = []string{"partner", "internal"}
	cfg.Auth.AllowedShards = map[string][]string{"partner": {"1", "0x80000001"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := cfg.Auth.ShardAllowList()
	if len(got) != 1 {
		t.Fatalf("allow list has %d keys, want 1", len(got))
	}
	ids := got["partner"]
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 0x80000001 {
		t.Errorf("partner shards = %v", ids)
	}
	if _, ok := got["internal"]; ok {
		t.Error("keys without an entry must stay unrestricted")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Database.Driver != "valkey" {
		t.Errorf("expected Driver=valkey, got %q", cfg.Database.Driver)
	}
	if cfg.Database.ReadinessTimeout != 10 {
		t.Errorf("expected ReadinessTimeout=10, got %d", cfg.Database.ReadinessTimeout)
	}
	if cfg.Search.DefaultSorting != "confidence" {
		t.Errorf("expected DefaultSorting=confidence, got %q", cfg.Search.DefaultSorting)
	}
	if cfg.Search.RequestTimeoutMs != 5000 {
		t.Errorf("expected RequestTimeoutMs=5000, got %d", cfg.Search.RequestTimeoutMs)
	}
	if cfg.Search.DispatchConcurrency != 16 {
		t.Errorf("expected DispatchConcurrency=16, got %d", cfg.Search.DispatchConcurrency)
	}
	if cfg.Shards.HTTPTimeoutMs != 2000 {
		t.Errorf("expected HTTPTimeoutMs=2000, got %d", cfg.Shards.HTTPTimeoutMs)
	}
	if cfg.Cache.AnswerTTLSec != 0 {
		t.Errorf("expected answer cache disabled by default, got %d", cfg.Cache.AnswerTTLSec)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Database: DatabaseConfig{Driver: "redis", ReadinessTimeout: 15},
		Search:   SearchConfig{DefaultSorting: "distance", DispatchConcurrency: 4},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Database.Driver != "redis" {
		t.Errorf("expected Driver=redis, got %q", cfg.Database.Driver)
	}
	if cfg.Search.DefaultSorting != "distance" {
		t.Errorf("expected DefaultSorting=distance, got %q", cfg.Search.DefaultSorting)
	}
	if cfg.Search.DispatchConcurrency != 4 {
		t.Errorf("expected DispatchConcurrency=4, got %d", cfg.Search.DispatchConcurrency)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("WAYFINDER_TEST_PORT", "9000")

	got := string(expandEnvVars([]byte("port: ${WAYFINDER_TEST_PORT}\nurl: ${WAYFINDER_TEST_UNSET:-http://map:8091}")))
	want := "port: 9000\nurl: http://map:8091"
	if got != want {
		t.Errorf("expandEnvVars = %q, want %q", got, want)
	}
}

func TestLoad_FromConfigDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := `
http:
  port: 8080
database:
  addrs: ["localhost:6379"]
shards:
  search_url: http://search:8090
  map_url: ${WAYFINDER_TEST_MAP:-http://map:8091}
search:
  default_sorting: distance
cache:
  answer_ttl_sec: 60
`
	if err := os.WriteFile(filepath.Join(dir, "config", "unittest.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load("unittest")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shards.MapURL != "http://map:8091" {
		t.Errorf("MapURL = %q", cfg.Shards.MapURL)
	}
	if cfg.Search.DefaultSorting != "distance" || cfg.Cache.AnswerTTLSec != 60 {
		t.Errorf("unexpected search/cache config: %+v %+v", cfg.Search, cfg.Cache)
	}
	if cfg.Database.Driver != "valkey" {
		t.Errorf("expected default driver, got %q", cfg.Database.Driver)
	}
}
