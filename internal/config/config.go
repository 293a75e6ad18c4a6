// Package config loads settings for the agent and collector binaries.
// Precedence, lowest to highest: built-in defaults, the optional YAML file,
// environment variables (a .env file is honored when present).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultManifest lists the application shell paths precached on install.
var DefaultManifest = []string{
	"/",
	"/clientes",
	"/clientes/recibo",
	"/clientes/checkout",
	"/manifest.json",
	"/favicon.ico",
}

// DefaultPassHosts are the third-party origins the gateway never intercepts:
// payment processors and captcha providers manage their own CORS and cookies.
var DefaultPassHosts = []string{
	"www.paypal.com",
	"api-m.paypal.com",
	"pagueloyappy.com",
	"www.google.com",
	"challenges.cloudflare.com",
}

type Agent struct {
	ListenAddress   string   `yaml:"listen_address"`
	UpstreamURL     string   `yaml:"upstream_url"`
	CollectorURL    string   `yaml:"collector_url"`
	ClientID        string   `yaml:"client_id"`
	CacheVersion    string   `yaml:"cache_version"`
	StagedVersion   string   `yaml:"staged_cache_version"`
	Manifest        []string `yaml:"precache_manifest"`
	PassHosts       []string `yaml:"passthrough_hosts"`
	RedisAddress    string   `yaml:"redis_address"`
	BatchSize       int      `yaml:"batch_size"`
	FlushIntervalMS int      `yaml:"flush_interval_ms"`
	SendTimeoutMS   int      `yaml:"send_timeout_ms"`
	MaxAttempts     int      `yaml:"max_attempts"`
}

func (a Agent) FlushInterval() time.Duration {
	return time.Duration(a.FlushIntervalMS) * time.Millisecond
}

func (a Agent) SendTimeout() time.Duration {
	return time.Duration(a.SendTimeoutMS) * time.Millisecond
}

func defaultAgent() Agent {
	return Agent{
		ListenAddress:   "127.0.0.1:8480",
		UpstreamURL:     "http://127.0.0.1:3000",
		CollectorURL:    "http://127.0.0.1:8481",
		CacheVersion:    "portal-v1",
		Manifest:        DefaultManifest,
		PassHosts:       DefaultPassHosts,
		BatchSize:       10,
		FlushIntervalMS: 5000,
		SendTimeoutMS:   10000,
		MaxAttempts:     5,
	}
}

// LoadAgent reads the agent configuration. path may be empty or point to a
// missing file; both fall back to defaults plus environment overrides.
func LoadAgent(path string) (Agent, error) {
	_ = godotenv.Load() // a .env is optional

	cfg := defaultAgent()
	if err := overlayYAML(path, &cfg); err != nil {
		return cfg, err
	}

	stringVar(&cfg.ListenAddress, "PORTAL_AGENT_ADDRESS")
	stringVar(&cfg.UpstreamURL, "PORTAL_UPSTREAM_URL")
	stringVar(&cfg.CollectorURL, "PORTAL_COLLECTOR_URL")
	stringVar(&cfg.ClientID, "PORTAL_CLIENT_ID")
	stringVar(&cfg.CacheVersion, "PORTAL_CACHE_VERSION")
	stringVar(&cfg.StagedVersion, "PORTAL_STAGED_CACHE_VERSION")
	stringVar(&cfg.RedisAddress, "PORTAL_REDIS_ADDRESS")
	intVar(&cfg.BatchSize, "PORTAL_BATCH_SIZE")
	intVar(&cfg.FlushIntervalMS, "PORTAL_FLUSH_INTERVAL_MS")
	intVar(&cfg.SendTimeoutMS, "PORTAL_SEND_TIMEOUT_MS")
	intVar(&cfg.MaxAttempts, "PORTAL_MAX_ATTEMPTS")
	return cfg, nil
}

type Collector struct {
	ListenAddress     string  `yaml:"listen_address"`
	DatabasePath      string  `yaml:"database_path"`
	IngestRate        float64 `yaml:"ingest_rate"`
	IngestBurst       int     `yaml:"ingest_burst"`
	MetricsIntervalMS int     `yaml:"metrics_interval_ms"`
}

func (c Collector) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalMS) * time.Millisecond
}

func defaultCollector() Collector {
	return Collector{
		ListenAddress:     "127.0.0.1:8481",
		IngestRate:        200,
		IngestBurst:       400,
		MetricsIntervalMS: 5000,
	}
}

func LoadCollector(path string) (Collector, error) {
	_ = godotenv.Load()

	cfg := defaultCollector()
	if err := overlayYAML(path, &cfg); err != nil {
		return cfg, err
	}

	stringVar(&cfg.ListenAddress, "PORTAL_COLLECTOR_ADDRESS")
	stringVar(&cfg.DatabasePath, "PORTAL_COLLECTOR_DB")
	intVar(&cfg.IngestBurst, "PORTAL_INGEST_BURST")
	intVar(&cfg.MetricsIntervalMS, "PORTAL_METRICS_INTERVAL_MS")
	if v := os.Getenv("PORTAL_INGEST_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid PORTAL_INGEST_RATE: %w", err)
		}
		cfg.IngestRate = rate
	}
	return cfg, nil
}

func overlayYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func stringVar(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
