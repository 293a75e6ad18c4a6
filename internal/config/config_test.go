package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAgentDefaults(t *testing.T) {
	cfg, err := LoadAgent("")
	if err != nil {
		t.Fatalf("LoadAgent failed: %v", err)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
	if cfg.FlushIntervalMS != 5000 {
		t.Errorf("FlushIntervalMS = %d, want 5000", cfg.FlushIntervalMS)
	}
	if len(cfg.Manifest) == 0 || cfg.Manifest[0] != "/" {
		t.Errorf("Manifest = %v, want the shell manifest", cfg.Manifest)
	}
	if len(cfg.PassHosts) == 0 {
		t.Error("PassHosts must default to the payment/captcha allow-list")
	}
}

func TestLoadAgentYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
listen_address: "0.0.0.0:9000"
batch_size: 25
precache_manifest:
  - "/"
  - "/facturas"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAgent(path)
	if err != nil {
		t.Fatalf("LoadAgent failed: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.BatchSize)
	}
	if len(cfg.Manifest) != 2 || cfg.Manifest[1] != "/facturas" {
		t.Errorf("Manifest = %v", cfg.Manifest)
	}
	// Untouched keys keep their defaults.
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", cfg.MaxAttempts)
	}
}

func TestLoadAgentEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte("batch_size: 25\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORTAL_BATCH_SIZE", "50")
	t.Setenv("PORTAL_CLIENT_ID", "CU-777")

	cfg, err := LoadAgent(path)
	if err != nil {
		t.Fatalf("LoadAgent failed: %v", err)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, env must win over yaml", cfg.BatchSize)
	}
	if cfg.ClientID != "CU-777" {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
}

func TestLoadAgentMissingFileIsFine(t *testing.T) {
	if _, err := LoadAgent(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
}

func TestLoadCollector(t *testing.T) {
	t.Setenv("PORTAL_COLLECTOR_ADDRESS", "127.0.0.1:9999")
	t.Setenv("PORTAL_INGEST_RATE", "50.5")

	cfg, err := LoadCollector("")
	if err != nil {
		t.Fatalf("LoadCollector failed: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9999" {
		t.Errorf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.IngestRate != 50.5 {
		t.Errorf("IngestRate = %v", cfg.IngestRate)
	}
	if cfg.IngestBurst != 400 {
		t.Errorf("IngestBurst = %d, want default", cfg.IngestBurst)
	}
}

func TestLoadCollectorBadRate(t *testing.T) {
	t.Setenv("PORTAL_INGEST_RATE", "not-a-number")
	if _, err := LoadCollector(""); err == nil {
		t.Fatal("expected error for malformed rate")
	}
}
