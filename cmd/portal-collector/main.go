package main

import (
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/avivas33/portal-telemetry/internal/collector"
	"github.com/avivas33/portal-telemetry/internal/config"
	"github.com/avivas33/portal-telemetry/internal/eventstore"
)

func main() {
	cfg, err := config.LoadCollector(os.Getenv("PORTAL_COLLECTOR_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	databasePath := cfg.DatabasePath
	if databasePath == "" {
		// app data dir: platform-specific
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			log.Fatal("Failed to get user home directory:", err)
		}

		var applicationDirectory string
		switch runtime.GOOS {
		case "darwin":
			applicationDirectory = filepath.Join(homeDirectory, "Library", "Application Support", "PortalTelemetry")
		case "windows":
			applicationDirectory = filepath.Join(homeDirectory, "AppData", "Roaming", "PortalTelemetry")
		default: // linux and others
			applicationDirectory = filepath.Join(homeDirectory, ".local", "share", "PortalTelemetry")
		}
		if err := os.MkdirAll(applicationDirectory, 0o755); err != nil {
			log.Fatal("Failed to create application directory:", err)
		}
		databasePath = filepath.Join(applicationDirectory, "events.db")
	}

	store, err := eventstore.New(databasePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	srv := collector.NewServer(store, cfg.ListenAddress, collector.Config{
		IngestRate:      cfg.IngestRate,
		IngestBurst:     cfg.IngestBurst,
		MetricsInterval: cfg.MetricsInterval(),
	})
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}
