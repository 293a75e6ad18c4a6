package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avivas33/portal-telemetry/internal/activity"
	"github.com/avivas33/portal-telemetry/internal/cache"
	"github.com/avivas33/portal-telemetry/internal/config"
	"github.com/avivas33/portal-telemetry/internal/fingerprint"
	"github.com/avivas33/portal-telemetry/internal/gateway"
	"github.com/avivas33/portal-telemetry/internal/httpclient"
)

var version = "dev"

func main() {
	cfg, err := config.LoadAgent(os.Getenv("PORTAL_AGENT_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		log.Fatal("Invalid upstream URL:", err)
	}

	// Telemetry pipeline: one device signature and one session per process.
	device := fingerprint.NewCollector(fingerprint.HostProber{Version: version})
	sessionID := fingerprint.NewSessionID()
	sender := activity.NewHTTPSender(httpclient.New(cfg.CollectorURL, cfg.SendTimeout()))
	tracker := activity.NewTracker(activity.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		SendTimeout:   cfg.SendTimeout(),
		MaxAttempts:   cfg.MaxAttempts,
	}, sender, device, sessionID, cfg.ClientID, nil)

	var store cache.Store
	if cfg.RedisAddress != "" {
		store = cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddress}))
		log.Printf("Shell cache backed by redis at %s", cfg.RedisAddress)
	} else {
		store = cache.NewMemoryStore()
	}

	shell := gateway.New(gateway.Config{
		Upstream:  upstream,
		Version:   cfg.CacheVersion,
		Staged:    cfg.StagedVersion,
		Manifest:  cfg.Manifest,
		PassHosts: cfg.PassHosts,
	}, store)

	// Install and activate before taking traffic; both are best-effort.
	startupContext, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	shell.Precache(startupContext)
	shell.Activate(startupContext)
	cancelStartup()

	tracker.Track(activity.Event{Type: activity.TypeSessionStart})

	server := &http.Server{
		Addr:        cfg.ListenAddress,
		Handler:     shell,
		ReadTimeout: 10 * time.Second,
	}

	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Portal agent listening on %s (upstream %s)", cfg.ListenAddress, cfg.UpstreamURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	<-shutdownChannel
	log.Println("Shutting down agent...")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownContext); err != nil {
		log.Println("Server forced to shutdown:", err)
	}

	// Unload path: record the session end, then drain whatever is buffered.
	tracker.Track(activity.Event{Type: activity.TypeSessionEnd})
	tracker.Close(shutdownContext)

	log.Println("Agent exited")
}
