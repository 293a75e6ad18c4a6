// Package collector is the ingest side of the telemetry pipeline: it accepts
// enriched activity events from agents, stores them, and serves the
// fraud-monitoring dashboard (summary, CSV export, live metrics stream).
package collector

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/avivas33/portal-telemetry/internal/activity"
	"github.com/avivas33/portal-telemetry/internal/eventstore"
)

type Config struct {
	// IngestRate and IngestBurst parameterize the token bucket guarding the
	// ingest endpoints.
	IngestRate  float64
	IngestBurst int
	// MetricsInterval is the push cadence of the live metrics stream.
	MetricsInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.IngestRate <= 0 {
		c.IngestRate = 200
	}
	if c.IngestBurst <= 0 {
		c.IngestBurst = 400
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 5 * time.Second
	}
}

type Server struct {
	store   *eventstore.Store
	address string
	cfg     Config
	limiter *rate.Limiter
	server  *http.Server
}

func NewServer(store *eventstore.Store, address string, cfg Config) *Server {
	cfg.applyDefaults()
	return &Server{
		store:   store,
		address: address,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.IngestRate), cfg.IngestBurst),
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleEvent(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	var event activity.Event
	if err := json.NewDecoder(request.Body).Decode(&event); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if err := eventstore.ValidateEvent(event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.store.InsertEvents([]activity.Event{event}); err != nil {
		log.Printf("Database error: %v", err)
		http.Error(w, "Failed to store event", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	Events []activity.Event `json:"events"`
}

// handleEventBatch covers the agent's unload drain, which posts whatever was
// still buffered when the process went away.
func (s *Server) handleEventBatch(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	var batch batchRequest
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if _, err := s.store.InsertEvents(batch.Events); err != nil {
		log.Printf("Database error: %v", err)
		http.Error(w, "Failed to store events", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type summaryResponse struct {
	eventstore.Summary
	TotalDisplay        string `json:"totalDisplay"`
	LastReceivedDisplay string `json:"lastReceivedDisplay"`
}

func (s *Server) handleSummary(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.store.Summarize()
	if err != nil {
		log.Printf("Database error: %v", err)
		http.Error(w, "Failed to summarize events", http.StatusInternalServerError)
		return
	}
	resp := summaryResponse{
		Summary:      summary,
		TotalDisplay: humanize.Comma(summary.Total),
	}
	if summary.LastReceivedMS > 0 {
		resp.LastReceivedDisplay = humanize.Time(time.UnixMilli(summary.LastReceivedMS))
	} else {
		resp.LastReceivedDisplay = "never"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleExport(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="activity-events.csv"`)
	if err := s.store.ExportCSV(w); err != nil {
		log.Printf("Export error: %v", err)
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/events", s.handleEvent)
	mux.HandleFunc("/api/events/batch", s.handleEventBatch)
	mux.HandleFunc("/api/metrics/live", s.handleLiveMetrics)
	mux.HandleFunc("/api/dashboard/summary", s.handleSummary)
	mux.HandleFunc("/api/dashboard/export", s.handleExport)
	return mux
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) Start() error {
	mux := s.setupRoutes()
	s.server = &http.Server{
		Addr:        s.address,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		// No write timeout: the live metrics stream is long-lived.
	}

	// Graceful shutdown
	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Telemetry collector listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	<-shutdownChannel
	log.Println("Shutting down server...")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
	return nil
}
