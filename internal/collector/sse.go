package collector

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

// handleLiveMetrics streams aggregate counters as Server-Sent Events. A
// fresh summary goes out immediately on connect and then on every interval
// tick until the client disconnects.
func (s *Server) handleLiveMetrics(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := s.writeMetricsEvent(w); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-request.Context().Done():
			return
		case <-ticker.C:
			if err := s.writeMetricsEvent(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeMetricsEvent(w http.ResponseWriter) error {
	summary, err := s.store.Summarize()
	if err != nil {
		log.Printf("Database error: %v", err)
		return err
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(formatSSEEvent("metrics", string(data))))
	return err
}

// formatSSEEvent frames one event, splitting multi-line data across data:
// lines as the protocol requires.
func formatSSEEvent(event, data string) string {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
