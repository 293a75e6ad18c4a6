package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avivas33/portal-telemetry/internal/eventstore"
)

func TestStreamParsesEventsAndReconnects(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("event: metrics\ndata: {\"total\": 7}\n\n"))
		flusher.Flush()
		// Drop the connection to force a client reconnect.
	}))
	defer server.Close()

	client := NewLiveClient(server.URL, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received atomic.Int32
	done := make(chan struct{})
	go func() {
		client.Stream(ctx, func(s eventstore.Summary) {
			if s.Total == 7 {
				received.Add(1)
			}
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if received.Load() >= 2 && connections.Load() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if received.Load() < 2 {
		t.Errorf("snapshots received = %d, want at least 2 across reconnects", received.Load())
	}
	if connections.Load() < 2 {
		t.Errorf("connections = %d, want at least 2 (reconnect after drop)", connections.Load())
	}
}

func TestSummaryFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/dashboard/summary" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total": 12, "sessions": 3, "byType": {"page_view": 12}}`))
	}))
	defer server.Close()

	client := NewLiveClient(server.URL, time.Second)
	summary, err := client.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Total != 12 || summary.Sessions != 3 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.ByType["page_view"] != 12 {
		t.Errorf("byType = %v", summary.ByType)
	}
}
