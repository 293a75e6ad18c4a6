// Package dashboard consumes the collector's monitoring API: the one-shot
// summary and the live metrics stream. The stream reconnects after a fixed
// delay for as long as the context lives; there is no retry cap.
package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/avivas33/portal-telemetry/internal/eventstore"
	"github.com/avivas33/portal-telemetry/internal/httpclient"
)

const (
	liveMetricsPath = "/api/metrics/live"
	summaryPath     = "/api/dashboard/summary"
)

type LiveClient struct {
	baseURL    string
	api        *httpclient.Client
	http       *http.Client
	retryDelay time.Duration
}

func NewLiveClient(baseURL string, retryDelay time.Duration) *LiveClient {
	if retryDelay <= 0 {
		retryDelay = 3 * time.Second
	}
	return &LiveClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		api:        httpclient.New(baseURL, httpclient.DefaultTimeout),
		http:       &http.Client{}, // no timeout: the stream is long-lived
		retryDelay: retryDelay,
	}
}

// Summary fetches the current dashboard aggregates.
func (c *LiveClient) Summary(ctx context.Context) (eventstore.Summary, error) {
	var summary eventstore.Summary
	err := c.api.Get(ctx, summaryPath, nil, &summary)
	return summary, err
}

// Stream delivers each pushed metrics snapshot to fn. On any stream error it
// waits the retry delay and reconnects; it returns only when ctx is done.
func (c *LiveClient) Stream(ctx context.Context, fn func(eventstore.Summary)) {
	for {
		if err := c.streamOnce(ctx, fn); err != nil && ctx.Err() == nil {
			log.Printf("dashboard: metrics stream dropped, reconnecting: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *LiveClient) streamOnce(ctx context.Context, fn func(eventstore.Summary)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+liveMetricsPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error! status: %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case line == "":
			if data.Len() > 0 {
				var summary eventstore.Summary
				if err := json.Unmarshal([]byte(data.String()), &summary); err != nil {
					log.Printf("dashboard: discarding malformed metrics event: %v", err)
				} else {
					fn(summary)
				}
				data.Reset()
			}
		}
	}
	return scanner.Err()
}
