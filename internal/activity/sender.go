package activity

import (
	"context"

	"github.com/avivas33/portal-telemetry/internal/httpclient"
)

// EventsPath is the collector's single-event ingest endpoint.
const EventsPath = "/api/events"

// HTTPSender posts one event per request to the collector.
type HTTPSender struct {
	client *httpclient.Client
}

func NewHTTPSender(client *httpclient.Client) *HTTPSender {
	return &HTTPSender{client: client}
}

func (s *HTTPSender) Send(ctx context.Context, ev Event) error {
	return s.client.Post(ctx, EventsPath, ev, nil)
}
