package eventstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avivas33/portal-telemetry/internal/activity"
	"github.com/avivas33/portal-telemetry/internal/fingerprint"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "portal-telemetry-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create test store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

func testEvent(typ activity.Type, session string) activity.Event {
	return activity.Event{
		Type:      typ,
		SessionID: session,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Device:    &fingerprint.Signature{Fingerprint: "abc123", Platform: "linux/amd64"},
	}
}

func TestValidateEvent(t *testing.T) {
	tests := []struct {
		name      string
		event     activity.Event
		wantError bool
	}{
		{
			name:      "valid page view",
			event:     testEvent(activity.TypePageView, "1700000000000-k9x2p"),
			wantError: false,
		},
		{
			name:      "open vocabulary type accepted",
			event:     testEvent(activity.Type("invoice_download"), "1700000000000-k9x2p"),
			wantError: false,
		},
		{
			name: "empty type",
			event: activity.Event{
				SessionID: "1700000000000-k9x2p",
				Timestamp: time.Now(),
			},
			wantError: true,
		},
		{
			name:      "uppercase type rejected",
			event:     testEvent(activity.Type("PageView"), "1700000000000-k9x2p"),
			wantError: true,
		},
		{
			name: "empty session",
			event: activity.Event{
				Type:      activity.TypePageView,
				Timestamp: time.Now(),
			},
			wantError: true,
		},
		{
			name: "missing timestamp",
			event: activity.Event{
				Type:      activity.TypePageView,
				SessionID: "1700000000000-k9x2p",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEvent(tt.event)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateEvent() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestInsertEventsAssignsIDs(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	events := []activity.Event{
		testEvent(activity.TypeSessionStart, "s-1"),
		testEvent(activity.TypePageView, "s-1"),
	}
	events[1].Additional = map[string]any{"page": "/clientes"}

	ids, err := store.InsertEvents(events)
	if err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
	if ids[0] == ids[1] {
		t.Error("ingest ids must be unique")
	}
}

func TestInsertEventsRejectsInvalidBatchAtomically(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	events := []activity.Event{
		testEvent(activity.TypePageView, "s-1"),
		{Type: "", SessionID: "s-1", Timestamp: time.Now()},
	}
	if _, err := store.InsertEvents(events); err == nil {
		t.Fatal("expected error for invalid event in batch")
	}

	summary, err := store.Summarize()
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("partial batch persisted: total = %d, want 0", summary.Total)
	}
}

func TestSummarize(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	events := []activity.Event{
		testEvent(activity.TypePageView, "s-1"),
		testEvent(activity.TypePageView, "s-2"),
		testEvent(activity.TypePaymentFailed, "s-2"),
	}
	events[2].PaymentMethod = "credit_card"
	events[2].Amount = 19.99
	events[2].Currency = "USD"
	events[2].ErrorCode = "card_declined"

	if _, err := store.InsertEvents(events); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	summary, err := store.Summarize()
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Total != 3 {
		t.Errorf("Total = %d, want 3", summary.Total)
	}
	if summary.ByType["page_view"] != 2 {
		t.Errorf("page_view count = %d, want 2", summary.ByType["page_view"])
	}
	if summary.PaymentFailed != 1 {
		t.Errorf("PaymentFailed = %d, want 1", summary.PaymentFailed)
	}
	if summary.Sessions != 2 {
		t.Errorf("Sessions = %d, want 2", summary.Sessions)
	}
	if summary.LastReceivedMS == 0 {
		t.Error("LastReceivedMS not set")
	}
}

func TestExportCSV(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ev := testEvent(activity.TypePaymentSuccess, "s-9")
	ev.ClientID = "CU-001"
	ev.PaymentMethod = "yappy"
	ev.Amount = 42.5
	ev.Currency = "USD"
	if _, err := store.InsertEvents([]activity.Event{ev}); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	var out strings.Builder
	if err := store.ExportCSV(&out); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("export has %d lines, want header plus 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,received_utc") {
		t.Errorf("header = %q", lines[0])
	}
	row := lines[1]
	for _, want := range []string{"payment_success", "CU-001", "yappy", "42.5", "USD", "abc123"} {
		if !strings.Contains(row, want) {
			t.Errorf("export row missing %q: %s", want, row)
		}
	}
}
