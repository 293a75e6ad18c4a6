// Package eventstore persists enriched activity events for the dashboard.
package eventstore

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/avivas33/portal-telemetry/internal/activity"
)

type Store struct {
	db *sql.DB
}

func New(databasePath string) (*Store, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS activity_events(
	  id             TEXT    PRIMARY KEY,
	  received_utc   INTEGER NOT NULL,
	  ts_utc         INTEGER NOT NULL,
	  event_type     TEXT    NOT NULL,
	  client_id      TEXT,
	  session_id     TEXT    NOT NULL,
	  payment_method TEXT,
	  amount         REAL,
	  currency       TEXT,
	  payment_status TEXT,
	  error_code     TEXT,
	  fingerprint    TEXT,
	  device_json    TEXT    CHECK (device_json IS NULL OR json_valid(device_json)),
	  extra_json     TEXT    NOT NULL CHECK (json_valid(extra_json))
	);
	CREATE INDEX IF NOT EXISTS idx_activity_ts      ON activity_events(received_utc);
	CREATE INDEX IF NOT EXISTS idx_activity_type    ON activity_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_activity_session ON activity_events(session_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Event types are an open vocabulary, so validation checks shape, not
// membership in a fixed list.
var eventTypePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

func ValidateEvent(event activity.Event) error {
	if event.Type == "" {
		return fmt.Errorf("eventType cannot be empty")
	}
	if !eventTypePattern.MatchString(string(event.Type)) {
		return fmt.Errorf("invalid event type: %s", event.Type)
	}
	if event.SessionID == "" {
		return fmt.Errorf("sessionId cannot be empty")
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be empty")
	}
	return nil
}

// InsertEvents stores a batch in one transaction, assigning each event an
// ingest id. Either the whole batch lands or none of it does.
func (s *Store) InsertEvents(events []activity.Event) ([]string, error) {
	transaction, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.Prepare(`INSERT INTO activity_events(
		id, received_utc, ts_utc, event_type, client_id, session_id,
		payment_method, amount, currency, payment_status, error_code,
		fingerprint, device_json, extra_json)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,json(?),json(?))`)
	if err != nil {
		_ = transaction.Rollback()
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	now := time.Now().UTC().UnixMilli()
	ids := make([]string, 0, len(events))
	for _, event := range events {
		if err := ValidateEvent(event); err != nil {
			_ = transaction.Rollback()
			return nil, fmt.Errorf("invalid event: %w", err)
		}

		var fingerprintValue string
		var deviceJSON any
		if event.Device != nil {
			fingerprintValue = event.Device.Fingerprint
			encoded, err := json.Marshal(event.Device)
			if err != nil {
				_ = transaction.Rollback()
				return nil, fmt.Errorf("failed to marshal device info: %w", err)
			}
			deviceJSON = string(encoded)
		}
		extra := event.Additional
		if extra == nil {
			extra = map[string]any{}
		}
		extraJSON, err := json.Marshal(extra)
		if err != nil {
			_ = transaction.Rollback()
			return nil, fmt.Errorf("failed to marshal event data: %w", err)
		}

		id := uuid.NewString()
		if _, err := statement.Exec(
			id, now, event.Timestamp.UnixMilli(), string(event.Type),
			nullable(event.ClientID), event.SessionID,
			nullable(event.PaymentMethod), nullableFloat(event.Amount),
			nullable(event.Currency), nullable(event.PaymentStatus),
			nullable(event.ErrorCode), nullable(fingerprintValue),
			deviceJSON, string(extraJSON),
		); err != nil {
			_ = transaction.Rollback()
			return nil, fmt.Errorf("failed to execute statement: %w", err)
		}
		ids = append(ids, id)
	}
	if err := transaction.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

// Summary aggregates the stored events for the dashboard and the live
// metrics stream.
type Summary struct {
	Total          int64            `json:"total"`
	ByType         map[string]int64 `json:"byType"`
	Sessions       int64            `json:"sessions"`
	PaymentFailed  int64            `json:"paymentFailed"`
	LastReceivedMS int64            `json:"lastReceivedMs"`
}

func (s *Store) Summarize() (Summary, error) {
	summary := Summary{ByType: map[string]int64{}}

	rows, err := s.db.Query(`SELECT event_type, COUNT(*) FROM activity_events GROUP BY event_type`)
	if err != nil {
		return summary, fmt.Errorf("failed to aggregate events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return summary, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		summary.ByType[eventType] = count
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("failed to read aggregate rows: %w", err)
	}
	summary.PaymentFailed = summary.ByType[string(activity.TypePaymentFailed)]

	row := s.db.QueryRow(`SELECT COUNT(DISTINCT session_id), COALESCE(MAX(received_utc), 0) FROM activity_events`)
	if err := row.Scan(&summary.Sessions, &summary.LastReceivedMS); err != nil {
		return summary, fmt.Errorf("failed to scan session aggregate: %w", err)
	}
	return summary, nil
}

// ExportCSV streams every stored event, oldest first.
func (s *Store) ExportCSV(w io.Writer) error {
	rows, err := s.db.Query(`SELECT id, received_utc, ts_utc, event_type,
		COALESCE(client_id, ''), session_id, COALESCE(payment_method, ''),
		COALESCE(amount, 0), COALESCE(currency, ''), COALESCE(payment_status, ''),
		COALESCE(error_code, ''), COALESCE(fingerprint, '')
		FROM activity_events ORDER BY received_utc, id`)
	if err != nil {
		return fmt.Errorf("failed to query events for export: %w", err)
	}
	defer rows.Close()

	writer := csv.NewWriter(w)
	header := []string{"id", "received_utc", "ts_utc", "event_type", "client_id",
		"session_id", "payment_method", "amount", "currency", "payment_status",
		"error_code", "fingerprint"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}

	for rows.Next() {
		var id, eventType, clientID, sessionID, method, currency, status, errorCode, fp string
		var receivedUTC, tsUTC int64
		var amount float64
		if err := rows.Scan(&id, &receivedUTC, &tsUTC, &eventType, &clientID,
			&sessionID, &method, &amount, &currency, &status, &errorCode, &fp); err != nil {
			return fmt.Errorf("failed to scan export row: %w", err)
		}
		record := []string{
			id,
			strconv.FormatInt(receivedUTC, 10),
			strconv.FormatInt(tsUTC, 10),
			eventType, clientID, sessionID, method,
			strconv.FormatFloat(amount, 'f', -1, 64),
			currency, status, errorCode, fp,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write export row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read export rows: %w", err)
	}
	writer.Flush()
	return writer.Error()
}
