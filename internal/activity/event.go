// Package activity implements the client-side telemetry pipeline: semantic
// events are enriched with the session id and device signature, then either
// sent immediately (payment events) or buffered and flushed in batches.
package activity

import (
	"time"

	"github.com/avivas33/portal-telemetry/internal/fingerprint"
)

type Type string

const (
	TypeSessionStart   Type = "session_start"
	TypeSessionEnd     Type = "session_end"
	TypePageView       Type = "page_view"
	TypeCheckoutStart  Type = "checkout_start"
	TypePaymentAttempt Type = "payment_attempt"
	TypePaymentSuccess Type = "payment_success"
	TypePaymentFailed  Type = "payment_failed"
)

// Critical reports whether events of this type bypass the buffer and are
// sent immediately and individually.
func (t Type) Critical() bool {
	switch t {
	case TypePaymentAttempt, TypePaymentSuccess, TypePaymentFailed:
		return true
	}
	return false
}

// Event is one semantic activity record. The vocabulary is open-ended: any
// type outside the constants above is buffered like page_view.
type Event struct {
	Type          Type                   `json:"eventType"`
	ClientID      string                 `json:"clientId,omitempty"`
	SessionID     string                 `json:"sessionId"`
	Timestamp     time.Time              `json:"timestamp"`
	PaymentMethod string                 `json:"paymentMethod,omitempty"`
	Amount        float64                `json:"amount,omitempty"`
	Currency      string                 `json:"currency,omitempty"`
	PaymentStatus string                 `json:"paymentStatus,omitempty"`
	ErrorCode     string                 `json:"errorCode,omitempty"`
	Additional    map[string]any         `json:"additionalData,omitempty"`
	Device        *fingerprint.Signature `json:"deviceInfo,omitempty"`
}
