package events

import "time"

type Type string

const (
	PaymentPending   Type = "PAYMENT_PENDING"
	PaymentSuccess   Type = "PAYMENT_SUCCESS"
	PaymentFailed    Type = "PAYMENT_FAILED"
	PaymentCancelled Type = "PAYMENT_CANCELLED"
)

// Event is one payment state change as seen by real-time subscribers and
// the integration bus. OrderID scopes delivery; the rest is payload.
type Event struct {
	Type          Type      `json:"-"`
	OrderID       string    `json:"order_id"`
	PaymentID     string    `json:"payment_id"`
	Amount        int64     `json:"amount"`
	OrderCode     int64     `json:"order_code,omitempty"`
	PaymentURL    string    `json:"payment_url,omitempty"`
	QRCode        string    `json:"qr_code,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
