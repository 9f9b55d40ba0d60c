package payment

import (
	"time"

	"github.com/google/uuid"
)

type Method string

const (
	MethodCash         Method = "CASH"
	MethodBankTransfer Method = "BANK_TRANSFER"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further transition is accepted from s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Payment is one payment attempt against exactly one order. Several attempts
// may exist per order but at most one may be non-terminal in the bank
// transfer flow.
type Payment struct {
	ID      uuid.UUID `json:"id"`
	OrderID uuid.UUID `json:"order_id"`

	// OrderCode is the gateway correlation key, assigned only for
	// BANK_TRANSFER payments. Unique and immutable once set.
	OrderCode *int64 `json:"order_code,omitempty"`

	Amount int64  `json:"amount"`
	Method Method `json:"method"`
	Status Status `json:"status"`

	// Gateway artifacts, present only for BANK_TRANSFER.
	PaymentURL    string `json:"payment_url,omitempty"`
	QRCode        string `json:"qr_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountName   string `json:"account_name,omitempty"`

	TransactionID  string     `json:"transaction_id,omitempty"`
	Description    string     `json:"description,omitempty"`
	WebhookPayload []byte     `json:"-"`
	Notes          string     `json:"notes,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
