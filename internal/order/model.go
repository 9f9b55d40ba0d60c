package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusConfirmed      Status = "CONFIRMED"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusRejected       Status = "REJECTED"
	StatusRefund         Status = "REFUND"
)

// Order is owned by the ERP core; the payment subsystem only reads it and
// moves it along the PENDING -> PENDING_PAYMENT -> PAID edge.
type Order struct {
	ID        uuid.UUID `json:"id"`
	Status    Status    `json:"status"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
