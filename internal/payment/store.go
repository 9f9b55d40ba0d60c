package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/lechieutung2003/cleanzy-app/internal/order"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrActivePaymentExists = errors.New("order already has an active payment")
)

// Transition is the outcome of a state-changing store operation. It carries
// the prior and new status so the caller decides whether and what to publish;
// event emission is never a hidden side effect of persistence.
type Transition struct {
	Payment *Payment
	From    Status
	To      Status
	Changed bool
}

// LinkArtifacts are the gateway outputs attached to a payment once the
// payment link was created.
type LinkArtifacts struct {
	PaymentURL    string
	QRCode        string
	AccountNumber string
	AccountName   string
}

// Store owns Payment rows and their transition invariants. MarkPaid and
// MarkCancelled are idempotent: re-applying a transition to a payment that
// already reached a terminal state is a no-op (Changed=false), never an
// error. That property is what makes the webhook and reconciliation paths
// safe to race without locks.
type Store interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	OrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	SetOrderStatus(ctx context.Context, id uuid.UUID, status order.Status) error

	CreatePayment(ctx context.Context, p *Payment) error
	PaymentByOrderCode(ctx context.Context, orderCode int64) (*Payment, error)
	// ActivePaymentForOrder returns the non-terminal payment for an order,
	// or ErrPaymentNotFound when there is none.
	ActivePaymentForOrder(ctx context.Context, orderID uuid.UUID) (*Payment, error)
	AttachLink(ctx context.Context, paymentID uuid.UUID, link LinkArtifacts) error

	// MarkPaid moves the payment to PAID, sets paid_at, records the gateway
	// transaction id and the raw notification, and advances the owning order
	// from PENDING_PAYMENT to PAID. Payment and order writes are one atomic
	// unit.
	MarkPaid(ctx context.Context, orderCode int64, transactionID string, rawPayload []byte) (*Transition, error)
	MarkCancelled(ctx context.Context, orderCode int64, reason string) (*Transition, error)

	// RollbackCreation removes an orphaned payment whose gateway link could
	// not be created and resets the owning order to PENDING.
	RollbackCreation(ctx context.Context, paymentID uuid.UUID) error
}
