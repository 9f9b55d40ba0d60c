package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lechieutung2003/cleanzy-app/internal/events"
	"github.com/lechieutung2003/cleanzy-app/internal/order"
	"github.com/lechieutung2003/cleanzy-app/internal/payos"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// Gateway is the slice of the PayOS client the service depends on.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, req payos.LinkRequest) (*payos.PaymentLink, error)
	GetPaymentInfo(ctx context.Context, orderCode int64) (*payos.PaymentInfo, error)
	CancelPayment(ctx context.Context, orderCode int64, reason string) (*payos.PaymentInfo, error)
}

// Service drives the payment lifecycle: intake, webhook application,
// reconciliation and cancellation. The webhook and reconciliation paths are
// two producers converging on the same idempotent store transitions; neither
// holds a lock and the gateway's reported status always wins.
type Service struct {
	store     Store
	gateway   Gateway
	publisher events.Publisher
	logger    *slog.Logger

	returnURL string
	cancelURL string

	// newOrderCode is swappable in tests; defaults to unix milliseconds,
	// which is what the gateway correlates on.
	newOrderCode func() int64
}

func NewService(store Store, gateway Gateway, publisher events.Publisher, logger *slog.Logger, returnURL, cancelURL string) *Service {
	if publisher == nil {
		publisher = events.Nop{Logger: logger}
	}
	return &Service{
		store:        store,
		gateway:      gateway,
		publisher:    publisher,
		logger:       logger,
		returnURL:    returnURL,
		cancelURL:    cancelURL,
		newOrderCode: func() int64 { return time.Now().UnixMilli() },
	}
}

type CreateRequest struct {
	OrderID     uuid.UUID
	Amount      int64
	Description string
	Method      Method
	BuyerName   string
	BuyerEmail  string
	BuyerPhone  string
}

type CreateResult struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	PaymentURL    string    `json:"payment_url,omitempty"`
	QRCode        string    `json:"qr_code,omitempty"`
	OrderCode     int64     `json:"order_code,omitempty"`
	AccountNumber string    `json:"account_number,omitempty"`
	AccountName   string    `json:"account_name,omitempty"`
	Amount        int64     `json:"amount"`
	Description   string    `json:"description"`
}

// CreatePayment opens a payment attempt for an order. For BANK_TRANSFER it
// requests a payment link from the gateway; a failed or timed-out link
// creation rolls the freshly created record back so no orphaned PENDING
// payment survives without a usable link.
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Method == "" {
		req.Method = MethodBankTransfer
	}

	o, err := s.store.OrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if req.Method == MethodBankTransfer {
		if _, err := s.store.ActivePaymentForOrder(ctx, o.ID); err == nil {
			return nil, ErrActivePaymentExists
		} else if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:          uuid.New(),
		OrderID:     o.ID,
		Amount:      req.Amount,
		Method:      req.Method,
		Status:      StatusPending,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if req.Method == MethodCash {
		if err := s.store.CreatePayment(ctx, p); err != nil {
			return nil, err
		}
		return &CreateResult{
			PaymentID:   p.ID,
			Amount:      p.Amount,
			Description: p.Description,
		}, nil
	}

	orderCode := s.newOrderCode()
	p.OrderCode = &orderCode
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	if err := s.store.SetOrderStatus(ctx, o.ID, order.StatusPendingPayment); err != nil {
		return nil, err
	}

	link, err := s.gateway.CreatePaymentLink(ctx, payos.LinkRequest{
		OrderCode:   orderCode,
		Amount:      req.Amount,
		Description: fmt.Sprintf("DH%d", orderCode),
		ReturnURL:   s.returnURL,
		CancelURL:   s.cancelURL,
		BuyerName:   req.BuyerName,
		BuyerEmail:  req.BuyerEmail,
		BuyerPhone:  req.BuyerPhone,
	})
	if err != nil {
		s.logger.Error("create payment link failed, rolling back", "order_code", orderCode, "err", err)
		if rbErr := s.store.RollbackCreation(ctx, p.ID); rbErr != nil {
			s.logger.Error("rollback orphaned payment failed", "payment_id", p.ID, "err", rbErr)
		}
		s.publisher.Publish(ctx, events.Event{
			Type:      events.PaymentFailed,
			OrderID:   o.ID.String(),
			PaymentID: p.ID.String(),
			Amount:    req.Amount,
			Reason:    err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return nil, fmt.Errorf("create payment link: %w", err)
	}

	if err := s.store.AttachLink(ctx, p.ID, LinkArtifacts{
		PaymentURL:    link.CheckoutURL,
		QRCode:        link.QRCode,
		AccountNumber: link.AccountNumber,
		AccountName:   link.AccountName,
	}); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.Event{
		Type:       events.PaymentPending,
		OrderID:    o.ID.String(),
		PaymentID:  p.ID.String(),
		Amount:     req.Amount,
		OrderCode:  orderCode,
		PaymentURL: link.CheckoutURL,
		QRCode:     link.QRCode,
		Timestamp:  time.Now().UTC(),
	})

	return &CreateResult{
		PaymentID:     p.ID,
		PaymentURL:    link.CheckoutURL,
		QRCode:        link.QRCode,
		OrderCode:     orderCode,
		AccountNumber: link.AccountNumber,
		AccountName:   link.AccountName,
		Amount:        req.Amount,
		Description:   req.Description,
	}, nil
}

// ApplyNotification maps a verified gateway notification onto local state.
// Unknown order codes are absorbed (logged, not an error) so the gateway
// does not retry pointlessly; duplicate deliveries are no-ops by way of the
// store's idempotent transitions.
func (s *Service) ApplyNotification(ctx context.Context, env *payos.WebhookEnvelope) error {
	orderCode := env.Data.OrderCode

	switch env.Code {
	case payos.CodeSuccess:
		tr, err := s.store.MarkPaid(ctx, orderCode, env.TransactionID(), env.Raw())
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				s.logger.Warn("webhook for unknown order code", "order_code", orderCode)
				return nil
			}
			return err
		}
		s.publishTransition(ctx, tr)
	case payos.CodeCancelled:
		reason := env.Data.Desc
		if reason == "" {
			reason = "Cancelled by user"
		}
		tr, err := s.store.MarkCancelled(ctx, orderCode, reason)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				s.logger.Warn("webhook for unknown order code", "order_code", orderCode)
				return nil
			}
			return err
		}
		s.publishTransition(ctx, tr)
	default:
		s.logger.Info("webhook with unhandled code", "order_code", orderCode, "code", env.Code)
	}
	return nil
}

type StatusResult struct {
	Status       string              `json:"status"`
	Amount       int64               `json:"amount"`
	OrderCode    int64               `json:"order_code"`
	Transactions []payos.Transaction `json:"transactions"`
	Updated      bool                `json:"updated"`
}

// Reconcile polls the gateway for the authoritative status and applies the
// same idempotent transitions as the webhook path. Updated reports whether a
// local write actually happened, so polling callers can tell a repair from a
// no-op.
func (s *Service) Reconcile(ctx context.Context, orderCode int64) (*StatusResult, error) {
	info, err := s.gateway.GetPaymentInfo(ctx, orderCode)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Status:       info.Status,
		Amount:       info.Amount,
		OrderCode:    orderCode,
		Transactions: info.Transactions,
	}

	switch info.Status {
	case payos.StatusPaid:
		txID := ""
		if len(info.Transactions) > 0 {
			txID = info.Transactions[0].Reference
		}
		tr, err := s.store.MarkPaid(ctx, orderCode, txID, nil)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				s.logger.Warn("reconcile: no local payment for order code", "order_code", orderCode)
				return result, nil
			}
			return nil, err
		}
		result.Updated = tr.Changed
		s.publishTransition(ctx, tr)
	case payos.StatusCancelled:
		reason := info.CancellationReason
		if reason == "" {
			reason = "Cancelled"
		}
		tr, err := s.store.MarkCancelled(ctx, orderCode, reason)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				s.logger.Warn("reconcile: no local payment for order code", "order_code", orderCode)
				return result, nil
			}
			return nil, err
		}
		result.Updated = tr.Changed
		s.publishTransition(ctx, tr)
	}

	return result, nil
}

// Cancel asks the gateway to cancel an open payment request and applies the
// cancellation locally.
func (s *Service) Cancel(ctx context.Context, orderCode int64, reason string) error {
	if _, err := s.gateway.CancelPayment(ctx, orderCode, reason); err != nil {
		return err
	}

	tr, err := s.store.MarkCancelled(ctx, orderCode, reason)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			s.logger.Warn("cancel: no local payment for order code", "order_code", orderCode)
			return nil
		}
		return err
	}
	s.publishTransition(ctx, tr)
	return nil
}

// OrderStatus serves the real-time gateway's request_status messages from
// local state.
func (s *Service) OrderStatus(ctx context.Context, orderID uuid.UUID) (order.Status, error) {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

func (s *Service) publishTransition(ctx context.Context, tr *Transition) {
	if !tr.Changed {
		s.logger.Debug("transition already applied",
			"payment_id", tr.Payment.ID, "status", string(tr.Payment.Status))
		return
	}

	p := tr.Payment
	evt := events.Event{
		OrderID:   p.OrderID.String(),
		PaymentID: p.ID.String(),
		Amount:    p.Amount,
		Timestamp: time.Now().UTC(),
	}
	switch tr.To {
	case StatusPaid:
		evt.Type = events.PaymentSuccess
		evt.TransactionID = p.TransactionID
	case StatusCancelled:
		evt.Type = events.PaymentCancelled
		evt.Reason = p.Notes
	default:
		return
	}
	s.publisher.Publish(ctx, evt)
}
