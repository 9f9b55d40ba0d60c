package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lechieutung2003/cleanzy-app/internal/order"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and local
// runs without postgres; transition semantics are identical to PostgresStore.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*order.Order
	payments map[uuid.UUID]*Payment
	byCode   map[int64]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[uuid.UUID]*order.Order),
		payments: make(map[uuid.UUID]*Payment),
		byCode:   make(map[int64]uuid.UUID),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) OrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) SetOrderStatus(_ context.Context, id uuid.UUID, status order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.ID] = &cp
	if p.OrderCode != nil {
		s.byCode[*p.OrderCode] = p.ID
	}
	return nil
}

func (s *MemoryStore) PaymentByOrderCode(_ context.Context, orderCode int64) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.paymentByCodeLocked(orderCode)
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ActivePaymentForOrder(_ context.Context, orderID uuid.UUID) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.OrderID == orderID && p.Status == StatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *MemoryStore) AttachLink(_ context.Context, paymentID uuid.UUID, link LinkArtifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.PaymentURL = link.PaymentURL
	p.QRCode = link.QRCode
	p.AccountNumber = link.AccountNumber
	p.AccountName = link.AccountName
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, orderCode int64, transactionID string, rawPayload []byte) (*Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.paymentByCodeLocked(orderCode)
	if err != nil {
		return nil, err
	}

	from := p.Status
	if from != StatusPending {
		cp := *p
		return &Transition{Payment: &cp, From: from, To: from, Changed: false}, nil
	}

	now := time.Now().UTC()
	p.Status = StatusPaid
	p.PaidAt = &now
	p.UpdatedAt = now
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	if rawPayload != nil {
		p.WebhookPayload = rawPayload
	}

	if o, ok := s.orders[p.OrderID]; ok && o.Status == order.StatusPendingPayment {
		o.Status = order.StatusPaid
		o.UpdatedAt = now
	}

	cp := *p
	return &Transition{Payment: &cp, From: from, To: StatusPaid, Changed: true}, nil
}

func (s *MemoryStore) MarkCancelled(_ context.Context, orderCode int64, reason string) (*Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.paymentByCodeLocked(orderCode)
	if err != nil {
		return nil, err
	}

	from := p.Status
	if from != StatusPending {
		cp := *p
		return &Transition{Payment: &cp, From: from, To: from, Changed: false}, nil
	}

	now := time.Now().UTC()
	p.Status = StatusCancelled
	p.CancelledAt = &now
	p.UpdatedAt = now
	if reason != "" {
		p.Notes = reason
	}

	cp := *p
	return &Transition{Payment: &cp, From: from, To: StatusCancelled, Changed: true}, nil
}

func (s *MemoryStore) RollbackCreation(_ context.Context, paymentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	delete(s.payments, paymentID)
	if p.OrderCode != nil {
		delete(s.byCode, *p.OrderCode)
	}
	if o, ok := s.orders[p.OrderID]; ok {
		o.Status = order.StatusPending
		o.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) paymentByCodeLocked(orderCode int64) (*Payment, error) {
	id, ok := s.byCode[orderCode]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}
