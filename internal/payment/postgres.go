package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lechieutung2003/cleanzy-app/internal/events"
	"github.com/lechieutung2003/cleanzy-app/internal/order"
)

// PostgresStore persists payments with pgx. Status transitions are
// conditional updates (WHERE status = 'PENDING') so concurrent webhook and
// reconciliation writers converge on one winner; the loser observes zero
// affected rows and reports Changed=false. Payment, order and outbox writes
// share one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *order.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, status, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.Status, o.Amount, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) OrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var o order.Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, amount, created_at, updated_at
		FROM orders
		WHERE id = $1`, id,
	).Scan(&o.ID, &o.Status, &o.Amount, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) SetOrderStatus(ctx context.Context, id uuid.UUID, status order.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, order_id, order_code, amount, method, status, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrderID, p.OrderCode, p.Amount, p.Method, p.Status, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) PaymentByOrderCode(ctx context.Context, orderCode int64) (*Payment, error) {
	return s.scanPayment(s.pool.QueryRow(ctx, selectPayment+` WHERE order_code = $1`, orderCode))
}

func (s *PostgresStore) ActivePaymentForOrder(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	return s.scanPayment(s.pool.QueryRow(ctx, selectPayment+`
		WHERE order_id = $1 AND status = 'PENDING'
		ORDER BY created_at DESC
		LIMIT 1`, orderID))
}

func (s *PostgresStore) AttachLink(ctx context.Context, paymentID uuid.UUID, link LinkArtifacts) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments
		SET payment_url = $2, qr_code = $3, account_number = $4, account_name = $5, updated_at = NOW()
		WHERE id = $1`,
		paymentID, link.PaymentURL, link.QRCode, link.AccountNumber, link.AccountName,
	)
	if err != nil {
		return fmt.Errorf("attach link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *PostgresStore) MarkPaid(ctx context.Context, orderCode int64, transactionID string, rawPayload []byte) (*Transition, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := s.lockPayment(ctx, tx, orderCode)
	if err != nil {
		return nil, err
	}

	from := p.Status
	if from != StatusPending {
		return &Transition{Payment: p, From: from, To: from, Changed: false}, tx.Commit(ctx)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, paid_at = $3, transaction_id = NULLIF($4, ''), webhook_payload = $5, updated_at = $3
		WHERE order_code = $1 AND status = 'PENDING'`,
		orderCode, StatusPaid, now, transactionID, rawPayload,
	)
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A concurrent writer got there first.
		return &Transition{Payment: p, From: from, To: from, Changed: false}, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		p.OrderID, order.StatusPaid, order.StatusPendingPayment,
	)
	if err != nil {
		return nil, fmt.Errorf("advance order: %w", err)
	}

	p.Status = StatusPaid
	p.PaidAt = &now
	p.UpdatedAt = now
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	p.WebhookPayload = rawPayload

	if err := s.insertOutbox(ctx, tx, events.Event{
		Type:          events.PaymentSuccess,
		OrderID:       p.OrderID.String(),
		PaymentID:     p.ID.String(),
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		Timestamp:     now,
	}); err != nil {
		return nil, err
	}

	return &Transition{Payment: p, From: from, To: StatusPaid, Changed: true}, tx.Commit(ctx)
}

func (s *PostgresStore) MarkCancelled(ctx context.Context, orderCode int64, reason string) (*Transition, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := s.lockPayment(ctx, tx, orderCode)
	if err != nil {
		return nil, err
	}

	from := p.Status
	if from != StatusPending {
		return &Transition{Payment: p, From: from, To: from, Changed: false}, tx.Commit(ctx)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, cancelled_at = $3, notes = NULLIF($4, ''), updated_at = $3
		WHERE order_code = $1 AND status = 'PENDING'`,
		orderCode, StatusCancelled, now, reason,
	)
	if err != nil {
		return nil, fmt.Errorf("mark cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &Transition{Payment: p, From: from, To: from, Changed: false}, tx.Commit(ctx)
	}

	p.Status = StatusCancelled
	p.CancelledAt = &now
	p.UpdatedAt = now
	p.Notes = reason

	if err := s.insertOutbox(ctx, tx, events.Event{
		Type:      events.PaymentCancelled,
		OrderID:   p.OrderID.String(),
		PaymentID: p.ID.String(),
		Amount:    p.Amount,
		Reason:    reason,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}

	return &Transition{Payment: p, From: from, To: StatusCancelled, Changed: true}, tx.Commit(ctx)
}

func (s *PostgresStore) RollbackCreation(ctx context.Context, paymentID uuid.UUID) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var orderID uuid.UUID
	err = tx.QueryRow(ctx, `
		DELETE FROM payments
		WHERE id = $1
		RETURNING order_id`, paymentID,
	).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("delete payment: %w", err)
	}

	// No payment obligation exists yet, so the order goes back to PENDING,
	// not PENDING_PAYMENT.
	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1`,
		orderID, order.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("reset order: %w", err)
	}

	return tx.Commit(ctx)
}

const selectPayment = `
	SELECT id, order_id, order_code, amount, method, status,
	       COALESCE(payment_url, ''), COALESCE(qr_code, ''), COALESCE(account_number, ''), COALESCE(account_name, ''),
	       COALESCE(transaction_id, ''), COALESCE(description, ''), COALESCE(notes, ''),
	       paid_at, cancelled_at, created_at, updated_at
	FROM payments`

func (s *PostgresStore) scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.OrderCode, &p.Amount, &p.Method, &p.Status,
		&p.PaymentURL, &p.QRCode, &p.AccountNumber, &p.AccountName,
		&p.TransactionID, &p.Description, &p.Notes,
		&p.PaidAt, &p.CancelledAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) lockPayment(ctx context.Context, tx pgx.Tx, orderCode int64) (*Payment, error) {
	return s.scanPayment(tx.QueryRow(ctx, selectPayment+`
		WHERE order_code = $1
		FOR UPDATE`, orderCode))
}

func (s *PostgresStore) insertOutbox(ctx context.Context, tx pgx.Tx, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO payment_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		uuid.New(), string(evt.Type), payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
