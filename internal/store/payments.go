package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Payment lifecycle statuses.
const (
	PaymentPending    = "pending"
	PaymentProcessing = "processing"
	PaymentSuccess    = "success"
	PaymentFailed     = "failed"
	PaymentCaptured   = "captured"
)

// Payment is a single collection attempt for an order.
type Payment struct {
	ID         uuid.UUID
	PublicID   string
	MerchantID uuid.UUID
	OrderID    string
	Amount     int64
	Currency   string
	Method     string
	Status     string
	Error      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InsertPayment persists a new payment in its initial status.
func (s *Store) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	row := s.Pool.QueryRow(ctx, `INSERT INTO payments (public_id, merchant_id, order_id, amount, currency, method, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at`,
		p.PublicID, p.MerchantID, p.OrderID, p.Amount, p.Currency, p.Method, p.Status)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// GetPayment fetches a payment by its public identifier scoped to a merchant.
func (s *Store) GetPayment(ctx context.Context, merchantID uuid.UUID, publicID string) (Payment, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, public_id, merchant_id, order_id, amount, currency, method, status, error, created_at, updated_at
FROM payments WHERE merchant_id = $1 AND public_id = $2`, merchantID, publicID)
	return scanPayment(row)
}

// GetPaymentByPublicID fetches a payment without merchant scoping. Used by
// the background worker which acts on behalf of the system.
func (s *Store) GetPaymentByPublicID(ctx context.Context, publicID string) (Payment, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, public_id, merchant_id, order_id, amount, currency, method, status, error, created_at, updated_at
FROM payments WHERE public_id = $1`, publicID)
	return scanPayment(row)
}

// UpdatePaymentStatus transitions a payment and records an optional error
// message for failed attempts.
func (s *Store) UpdatePaymentStatus(ctx context.Context, publicID, status string, errMsg *string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE payments SET status = $2, error = $3, updated_at = now()
WHERE public_id = $1`, publicID, status, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CapturePayment transitions a successful payment to captured. It returns
// ErrNotFound when no payment with the public ID exists for the merchant and
// false when the payment exists but is not in a capturable status.
func (s *Store) CapturePayment(ctx context.Context, merchantID uuid.UUID, publicID string) (Payment, bool, error) {
	row := s.Pool.QueryRow(ctx, `UPDATE payments SET status = $3, updated_at = now()
WHERE merchant_id = $1 AND public_id = $2 AND status = $4
RETURNING id, public_id, merchant_id, order_id, amount, currency, method, status, error, created_at, updated_at`,
		merchantID, publicID, PaymentCaptured, PaymentSuccess)
	p, err := scanPayment(row)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Payment{}, false, err
	}
	// distinguish missing from non-capturable
	p, err = s.GetPayment(ctx, merchantID, publicID)
	if err != nil {
		return Payment{}, false, err
	}
	return p, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var p Payment
	var errMsg sql.NullString
	if err := row.Scan(&p.ID, &p.PublicID, &p.MerchantID, &p.OrderID, &p.Amount, &p.Currency, &p.Method, &p.Status, &errMsg, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, mapNoRows(err)
	}
	if errMsg.Valid {
		p.Error = &errMsg.String
	}
	return p, nil
}
