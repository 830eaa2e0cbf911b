package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Refund lifecycle statuses.
const (
	RefundPending   = "pending"
	RefundProcessed = "processed"
	RefundFailed    = "failed"
)

// Refund returns part or all of a captured or successful payment.
type Refund struct {
	ID              uuid.UUID
	PublicID        string
	PaymentPublicID string
	MerchantID      uuid.UUID
	Amount          int64
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InsertRefund persists a new refund in pending status.
func (s *Store) InsertRefund(ctx context.Context, r Refund) (Refund, error) {
	row := s.Pool.QueryRow(ctx, `INSERT INTO refunds (public_id, payment_public_id, merchant_id, amount, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at, updated_at`,
		r.PublicID, r.PaymentPublicID, r.MerchantID, r.Amount, r.Status)
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Refund{}, err
	}
	return r, nil
}

// GetRefund fetches a refund by public ID scoped to a merchant.
func (s *Store) GetRefund(ctx context.Context, merchantID uuid.UUID, publicID string) (Refund, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, public_id, payment_public_id, merchant_id, amount, status, created_at, updated_at
FROM refunds WHERE merchant_id = $1 AND public_id = $2`, merchantID, publicID)
	return scanRefund(row)
}

// GetRefundByPublicID fetches a refund without merchant scoping for the
// background worker.
func (s *Store) GetRefundByPublicID(ctx context.Context, publicID string) (Refund, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, public_id, payment_public_id, merchant_id, amount, status, created_at, updated_at
FROM refunds WHERE public_id = $1`, publicID)
	return scanRefund(row)
}

// SumRefunded totals the non-failed refunds already issued for a payment.
func (s *Store) SumRefunded(ctx context.Context, paymentPublicID string) (int64, error) {
	var total int64
	err := s.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM refunds
WHERE payment_public_id = $1 AND status <> $2`, paymentPublicID, RefundFailed).Scan(&total)
	return total, err
}

// UpdateRefundStatus transitions a refund.
func (s *Store) UpdateRefundStatus(ctx context.Context, publicID, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE refunds SET status = $2, updated_at = now()
WHERE public_id = $1`, publicID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRefund(row rowScanner) (Refund, error) {
	var r Refund
	if err := row.Scan(&r.ID, &r.PublicID, &r.PaymentPublicID, &r.MerchantID, &r.Amount, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Refund{}, mapNoRows(err)
	}
	return r, nil
}
