package payments

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embedpay/gateway/internal/store"
)

// Payment methods accepted at checkout.
const (
	MethodCard = "card"
	MethodUPI  = "upi"
)

// NewPaymentID mints a public payment identifier.
func NewPaymentID() string {
	return "pay_" + compactUUID()[:14]
}

// NewRefundID mints a public refund identifier.
func NewRefundID() string {
	return "rfnd_" + compactUUID()[:16]
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreatePaymentRequest is the POST /api/v1/payments body.
type CreatePaymentRequest struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Currency string `json:"currency" validate:"required,len=3"`
	Method   string `json:"method" validate:"required,oneof=card upi"`
	OrderID  string `json:"order_id" validate:"required"`
}

// CreateRefundRequest is the refund creation body. A zero amount refunds the
// full remaining balance.
type CreateRefundRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

// PaymentResponse is the wire representation of a payment.
type PaymentResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RefundResponse is the wire representation of a refund.
type RefundResponse struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookLogResponse summarizes a webhook delivery for the merchant API.
type WebhookLogResponse struct {
	ID           string     `json:"id"`
	Event        string     `json:"event"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ResponseCode *int       `json:"response_code,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toPaymentResponse(p store.Payment) PaymentResponse {
	return PaymentResponse{
		ID:        p.PublicID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
		Status:    p.Status,
		Error:     p.Error,
		CreatedAt: p.CreatedAt,
	}
}

func toRefundResponse(r store.Refund) RefundResponse {
	return RefundResponse{
		ID:        r.PublicID,
		PaymentID: r.PaymentPublicID,
		Amount:    r.Amount,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
}

func toWebhookLogResponse(l store.WebhookLog) WebhookLogResponse {
	return WebhookLogResponse{
		ID:           l.ID.String(),
		Event:        l.Event,
		Status:       l.Status,
		Attempts:     l.Attempts,
		ResponseCode: l.ResponseCode,
		LastError:    l.LastError,
		NextRetryAt:  l.NextRetryAt,
		CreatedAt:    l.CreatedAt,
	}
}
