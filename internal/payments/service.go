package payments

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/common"
	"github.com/embedpay/gateway/internal/obs"
	"github.com/embedpay/gateway/internal/queue"
	"github.com/embedpay/gateway/internal/store"
)

// Webhook event names emitted by the gateway.
const (
	EventPaymentSuccess  = "payment.success"
	EventPaymentFailed   = "payment.failed"
	EventPaymentCaptured = "payment.captured"
	EventRefundProcessed = "refund.processed"
)

var validate = validator.New()

// Store is the persistence surface the service needs.
type Store interface {
	InsertPayment(ctx context.Context, p store.Payment) (store.Payment, error)
	GetPayment(ctx context.Context, merchantID uuid.UUID, publicID string) (store.Payment, error)
	CapturePayment(ctx context.Context, merchantID uuid.UUID, publicID string) (store.Payment, bool, error)
	InsertRefund(ctx context.Context, r store.Refund) (store.Refund, error)
	GetRefund(ctx context.Context, merchantID uuid.UUID, publicID string) (store.Refund, error)
	SumRefunded(ctx context.Context, paymentPublicID string) (int64, error)
	ListWebhookLogs(ctx context.Context, merchantID uuid.UUID, limit int) ([]store.WebhookLog, error)
	ResetWebhookForRetry(ctx context.Context, merchantID, id uuid.UUID) (store.WebhookLog, error)
}

// Enqueuer schedules background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Notifier publishes webhook events to merchants.
type Notifier interface {
	PaymentEvent(ctx context.Context, merchantID uuid.UUID, event, paymentID string) error
	Redeliver(ctx context.Context, webhookID uuid.UUID) error
}

// ProcessPaymentPayload is the task body for asynchronous payment processing.
type ProcessPaymentPayload struct {
	PaymentID string `json:"payment_id"`
}

// ProcessRefundPayload is the task body for asynchronous refund processing.
type ProcessRefundPayload struct {
	RefundID string `json:"refund_id"`
}

// Service implements the payment operations behind the merchant API.
type Service struct {
	Store    Store
	Queue    Enqueuer
	Notifier Notifier
	Logger   zerolog.Logger

	DefaultCurrency string
	MinDelay        time.Duration
	MaxDelay        time.Duration
}

// CreatePayment records a payment and schedules its asynchronous processing.
func (s *Service) CreatePayment(ctx context.Context, merchant store.Merchant, req CreatePaymentRequest) (PaymentResponse, error) {
	if req.Currency == "" {
		req.Currency = s.DefaultCurrency
	}
	if err := validate.Struct(req); err != nil {
		recordCreated(req.Method, "invalid")
		return PaymentResponse{}, common.NewAppError("VALIDATION", "invalid payment request", http.StatusBadRequest, err)
	}

	p, err := s.Store.InsertPayment(ctx, store.Payment{
		PublicID:   NewPaymentID(),
		MerchantID: merchant.ID,
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Method:     req.Method,
		Status:     store.PaymentPending,
	})
	if err != nil {
		recordCreated(req.Method, "error")
		return PaymentResponse{}, common.NewAppError("INTERNAL", "could not create payment", http.StatusInternalServerError, err)
	}

	payload, _ := json.Marshal(ProcessPaymentPayload{PaymentID: p.PublicID})
	if err := s.Queue.Enqueue(ctx, queue.Task{
		Kind:           queue.KindProcessPayment,
		Payload:        payload,
		IdempotencyKey: p.PublicID,
		Delay:          s.processingDelay(),
	}); err != nil {
		// the payment row exists; processing will be picked up by a
		// reconciliation sweep, so surface the created payment anyway
		s.Logger.Error().Err(err).Str("payment_id", p.PublicID).Msg("enqueue payment processing")
	}

	recordCreated(req.Method, "ok")
	return toPaymentResponse(p), nil
}

// GetPayment fetches a payment owned by the merchant.
func (s *Service) GetPayment(ctx context.Context, merchant store.Merchant, paymentID string) (PaymentResponse, error) {
	p, err := s.Store.GetPayment(ctx, merchant.ID, paymentID)
	if err != nil {
		return PaymentResponse{}, notFoundOrInternal(err, "payment not found")
	}
	return toPaymentResponse(p), nil
}

// Capture moves a successful payment to captured and notifies the merchant.
func (s *Service) Capture(ctx context.Context, merchant store.Merchant, paymentID string) (PaymentResponse, error) {
	p, captured, err := s.Store.CapturePayment(ctx, merchant.ID, paymentID)
	if err != nil {
		return PaymentResponse{}, notFoundOrInternal(err, "payment not found")
	}
	if !captured {
		return PaymentResponse{}, common.NewAppError("CANNOT_CAPTURE", "payment cannot be captured", http.StatusBadRequest,
			errors.New("payment status "+p.Status))
	}
	if s.Notifier != nil {
		if err := s.Notifier.PaymentEvent(ctx, merchant.ID, EventPaymentCaptured, p.PublicID); err != nil {
			s.Logger.Error().Err(err).Str("payment_id", p.PublicID).Msg("publish capture event")
		}
	}
	return toPaymentResponse(p), nil
}

// CreateRefund issues a refund against a settled payment. A zero amount
// refunds the full remaining balance; amounts above the remaining balance are
// capped to it.
func (s *Service) CreateRefund(ctx context.Context, merchant store.Merchant, paymentID string, req CreateRefundRequest) (RefundResponse, error) {
	if req.Amount < 0 {
		return RefundResponse{}, common.NewAppError("VALIDATION", "refund amount must not be negative", http.StatusBadRequest, nil)
	}
	p, err := s.Store.GetPayment(ctx, merchant.ID, paymentID)
	if err != nil {
		return RefundResponse{}, notFoundOrInternal(err, "payment not found")
	}
	if p.Status != store.PaymentSuccess && p.Status != store.PaymentCaptured {
		return RefundResponse{}, common.NewAppError("CANNOT_REFUND", "payment cannot be refunded", http.StatusBadRequest,
			errors.New("payment status "+p.Status))
	}

	refunded, err := s.Store.SumRefunded(ctx, p.PublicID)
	if err != nil {
		return RefundResponse{}, common.NewAppError("INTERNAL", "could not compute refunded amount", http.StatusInternalServerError, err)
	}
	remaining := p.Amount - refunded
	if remaining <= 0 {
		return RefundResponse{}, common.NewAppError("CANNOT_REFUND", "payment already fully refunded", http.StatusBadRequest, nil)
	}
	amount := req.Amount
	if amount == 0 || amount > remaining {
		amount = remaining
	}

	r, err := s.Store.InsertRefund(ctx, store.Refund{
		PublicID:        NewRefundID(),
		PaymentPublicID: p.PublicID,
		MerchantID:      merchant.ID,
		Amount:          amount,
		Status:          store.RefundPending,
	})
	if err != nil {
		return RefundResponse{}, common.NewAppError("INTERNAL", "could not create refund", http.StatusInternalServerError, err)
	}

	payload, _ := json.Marshal(ProcessRefundPayload{RefundID: r.PublicID})
	if err := s.Queue.Enqueue(ctx, queue.Task{
		Kind:           queue.KindProcessRefund,
		Payload:        payload,
		IdempotencyKey: r.PublicID,
		Delay:          s.processingDelay(),
	}); err != nil {
		s.Logger.Error().Err(err).Str("refund_id", r.PublicID).Msg("enqueue refund processing")
	}

	return toRefundResponse(r), nil
}

// GetRefund fetches a refund owned by the merchant.
func (s *Service) GetRefund(ctx context.Context, merchant store.Merchant, refundID string) (RefundResponse, error) {
	r, err := s.Store.GetRefund(ctx, merchant.ID, refundID)
	if err != nil {
		return RefundResponse{}, notFoundOrInternal(err, "refund not found")
	}
	return toRefundResponse(r), nil
}

// ListWebhookLogs returns the merchant's most recent webhook deliveries.
func (s *Service) ListWebhookLogs(ctx context.Context, merchant store.Merchant) ([]WebhookLogResponse, error) {
	logs, err := s.Store.ListWebhookLogs(ctx, merchant.ID, 10)
	if err != nil {
		return nil, common.NewAppError("INTERNAL", "could not list webhook logs", http.StatusInternalServerError, err)
	}
	out := make([]WebhookLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toWebhookLogResponse(l))
	}
	return out, nil
}

// RetryWebhook re-arms a webhook delivery and schedules an immediate attempt.
func (s *Service) RetryWebhook(ctx context.Context, merchant store.Merchant, webhookID uuid.UUID) (WebhookLogResponse, error) {
	log, err := s.Store.ResetWebhookForRetry(ctx, merchant.ID, webhookID)
	if err != nil {
		return WebhookLogResponse{}, notFoundOrInternal(err, "webhook log not found")
	}
	if s.Notifier != nil {
		if err := s.Notifier.Redeliver(ctx, log.ID); err != nil {
			return WebhookLogResponse{}, common.NewAppError("INTERNAL", "could not schedule redelivery", http.StatusInternalServerError, err)
		}
	}
	return toWebhookLogResponse(log), nil
}

func (s *Service) processingDelay() time.Duration {
	min := s.MinDelay
	max := s.MaxDelay
	if min < 0 {
		min = 0
	}
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func notFoundOrInternal(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return common.NewAppError("NOT_FOUND", msg, http.StatusNotFound, err)
	}
	return common.NewAppError("INTERNAL", "storage failure", http.StatusInternalServerError, err)
}

func recordCreated(method, result string) {
	if obs.PaymentsCreatedTotal == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	obs.PaymentsCreatedTotal.WithLabelValues(method, result).Inc()
}
