// Package processor runs the asynchronous payment and refund state
// machines. Tasks arrive from the delayed queue, flip the entity into a
// terminal status, and publish the matching webhook event.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/obs"
	"github.com/embedpay/gateway/internal/payments"
	"github.com/embedpay/gateway/internal/queue"
	"github.com/embedpay/gateway/internal/store"
)

// Success ratios for the simulated acquirer, per payment method.
const (
	cardSuccessRate = 0.95
	upiSuccessRate  = 0.90
)

// PaymentStore covers the persistence needed to settle payments.
type PaymentStore interface {
	GetPaymentByPublicID(ctx context.Context, publicID string) (store.Payment, error)
	UpdatePaymentStatus(ctx context.Context, publicID, status string, errMsg *string) error
}

// RefundStore covers the persistence needed to settle refunds.
type RefundStore interface {
	GetRefundByPublicID(ctx context.Context, publicID string) (store.Refund, error)
	UpdateRefundStatus(ctx context.Context, publicID, status string) error
}

// Publisher emits lifecycle webhooks once an entity settles.
type Publisher interface {
	PaymentEvent(ctx context.Context, merchantID uuid.UUID, event, paymentID string) error
	RefundEvent(ctx context.Context, merchantID uuid.UUID, event, refundID string) error
}

// Outcome decides whether a simulated payment attempt succeeds. The
// default draws against the per-method success rate; tests inject a
// deterministic one.
type Outcome func(method string) bool

// DefaultOutcome draws from a process-wide source. Safe for concurrent
// workers.
func DefaultOutcome() Outcome {
	var mu sync.Mutex
	return func(method string) bool {
		mu.Lock()
		defer mu.Unlock()
		rate := cardSuccessRate
		if method == payments.MethodUPI {
			rate = upiSuccessRate
		}
		return rand.Float64() < rate
	}
}

// PaymentProcessor settles payments enqueued by the API.
type PaymentProcessor struct {
	Store     PaymentStore
	Publisher Publisher
	Outcome   Outcome
	Logger    zerolog.Logger
}

// HandleTask processes one process-payment task. Unknown or already
// settled payments are acknowledged without effect so the queue never
// spins on them.
func (p *PaymentProcessor) HandleTask(ctx context.Context, t queue.Task) error {
	var body payments.ProcessPaymentPayload
	if err := json.Unmarshal(t.Payload, &body); err != nil || body.PaymentID == "" {
		p.Logger.Error().Str("kind", t.Kind).Msg("discarding malformed payment task")
		return nil
	}

	payment, err := p.Store.GetPaymentByPublicID(ctx, body.PaymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.Logger.Warn().Str("payment_id", body.PaymentID).Msg("payment task for unknown payment")
			return nil
		}
		return fmt.Errorf("load payment %s: %w", body.PaymentID, err)
	}
	if payment.Status != store.PaymentPending {
		p.Logger.Debug().
			Str("payment_id", payment.PublicID).
			Str("status", payment.Status).
			Msg("payment already settled, skipping")
		return nil
	}

	outcome := p.Outcome
	if outcome == nil {
		outcome = DefaultOutcome()
	}

	status := store.PaymentSuccess
	event := payments.EventPaymentSuccess
	var errMsg *string
	if !outcome(payment.Method) {
		status = store.PaymentFailed
		event = payments.EventPaymentFailed
		msg := "payment declined by issuer"
		errMsg = &msg
	}

	if err := p.Store.UpdatePaymentStatus(ctx, payment.PublicID, status, errMsg); err != nil {
		return fmt.Errorf("settle payment %s: %w", payment.PublicID, err)
	}
	obs.PaymentsProcessedTotal.WithLabelValues(payment.Method, status).Inc()
	p.Logger.Info().
		Str("payment_id", payment.PublicID).
		Str("status", status).
		Msg("payment settled")

	if err := p.Publisher.PaymentEvent(ctx, payment.MerchantID, event, payment.PublicID); err != nil {
		// the payment is settled either way; the webhook log carries its
		// own retry path once recorded, so only surface the publish error
		p.Logger.Error().Err(err).Str("payment_id", payment.PublicID).Msg("publish payment event")
	}
	return nil
}

// RefundProcessor settles refunds enqueued by the API.
type RefundProcessor struct {
	Store     RefundStore
	Publisher Publisher
	Logger    zerolog.Logger
}

// HandleTask processes one process-refund task. Refunds always settle
// as processed; the funds were validated against the remaining balance
// at creation time.
func (p *RefundProcessor) HandleTask(ctx context.Context, t queue.Task) error {
	var body payments.ProcessRefundPayload
	if err := json.Unmarshal(t.Payload, &body); err != nil || body.RefundID == "" {
		p.Logger.Error().Str("kind", t.Kind).Msg("discarding malformed refund task")
		return nil
	}

	refund, err := p.Store.GetRefundByPublicID(ctx, body.RefundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.Logger.Warn().Str("refund_id", body.RefundID).Msg("refund task for unknown refund")
			return nil
		}
		return fmt.Errorf("load refund %s: %w", body.RefundID, err)
	}
	if refund.Status != store.RefundPending {
		p.Logger.Debug().
			Str("refund_id", refund.PublicID).
			Str("status", refund.Status).
			Msg("refund already settled, skipping")
		return nil
	}

	if err := p.Store.UpdateRefundStatus(ctx, refund.PublicID, store.RefundProcessed); err != nil {
		return fmt.Errorf("settle refund %s: %w", refund.PublicID, err)
	}
	obs.RefundsProcessedTotal.WithLabelValues(store.RefundProcessed).Inc()
	p.Logger.Info().Str("refund_id", refund.PublicID).Msg("refund settled")

	if err := p.Publisher.RefundEvent(ctx, refund.MerchantID, payments.EventRefundProcessed, refund.PublicID); err != nil {
		p.Logger.Error().Err(err).Str("refund_id", refund.PublicID).Msg("publish refund event")
	}
	return nil
}
