package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/queue"
)

// PublisherStore persists webhook log entries.
type PublisherStore interface {
	InsertWebhookLog(ctx context.Context, merchantID uuid.UUID, event string, payload []byte) (uuid.UUID, error)
}

// Enqueuer schedules delivery tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Publisher records webhook events and schedules their delivery. When
// delivery is disabled events are still logged so merchants can inspect and
// retry them later.
type Publisher struct {
	Store   PublisherStore
	Queue   Enqueuer
	Enabled bool
	Logger  zerolog.Logger
}

// PaymentEvent publishes a payment lifecycle event.
func (p *Publisher) PaymentEvent(ctx context.Context, merchantID uuid.UUID, event, paymentID string) error {
	body, err := paymentPayload(merchantID, event, paymentID)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	return p.publish(ctx, merchantID, event, body)
}

// RefundEvent publishes a refund lifecycle event.
func (p *Publisher) RefundEvent(ctx context.Context, merchantID uuid.UUID, event, refundID string) error {
	body, err := refundPayload(merchantID, event, refundID)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	return p.publish(ctx, merchantID, event, body)
}

func (p *Publisher) publish(ctx context.Context, merchantID uuid.UUID, event string, body []byte) error {
	id, err := p.Store.InsertWebhookLog(ctx, merchantID, event, body)
	if err != nil {
		return fmt.Errorf("record webhook log: %w", err)
	}
	if !p.Enabled {
		p.Logger.Debug().Str("event", event).Stringer("webhook_id", id).Msg("webhook delivery disabled, logged only")
		return nil
	}
	return p.Redeliver(ctx, id)
}

// Redeliver schedules a delivery attempt for an existing webhook log entry.
func (p *Publisher) Redeliver(ctx context.Context, webhookID uuid.UUID) error {
	payload, err := json.Marshal(deliverTask{WebhookID: webhookID})
	if err != nil {
		return err
	}
	return p.Queue.Enqueue(ctx, queue.Task{
		Kind:    queue.KindDeliverWebhook,
		Payload: payload,
		// retries are scheduled by the dispatcher's backoff ladder, so a
		// single queue attempt per scheduled delivery is enough
		MaxAttempts: 1,
	})
}
