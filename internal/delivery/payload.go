package delivery

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityRef identifies the payment or refund an event refers to.
type EntityRef struct {
	ID string `json:"id"`
}

// PayloadData carries exactly one entity reference.
type PayloadData struct {
	Payment *EntityRef `json:"payment,omitempty"`
	Refund  *EntityRef `json:"refund,omitempty"`
}

// Payload is the webhook notification body. It is marshalled once when the
// event is published and the exact bytes are signed and re-sent on every
// delivery attempt.
type Payload struct {
	MerchantID string      `json:"merchant_id"`
	Event      string      `json:"event"`
	Data       PayloadData `json:"data"`
	CreatedAt  time.Time   `json:"created_at"`
}

func paymentPayload(merchantID uuid.UUID, event, paymentID string) ([]byte, error) {
	return json.Marshal(Payload{
		MerchantID: merchantID.String(),
		Event:      event,
		Data:       PayloadData{Payment: &EntityRef{ID: paymentID}},
		CreatedAt:  time.Now().UTC(),
	})
}

func refundPayload(merchantID uuid.UUID, event, refundID string) ([]byte, error) {
	return json.Marshal(Payload{
		MerchantID: merchantID.String(),
		Event:      event,
		Data:       PayloadData{Refund: &EntityRef{ID: refundID}},
		CreatedAt:  time.Now().UTC(),
	})
}

// deliverTask is the queue payload pointing at a webhook log entry.
type deliverTask struct {
	WebhookID uuid.UUID `json:"webhook_id"`
}
