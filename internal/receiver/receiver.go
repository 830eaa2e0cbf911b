package receiver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/obs"
	"github.com/embedpay/gateway/internal/signature"
)

const maxBodyBytes = 1 << 20

// SignatureHeader carries the hex HMAC-SHA256 digest of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// Event is a verified webhook notification handed to the sink.
type Event struct {
	Type      string
	PaymentID string
	RefundID  string
	Raw       []byte
}

// Sink receives verified events. Implementations must not retain Raw beyond
// the call.
type Sink interface {
	HandleEvent(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) HandleEvent(ev Event) { f(ev) }

// Handler verifies and processes webhook deliveries on the merchant side.
type Handler struct {
	verifier signature.Verifier
	logger   zerolog.Logger
	sink     Sink
}

// New constructs a receiver handler sharing the given webhook secret.
func New(secret string, logger zerolog.Logger) *Handler {
	return &Handler{
		verifier: signature.Verifier{Secret: secret},
		logger:   logger,
	}
}

// WithSink registers a sink invoked for every verified event.
func (h *Handler) WithSink(sink Sink) *Handler {
	h.sink = sink
	return h
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Payment *struct {
			ID string `json:"id"`
		} `json:"payment"`
		Refund *struct {
			ID string `json:"id"`
		} `json:"refund"`
	} `json:"data"`
}

// ServeHTTP answers webhook deliveries. The raw body is read before any
// parsing because the signature covers the exact bytes on the wire, and a
// re-serialized body would not verify.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error().Err(err).Msg("read webhook body")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	provided := r.Header.Get(SignatureHeader)
	if !h.verifier.Verify(body, provided) {
		// the response stays generic; the expected digest is only ever
		// logged at debug level on our side
		h.logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("webhook signature verification failed")
		h.logger.Debug().
			Str("provided", provided).
			Str("expected", h.verifier.Expected(body)).
			Msg("signature mismatch detail")
		record("rejected")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	ev := Event{Raw: body}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		ev.Type = payload.Event
		if payload.Data.Payment != nil {
			ev.PaymentID = payload.Data.Payment.ID
		}
		if payload.Data.Refund != nil {
			ev.RefundID = payload.Data.Refund.ID
		}
	}

	switch {
	case ev.PaymentID != "":
		h.logger.Info().Str("event", ev.Type).Msgf("Payment ID: %s", ev.PaymentID)
		record("payment")
	case ev.RefundID != "":
		h.logger.Info().Str("event", ev.Type).Msgf("Refund ID: %s", ev.RefundID)
		record("refund")
	default:
		// verified but unrecognized payloads are still acknowledged so
		// the sender does not retry them forever
		h.logger.Info().Str("event", ev.Type).Msg("webhook received")
		record("unrecognized")
	}

	if h.sink != nil {
		h.sink.HandleEvent(ev)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func record(kind string) {
	if obs.ReceiverEventsTotal == nil {
		return
	}
	obs.ReceiverEventsTotal.WithLabelValues(kind).Inc()
}
