package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/modal"
	"github.com/embedpay/gateway/internal/protocol"
	"github.com/embedpay/gateway/internal/resilience"
)

// ErrSubmitInFlight is returned when Submit is called while a previous
// submission has not completed yet.
var ErrSubmitInFlight = errors.New("surface: submission already in flight")

const defaultMethod = "card"

// Params carries the checkout context extracted from the launch URL. They are
// read once when the surface is constructed and never re-read afterwards.
type Params struct {
	Key     string
	OrderID string
	Amount  int64
}

// ParseParams extracts checkout parameters from a launch URL query string.
func ParseParams(launch *url.URL) (Params, error) {
	if launch == nil {
		return Params{}, errors.New("surface: launch URL is required")
	}
	q := launch.Query()
	p := Params{
		Key:     q.Get("key"),
		OrderID: q.Get("orderId"),
	}
	if p.Key == "" || p.OrderID == "" {
		return Params{}, errors.New("surface: launch URL missing key or orderId")
	}
	amount, err := strconv.ParseInt(q.Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		amount = modal.DefaultAmount
	}
	p.Amount = amount
	return p, nil
}

// Config wires the surface to the payment API and the conduit back to the
// embedding side.
type Config struct {
	PaymentAPIURL string
	Currency      string
	Method        string
	Client        resilience.HTTPClient
	Logger        zerolog.Logger
}

// Surface is the checkout form running inside the modal boundary. It owns the
// payment submission and reports outcomes through the handle's conduit.
type Surface struct {
	params  Params
	conduit *protocol.Conduit
	cfg     Config

	mu         sync.Mutex
	submitting bool
	inlineErr  string
}

// New constructs a surface for the given modal handle. Parameters are parsed
// from the handle's launch URL exactly once.
func New(h *modal.Handle, cfg Config) (*Surface, error) {
	if h == nil {
		return nil, errors.New("surface: modal handle is required")
	}
	params, err := ParseParams(h.LaunchURL)
	if err != nil {
		return nil, err
	}
	if cfg.PaymentAPIURL == "" {
		return nil, errors.New("surface: payment API URL is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.Method == "" {
		cfg.Method = defaultMethod
	}
	if cfg.Client.Client == nil {
		cfg.Client.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Surface{params: params, conduit: h.Conduit(), cfg: cfg}, nil
}

// Params returns the checkout parameters captured at construction.
func (s *Surface) Params() Params { return s.params }

// InlineError returns the currently displayed submission error, if any.
func (s *Surface) InlineError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inlineErr
}

// Cancel requests dismissal of the surface without completing a payment.
func (s *Surface) Cancel() {
	s.conduit.Post(protocol.Message{Type: protocol.TypeCloseModal})
}

type createPaymentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
	OrderID  string `json:"order_id"`
}

type createPaymentResponse struct {
	ID string `json:"id"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit creates a payment for the captured parameters. At most one
// submission runs at a time; a second call while one is in flight returns
// ErrSubmitInFlight. The outcome is reported on the conduit, never as a
// return value, because by then the caller has already moved on.
func (s *Surface) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return ErrSubmitInFlight
	}
	s.submitting = true
	s.inlineErr = ""
	s.mu.Unlock()

	go s.submit(ctx)
	return nil
}

func (s *Surface) submit(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()
	}()

	paymentID, err := s.createPayment(ctx)
	if err != nil {
		s.mu.Lock()
		s.inlineErr = err.Error()
		s.mu.Unlock()
		s.cfg.Logger.Warn().Err(err).Str("order_id", s.params.OrderID).Msg("payment submission failed")
		s.conduit.Post(protocol.Message{
			Type: protocol.TypePaymentFailed,
			Data: map[string]any{"error": err.Error()},
		})
		return
	}
	s.conduit.Post(protocol.Message{
		Type: protocol.TypePaymentSuccess,
		Data: map[string]any{"paymentId": paymentID},
	})
}

func (s *Surface) createPayment(ctx context.Context) (string, error) {
	payload, err := json.Marshal(createPaymentRequest{
		Amount:   s.params.Amount,
		Currency: s.cfg.Currency,
		Method:   s.cfg.Method,
		OrderID:  s.params.OrderID,
	})
	if err != nil {
		return "", fmt.Errorf("encode payment request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.cfg.PaymentAPIURL+"/api/v1/payments", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", s.params.Key)
	// a fresh key per attempt: retries of a failed submission are new
	// payment intents, not replays
	req.Header.Set("Idempotency-Key", idempotencyKey())

	resp, err := s.cfg.Client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("payment request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read payment response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", errors.New(apiErr.Error.Message)
		}
		return "", fmt.Errorf("payment request failed with status %d", resp.StatusCode)
	}

	var created createPaymentResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode payment response: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("payment response missing id")
	}
	return created.ID, nil
}

func idempotencyKey() string {
	return "key_" + strconv.FormatInt(time.Now().UnixNano(), 10)
}
