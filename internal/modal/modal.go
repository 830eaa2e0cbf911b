// Package modal builds the isolated container hosting a checkout
// surface. It resolves the surface's launch URL and wires the dismiss
// controls; mounting the container into the embedding page is the
// caller's responsibility.
package modal

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/embedpay/gateway/internal/protocol"
)

// DefaultAmount is the fallback charge, in minor units, applied when the
// embedder does not specify one.
const DefaultAmount int64 = 5000

// checkoutPath is the fixed path on the asset host serving the surface.
const checkoutPath = "/checkout.html"

// Params carries the launch parameters encoded into the surface URL.
// The query string is the only channel by which they reach the isolated
// surface; the surface is cross-origin and shares no other state.
type Params struct {
	Key     string
	OrderID string
	Amount  int64
}

// Handle is the isolated-surface container: the resolved launch URL plus
// the conduit and dismiss controls the controller wires up. It is owned
// by one controller for the lifetime of one open session.
type Handle struct {
	LaunchURL *url.URL

	conduit *protocol.Conduit
}

// CreateSurface resolves the launch URL for a checkout surface against
// the asset host and allocates the conduit binding the surface to its
// controller. It has no side effects beyond construction.
func CreateSurface(assetHostBaseURL string, params Params) (*Handle, error) {
	base := strings.TrimSpace(assetHostBaseURL)
	if base == "" {
		return nil, errors.New("modal: asset host base url is required")
	}
	parsed, err := url.Parse(strings.TrimRight(base, "/") + checkoutPath)
	if err != nil {
		return nil, fmt.Errorf("modal: parse asset host url: %w", err)
	}

	amount := params.Amount
	if amount <= 0 {
		amount = DefaultAmount
	}
	q := url.Values{}
	q.Set("key", params.Key)
	q.Set("orderId", params.OrderID)
	q.Set("amount", strconv.FormatInt(amount, 10))
	parsed.RawQuery = q.Encode()

	return &Handle{
		LaunchURL: parsed,
		conduit:   protocol.NewConduit(),
	}, nil
}

// Conduit returns the message channel bound to this surface instance.
func (h *Handle) Conduit() *protocol.Conduit {
	return h.conduit
}

// Dismiss is the manual close control. It routes through the protocol so
// the controller observes it on the same channel as surface messages.
func (h *Handle) Dismiss() {
	h.conduit.Post(protocol.Message{Type: protocol.TypeCloseModal})
}

// DismissBackdrop is the overlay click region outside the surface.
func (h *Handle) DismissBackdrop() {
	h.conduit.Post(protocol.Message{Type: protocol.TypeCloseModal})
}

// Destroy tears the container down. Idempotent.
func (h *Handle) Destroy() {
	h.conduit.Close()
}
