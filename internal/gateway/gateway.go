// Package gateway implements the controller an embedding page uses to
// open a hosted checkout session and receive its outcome. The controller
// owns at most one open surface at a time and translates protocol
// messages into the embedder's callbacks.
package gateway

import (
	"errors"
	"sync"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/modal"
	"github.com/embedpay/gateway/internal/protocol"
)

// ErrAlreadyOpen is returned by Open while a session is in progress.
// Opening twice is an explicit rejection, not a silent no-op, so the
// embedder learns about the double call.
var ErrAlreadyOpen = errors.New("gateway: checkout session already open")

var validate = validator.New()

// Options configures a controller. Key and OrderID are required; the
// callbacks are optional. Options are immutable after construction.
type Options struct {
	Key     string `validate:"required"`
	OrderID string `validate:"required"`
	Amount  int64

	OnSuccess func(data map[string]any)
	OnFailure func(data map[string]any)
	OnClose   func()
}

// Host abstracts the embedding page: it mounts and unmounts the
// isolated-surface container. Implementations must not retain access to
// the surface beyond the handle they are given.
type Host interface {
	Mount(h *modal.Handle) error
	Unmount(h *modal.Handle)
}

// Config carries the environment a controller operates in.
type Config struct {
	AssetHostBaseURL string
	Host             Host
	Logger           zerolog.Logger
}

// Controller mediates between the embedding page and one checkout
// surface. Zero value is not usable; construct with New.
type Controller struct {
	opts Options
	cfg  Config

	// inert is set when construction failed validation: every operation
	// becomes a safe no-op rather than a fault at call time.
	inert bool

	mu     sync.Mutex
	handle *modal.Handle
}

// New validates the options and constructs a controller. Missing Key or
// OrderID is a configuration error: it is logged and the returned
// controller is inert, it never panics or errors past construction.
func New(opts Options, cfg Config) *Controller {
	c := &Controller{opts: opts, cfg: cfg}
	if err := validate.Struct(opts); err != nil {
		cfg.Logger.Error().Err(err).Msg("gateway: missing key or orderId, controller disabled")
		c.inert = true
	}
	return c
}

// Open materialises a checkout surface and begins the session. While a
// session is open further calls return ErrAlreadyOpen. Inert controllers
// do nothing.
func (c *Controller) Open() error {
	if c.inert {
		return nil
	}
	c.mu.Lock()
	if c.handle != nil {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	h, err := modal.CreateSurface(c.cfg.AssetHostBaseURL, modal.Params{
		Key:     c.opts.Key,
		OrderID: c.opts.OrderID,
		Amount:  c.opts.Amount,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.cfg.Host != nil {
		if err := c.cfg.Host.Mount(h); err != nil {
			c.mu.Unlock()
			h.Destroy()
			return err
		}
	}
	c.handle = h
	c.mu.Unlock()

	go c.dispatch(h)
	return nil
}

// Close tears down the open session: unmounts the container, stops the
// subscription and invokes OnClose. Calling it when no session is open
// is a safe no-op.
func (c *Controller) Close() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()
	if h == nil {
		return
	}
	if c.cfg.Host != nil {
		c.cfg.Host.Unmount(h)
	}
	h.Destroy()
	if c.opts.OnClose != nil {
		c.opts.OnClose()
	}
}

// IsOpen reports whether a session is currently open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// Handle exposes the open session's surface handle, or nil when closed.
// The embedder needs the launch URL to point the asset host at it.
func (c *Controller) Handle() *modal.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// dispatch consumes messages from the conduit created for h. Messages
// are honoured only while h is still the controller's open session; a
// surface completing after Close is ignored.
func (c *Controller) dispatch(h *modal.Handle) {
	for msg := range h.Conduit().Receive() {
		c.mu.Lock()
		current := c.handle == h
		c.mu.Unlock()
		if !current {
			continue
		}
		switch msg.Type {
		case protocol.TypePaymentSuccess:
			if c.opts.OnSuccess != nil {
				c.opts.OnSuccess(msg.Data)
			}
			c.Close()
		case protocol.TypePaymentFailed:
			// the surface stays open so the user can retry
			if c.opts.OnFailure != nil {
				c.opts.OnFailure(msg.Data)
			}
		case protocol.TypeCloseModal:
			c.Close()
		default:
			c.cfg.Logger.Debug().Str("type", msg.Type).Msg("gateway: dropping unknown message type")
		}
	}
}
