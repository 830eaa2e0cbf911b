package surface_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/embedpay/gateway/internal/modal"
	"github.com/embedpay/gateway/internal/protocol"
	"github.com/embedpay/gateway/internal/surface"
)

func newHandle(t *testing.T) *modal.Handle {
	t.Helper()
	h, err := modal.CreateSurface("http://localhost:3001", modal.Params{
		Key:     "key_test",
		OrderID: "order_42",
		Amount:  2500,
	})
	require.NoError(t, err)
	return h
}

func newSurface(t *testing.T, h *modal.Handle, apiURL string) *surface.Surface {
	t.Helper()
	s, err := surface.New(h, surface.Config{
		PaymentAPIURL: apiURL,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func waitMessage(t *testing.T, h *modal.Handle) protocol.Message {
	t.Helper()
	select {
	case msg := <-h.Conduit().Receive():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for conduit message")
		return protocol.Message{}
	}
}

func TestParseParams(t *testing.T) {
	launch, err := url.Parse("http://localhost:3001/checkout.html?key=key_test&orderId=order_1&amount=900")
	require.NoError(t, err)

	p, err := surface.ParseParams(launch)
	require.NoError(t, err)
	require.Equal(t, "key_test", p.Key)
	require.Equal(t, "order_1", p.OrderID)
	require.EqualValues(t, 900, p.Amount)
}

func TestParseParamsDefaultsAmount(t *testing.T) {
	launch, err := url.Parse("http://localhost:3001/checkout.html?key=k&orderId=o&amount=bogus")
	require.NoError(t, err)

	p, err := surface.ParseParams(launch)
	require.NoError(t, err)
	require.Equal(t, modal.DefaultAmount, p.Amount)
}

func TestParseParamsRequiresKeyAndOrder(t *testing.T) {
	launch, err := url.Parse("http://localhost:3001/checkout.html?amount=100")
	require.NoError(t, err)

	_, err = surface.ParseParams(launch)
	require.Error(t, err)
}

func TestSubmitPostsSuccess(t *testing.T) {
	var mu sync.Mutex
	var gotKey, gotIdem string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotKey = r.Header.Get("X-Api-Key")
		gotIdem = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pay_abc123", "status": "pending"})
	}))
	defer srv.Close()

	h := newHandle(t)
	s := newSurface(t, h, srv.URL)
	require.NoError(t, s.Submit(context.Background()))

	msg := waitMessage(t, h)
	require.Equal(t, protocol.TypePaymentSuccess, msg.Type)
	require.Equal(t, "pay_abc123", msg.Data["paymentId"])
	require.Empty(t, s.InlineError())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "key_test", gotKey)
	require.Regexp(t, `^key_\d+$`, gotIdem)
	require.EqualValues(t, 2500, gotBody["amount"])
	require.Equal(t, "INR", gotBody["currency"])
	require.Equal(t, "card", gotBody["method"])
	require.Equal(t, "order_42", gotBody["order_id"])
}

func TestSubmitPostsFailureAndKeepsInlineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid api key"},
		})
	}))
	defer srv.Close()

	h := newHandle(t)
	s := newSurface(t, h, srv.URL)
	require.NoError(t, s.Submit(context.Background()))

	msg := waitMessage(t, h)
	require.Equal(t, protocol.TypePaymentFailed, msg.Type)
	require.Equal(t, "invalid api key", msg.Data["error"])
	require.Equal(t, "invalid api key", s.InlineError())
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pay_1"})
	}))
	defer srv.Close()

	h := newHandle(t)
	s := newSurface(t, h, srv.URL)
	require.NoError(t, s.Submit(context.Background()))

	err := s.Submit(context.Background())
	require.ErrorIs(t, err, surface.ErrSubmitInFlight)

	close(release)
	waitMessage(t, h)
}

func TestRetryAfterFailureUsesFreshIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		first := len(keys) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "card declined"},
			})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pay_2"})
	}))
	defer srv.Close()

	h := newHandle(t)
	s := newSurface(t, h, srv.URL)

	require.NoError(t, s.Submit(context.Background()))
	require.Equal(t, protocol.TypePaymentFailed, waitMessage(t, h).Type)
	require.Equal(t, "card declined", s.InlineError())

	require.NoError(t, s.Submit(context.Background()))
	require.Equal(t, protocol.TypePaymentSuccess, waitMessage(t, h).Type)
	// a new submission clears the previous inline error
	require.Empty(t, s.InlineError())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 2)
	require.NotEqual(t, keys[0], keys[1])
}

func TestCancelPostsCloseModal(t *testing.T) {
	h := newHandle(t)
	s := newSurface(t, h, "http://localhost:8080")

	s.Cancel()
	require.Equal(t, protocol.TypeCloseModal, waitMessage(t, h).Type)
}
