package gateway_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/embedpay/gateway/internal/gateway"
	"github.com/embedpay/gateway/internal/modal"
	"github.com/embedpay/gateway/internal/protocol"
)

type fakeHost struct {
	mu       sync.Mutex
	mounts   int
	unmounts int
}

func (f *fakeHost) Mount(_ *modal.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts++
	return nil
}

func (f *fakeHost) Unmount(_ *modal.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmounts++
}

func (f *fakeHost) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounts, f.unmounts
}

func testConfig(host gateway.Host) gateway.Config {
	return gateway.Config{
		AssetHostBaseURL: "http://localhost:3001",
		Host:             host,
		Logger:           zerolog.Nop(),
	}
}

func TestMissingOptionsYieldInertController(t *testing.T) {
	host := &fakeHost{}
	for _, opts := range []gateway.Options{
		{},
		{Key: "key_test"},
		{OrderID: "order_1"},
	} {
		c := gateway.New(opts, testConfig(host))
		require.NoError(t, c.Open())
		require.False(t, c.IsOpen())
	}
	mounts, _ := host.counts()
	require.Zero(t, mounts)
}

func TestOpenMountsSurface(t *testing.T) {
	host := &fakeHost{}
	c := gateway.New(gateway.Options{Key: "key_test", OrderID: "order_1", Amount: 1000}, testConfig(host))
	require.NoError(t, c.Open())
	require.True(t, c.IsOpen())

	h := c.Handle()
	require.NotNil(t, h)
	require.Equal(t, "1000", h.LaunchURL.Query().Get("amount"))

	mounts, _ := host.counts()
	require.Equal(t, 1, mounts)
	c.Close()
}

func TestOpenWhileOpenIsRejected(t *testing.T) {
	c := gateway.New(gateway.Options{Key: "k", OrderID: "o"}, testConfig(&fakeHost{}))
	require.NoError(t, c.Open())
	require.ErrorIs(t, c.Open(), gateway.ErrAlreadyOpen)
	c.Close()
}

func TestPaymentSuccessInvokesCallbackAndCloses(t *testing.T) {
	host := &fakeHost{}
	got := make(chan map[string]any, 1)
	closed := make(chan struct{}, 1)
	c := gateway.New(gateway.Options{
		Key:       "k",
		OrderID:   "o",
		OnSuccess: func(data map[string]any) { got <- data },
		OnClose:   func() { closed <- struct{}{} },
	}, testConfig(host))
	require.NoError(t, c.Open())

	c.Handle().Conduit().Post(protocol.Message{
		Type: protocol.TypePaymentSuccess,
		Data: map[string]any{"paymentId": "pay_1"},
	})

	select {
	case data := <-got:
		require.Equal(t, "pay_1", data["paymentId"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for onSuccess")
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for onClose")
	}
	require.False(t, c.IsOpen())
	_, unmounts := host.counts()
	require.Equal(t, 1, unmounts)
}

func TestPaymentFailedKeepsSurfaceOpen(t *testing.T) {
	failures := make(chan map[string]any, 1)
	c := gateway.New(gateway.Options{
		Key:       "k",
		OrderID:   "o",
		OnFailure: func(data map[string]any) { failures <- data },
	}, testConfig(&fakeHost{}))
	require.NoError(t, c.Open())

	c.Handle().Conduit().Post(protocol.Message{
		Type: protocol.TypePaymentFailed,
		Data: map[string]any{"error": "card declined"},
	})

	select {
	case data := <-failures:
		require.Equal(t, "card declined", data["error"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for onFailure")
	}
	require.True(t, c.IsOpen())
	c.Close()
}

func TestCloseModalMessageCloses(t *testing.T) {
	c := gateway.New(gateway.Options{Key: "k", OrderID: "o"}, testConfig(&fakeHost{}))
	require.NoError(t, c.Open())

	c.Handle().Conduit().Post(protocol.Message{Type: protocol.TypeCloseModal})
	require.Eventually(t, func() bool { return !c.IsOpen() }, time.Second, 5*time.Millisecond)
}

func TestDismissControlCloses(t *testing.T) {
	c := gateway.New(gateway.Options{Key: "k", OrderID: "o"}, testConfig(&fakeHost{}))
	require.NoError(t, c.Open())

	c.Handle().Dismiss()
	require.Eventually(t, func() bool { return !c.IsOpen() }, time.Second, 5*time.Millisecond)
}

func TestUnknownMessageTypesAreDropped(t *testing.T) {
	c := gateway.New(gateway.Options{Key: "k", OrderID: "o"}, testConfig(&fakeHost{}))
	require.NoError(t, c.Open())

	c.Handle().Conduit().Post(protocol.Message{Type: "payment.retried"})
	time.Sleep(20 * time.Millisecond)
	require.True(t, c.IsOpen())
	c.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	closes := make(chan struct{}, 4)
	c := gateway.New(gateway.Options{
		Key:     "k",
		OrderID: "o",
		OnClose: func() { closes <- struct{}{} },
	}, testConfig(&fakeHost{}))
	require.NoError(t, c.Open())

	c.Close()
	c.Close()
	require.Len(t, closes, 1)
}

func TestMessageAfterCloseIsIgnored(t *testing.T) {
	got := make(chan map[string]any, 1)
	c := gateway.New(gateway.Options{
		Key:       "k",
		OrderID:   "o",
		OnSuccess: func(data map[string]any) { got <- data },
	}, testConfig(&fakeHost{}))
	require.NoError(t, c.Open())

	h := c.Handle()
	c.Close()

	// the in-flight surface finishing after close must fail silently
	h.Conduit().Post(protocol.Message{Type: protocol.TypePaymentSuccess, Data: map[string]any{"paymentId": "late"}})
	select {
	case <-got:
		t.Fatal("callback invoked after close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReopenAfterClose(t *testing.T) {
	c := gateway.New(gateway.Options{Key: "k", OrderID: "o"}, testConfig(&fakeHost{}))
	require.NoError(t, c.Open())
	c.Close()
	require.NoError(t, c.Open())
	require.True(t, c.IsOpen())
	c.Close()
}
