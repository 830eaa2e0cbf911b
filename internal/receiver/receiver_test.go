package receiver_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/embedpay/gateway/internal/receiver"
	"github.com/embedpay/gateway/internal/signature"
)

const testSecret = "whsec_test_abc123"

func deliver(t *testing.T, h http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(receiver.SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func signed(body []byte) string {
	return signature.Signer{Secret: testSecret}.Sign(body)
}

func TestValidSignatureIsAccepted(t *testing.T) {
	var got receiver.Event
	h := receiver.New(testSecret, zerolog.Nop()).
		WithSink(receiver.SinkFunc(func(ev receiver.Event) { got = ev }))

	body := []byte(`{"event":"payment.success","data":{"payment":{"id":"pay_123"}}}`)
	rec := deliver(t, h, body, signed(body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
	require.Equal(t, "payment.success", got.Type)
	require.Equal(t, "pay_123", got.PaymentID)
}

func TestRefundEventsAreClassified(t *testing.T) {
	var got receiver.Event
	h := receiver.New(testSecret, zerolog.Nop()).
		WithSink(receiver.SinkFunc(func(ev receiver.Event) { got = ev }))

	body := []byte(`{"event":"refund.processed","data":{"refund":{"id":"rfnd_9"}}}`)
	rec := deliver(t, h, body, signed(body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "rfnd_9", got.RefundID)
	require.Empty(t, got.PaymentID)
}

func TestTamperedBodyIsRejected(t *testing.T) {
	sinkCalled := false
	h := receiver.New(testSecret, zerolog.Nop()).
		WithSink(receiver.SinkFunc(func(receiver.Event) { sinkCalled = true }))

	body := []byte(`{"event":"payment.success","data":{"payment":{"id":"pay_123"}}}`)
	sig := signed(body)
	tampered := bytes.Replace(body, []byte("pay_123"), []byte("pay_999"), 1)

	rec := deliver(t, h, tampered, sig)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Invalid signature\n", rec.Body.String())
	require.False(t, sinkCalled, "unverified payloads must never reach the sink")
}

func TestMissingSignatureIsRejected(t *testing.T) {
	h := receiver.New(testSecret, zerolog.Nop())
	rec := deliver(t, h, []byte(`{"event":"payment.success"}`), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrongSecretIsRejected(t *testing.T) {
	h := receiver.New("whsec_other", zerolog.Nop())
	body := []byte(`{"event":"payment.success","data":{"payment":{"id":"pay_123"}}}`)
	rec := deliver(t, h, body, signed(body))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnrecognizedVerifiedPayloadIsAcknowledged(t *testing.T) {
	h := receiver.New(testSecret, zerolog.Nop())
	body := []byte(`{"event":"merchant.ping","data":{}}`)
	rec := deliver(t, h, body, signed(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestNonPostIsRejected(t *testing.T) {
	h := receiver.New(testSecret, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
