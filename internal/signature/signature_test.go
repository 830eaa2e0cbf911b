package signature_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedpay/gateway/internal/signature"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := signature.Signer{Secret: "whsec_test_abc123"}
	verifier := signature.Verifier{Secret: "whsec_test_abc123"}

	body := []byte(`{"event":"payment.captured","data":{"payment":{"id":"pay_9"}}}`)
	sig := signer.Sign(body)
	require.Len(t, sig, 64)
	require.True(t, verifier.Verify(body, sig))
}

func TestVerifyRejectsMutations(t *testing.T) {
	verifier := signature.Verifier{Secret: "whsec_test_abc123"}
	body := []byte(`{"event":"payment.captured","data":{"payment":{"id":"pay_9"}}}`)
	sig := signature.Signer{Secret: "whsec_test_abc123"}.Sign(body)

	// single-bit mutation of the body
	mutated := append([]byte(nil), body...)
	mutated[0] ^= 0x01
	require.False(t, verifier.Verify(mutated, sig))

	// single altered character in the signature
	bad := []byte(sig)
	if bad[0] == 'a' {
		bad[0] = 'b'
	} else {
		bad[0] = 'a'
	}
	require.False(t, verifier.Verify(body, string(bad)))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"event":"refund.processed"}`)
	sig := signature.Signer{Secret: "secret-a"}.Sign(body)
	require.False(t, signature.Verifier{Secret: "secret-b"}.Verify(body, sig))
}

func TestEmptySecretNeverValidates(t *testing.T) {
	verifier := signature.Verifier{Secret: ""}
	require.False(t, verifier.Verify([]byte("body"), ""))
	require.Empty(t, signature.Signer{}.Sign([]byte("body")))
}
