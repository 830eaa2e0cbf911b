package payments

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/common"
	"github.com/embedpay/gateway/internal/store"
)

type merchantCtxKey struct{}

// MerchantFromContext returns the authenticated merchant, if any.
func MerchantFromContext(ctx context.Context) (store.Merchant, bool) {
	m, ok := ctx.Value(merchantCtxKey{}).(store.Merchant)
	return m, ok
}

// ContextWithMerchant is exported for tests that exercise handlers directly.
func ContextWithMerchant(ctx context.Context, m store.Merchant) context.Context {
	return context.WithValue(ctx, merchantCtxKey{}, m)
}

// MerchantResolver looks up merchants by hashed API key.
type MerchantResolver interface {
	GetMerchantByAPIKeyHash(ctx context.Context, hash string) (store.Merchant, error)
}

// APIKeyAuth authenticates requests via the X-Api-Key header. The raw key is
// hashed before the lookup so the database never sees it.
func APIKeyAuth(resolver MerchantResolver, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Api-Key")
			if key == "" {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing api key", nil)
				return
			}
			merchant, err := resolver.GetMerchantByAPIKeyHash(r.Context(), common.Sha256Hex(key))
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					logger.Error().Err(err).Msg("merchant lookup failed")
					common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "authentication unavailable", nil)
					return
				}
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithMerchant(r.Context(), merchant)))
		})
	}
}

// IdemStore persists responses for replay.
type IdemStore interface {
	GetIdempotentResponse(ctx context.Context, merchantID uuid.UUID, key string) (store.IdempotentResponse, error)
	SaveIdempotentResponse(ctx context.Context, merchantID uuid.UUID, key string, resp store.IdempotentResponse, ttl time.Duration) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key,
// byte for byte and with the original status code. Only successful responses
// are stored so a rejected request can be retried with the same key.
func Idempotency(st IdemStore, ttl time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			merchant, ok := MerchantFromContext(r.Context())
			if !ok {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant", nil)
				return
			}

			stored, err := st.GetIdempotentResponse(r.Context(), merchant.ID, key)
			if err == nil {
				common.JSONRaw(w, stored.StatusCode, stored.Body)
				return
			}
			if !errors.Is(err, store.ErrNotFound) {
				logger.Error().Err(err).Msg("idempotency lookup failed")
				common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency unavailable", nil)
				return
			}

			rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				saveErr := st.SaveIdempotentResponse(r.Context(), merchant.ID, key, store.IdempotentResponse{
					StatusCode: rec.status,
					Body:       rec.body.Bytes(),
				}, ttl)
				if saveErr != nil {
					logger.Error().Err(saveErr).Msg("idempotency save failed")
				}
			}
		})
	}
}

type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
