package payments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/common"
)

// Handler exposes the merchant-facing payment API.
type Handler struct {
	Service *Service
	Logger  zerolog.Logger
}

// Routes mounts the payment endpoints on the given router. The router is
// expected to already run the API key and idempotency middlewares.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/payments", h.CreatePayment)
	r.Get("/payments/{paymentID}", h.GetPayment)
	r.Post("/payments/{paymentID}/capture", h.Capture)
	r.Post("/payments/{paymentID}/refunds", h.CreateRefund)
	r.Get("/refunds/{refundID}", h.GetRefund)
	r.Get("/webhooks", h.ListWebhookLogs)
	r.Post("/webhooks/{webhookID}/retry", h.RetryWebhook)
}

// CreatePayment handles POST /api/v1/payments.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	merchant, ok := MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant", nil)
		return
	}
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	resp, err := h.Service.CreatePayment(r.Context(), merchant, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, resp)
}

// GetPayment handles GET /api/v1/payments/{paymentID}.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	merchant, ok := MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant", nil)
		return
	}
	resp, err := h.Service.GetPayment(r.Context(), merchant, chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, resp)
}

// Capture handles POST /api/v1/payments/{paymentID}/capture.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	merchant, ok := MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant", nil)
		return
	}
	resp, err := h.Service.Capture(r.Context(), merchant, chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, resp)
}

// CreateRefund handles POST /api/v1/payments/{paymentID}/refunds.
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	merchant, ok := MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant", nil)
		return
	}
	var req CreateRefundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	resp, err := h.Service.CreateRefund(r.Context(), merchant, chi.URLParam(r, "paymentID"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, resp)
}

// GetRefund handles GET /api/v1/refunds/{refundID}.
func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	merchant, ok := MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant", nil)
		return
	}
	resp, err := h.Service.GetRefund(r.Context(), merchant, chi.URLParam(r, "refundID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, resp)
}

// ListWebhookLogs handles GET /api/v1/webhooks.
func (h *Handler) ListWebhookLogs(w http.ResponseWriter, r *http.Request) {
	merchant, ok := MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant", nil)
		return
	}
	logs, err := h.Service.ListWebhookLogs(r.Context(), merchant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": logs})
}

// RetryWebhook handles POST /api/v1/webhooks/{webhookID}/retry.
func (h *Handler) RetryWebhook(w http.ResponseWriter, r *http.Request) {
	merchant, ok := MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing merchant", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "webhookID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid webhook id", nil)
		return
	}
	log, err := h.Service.RetryWebhook(r.Context(), merchant, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusAccepted, log)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPStatus >= 500 {
			h.Logger.Error().Err(err).Str("code", appErr.Code).Msg("request failed")
		}
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	h.Logger.Error().Err(err).Msg("request failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
