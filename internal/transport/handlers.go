package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"moyasar-gateway/internal/logger"
	"moyasar-gateway/internal/payment"
	"moyasar-gateway/internal/plugin"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// paymentResult is the platform-facing view of a gateway result.
type paymentResult struct {
	Success            bool              `json:"success"`
	Kind               string            `json:"kind"`
	TransactionID      string            `json:"transaction_id,omitempty"`
	Amount             string            `json:"amount"`
	Currency           string            `json:"currency,omitempty"`
	Error              string            `json:"error,omitempty"`
	ActionRequired     bool              `json:"action_required"`
	ActionRequiredData map[string]string `json:"action_required_data,omitempty"`
	PaymentMethodType  string            `json:"payment_method_type,omitempty"`
	CustomerID         string            `json:"customer_id,omitempty"`
	RawResponse        any               `json:"raw_response,omitempty"`
}

func toPaymentResult(res *payment.GatewayResult) paymentResult {
	out := paymentResult{
		Success:            res.Success,
		Kind:               string(res.Kind),
		TransactionID:      res.TransactionID,
		Amount:             payment.FormatMinor(res.Amount),
		Currency:           res.Currency,
		Error:              res.ErrorMessage,
		ActionRequired:     res.ActionRequired,
		ActionRequiredData: res.ActionRequiredData,
		PaymentMethodType:  res.PaymentMethodType,
		CustomerID:         res.CustomerID,
	}
	if len(res.RawResponse) > 0 {
		out.RawResponse = res.RawResponse
	}
	return out
}

type lifecycleCall func(ctx context.Context, paymentID int64) (*payment.GatewayResult, error)

type handlers struct {
	plugin   plugin.Plugin
	payments payment.Service
}

func (h *handlers) paymentAction(call lifecycleCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := chi.URLParam(r, "paymentID")
		paymentID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || paymentID <= 0 {
			writeJSONError(w, r, "invalid payment id", http.StatusBadRequest)
			return
		}

		res, err := call(r.Context(), paymentID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toPaymentResult(res))
	}
}

func (h *handlers) gatewayConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.plugin.PaymentConfig()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"client_token": h.plugin.ClientToken(),
		"config":       cfg,
	})
}

func (h *handlers) supportedCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.plugin.SupportedCurrencies()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string][]string{"currencies": currencies})
}

// writeError maps domain errors to HTTP statuses. Gateway declines are
// results, not errors, and never reach here.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound):
		writeJSONError(w, r, err.Error(), http.StatusNotFound)
	case errors.Is(err, plugin.ErrPluginInactive):
		writeJSONError(w, r, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, payment.ErrMissingToken),
		errors.Is(err, payment.ErrInvalidSource),
		errors.Is(err, payment.ErrUnsupportedCurrency):
		writeJSONError(w, r, err.Error(), http.StatusUnprocessableEntity)
	default:
		logger.FromCtx(r.Context()).Error("payment api failure", zap.Error(err))
		writeJSONError(w, r, "internal server error", http.StatusInternalServerError)
	}
}
