package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"moyasar-gateway/internal/logger"
	"moyasar-gateway/internal/metrics"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// EventProcessor applies a verified, parsed event.
type EventProcessor interface {
	Process(ctx context.Context, ev *Event, raw json.RawMessage) (Result, error)
}

type Handler struct {
	secret    string
	processor EventProcessor
}

// NewHandler verifies deliveries with secret, the merchant's secret API key.
func NewHandler(secret string, processor EventProcessor) *Handler {
	return &Handler{secret: secret, processor: processor}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context())

	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhookOutcome("unreadable")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// nothing is parsed before the signature checks out
	if err := Verify(body, h.secret, r.Header.Get(SignatureHeader)); err != nil {
		log.Warn("webhook signature rejected", zap.String("remote_addr", r.RemoteAddr))
		metrics.WebhookOutcome("forbidden")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ev, raw, err := ParseEvent(body)
	if err != nil {
		log.Warn("webhook payload rejected", zap.Error(err))
		metrics.WebhookOutcome("malformed")
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	res, err := h.processor.Process(r.Context(), ev, raw)
	if err != nil {
		log.Error("webhook processing failed", zap.Error(err))
		metrics.WebhookOutcome("error")
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	log.Info("webhook handled",
		zap.String("event_type", ev.Type),
		zap.String("outcome", string(res.Outcome)),
	)
	metrics.WebhookOutcome(string(res.Outcome))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, res.Message)
}
