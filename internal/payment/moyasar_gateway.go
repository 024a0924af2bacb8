package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"moyasar-gateway/internal/logger"
	"moyasar-gateway/internal/metrics"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.moyasar.com/v1"
	defaultTimeout = 15 * time.Second

	// cap on how much of a gateway response we are willing to buffer
	maxResponseBytes = 1 << 20

	msgTransportFailure = "failed to reach payment gateway"
	msgInvalidResponse  = "invalid response from payment gateway"
	msgGatewayFailure   = "failed"
)

type moyasarGateway struct {
	cfg        GatewayConfig
	baseURL    string
	httpClient *http.Client
}

// moyasarPayment is the subset of the Moyasar payment object we read.
// Error bodies share the top-level "type" and "message" keys.
type moyasarPayment struct {
	ID       gatewayID `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	Source   struct {
		Type           string `json:"type"`
		TransactionURL string `json:"transaction_url"`
		Message        string `json:"message"`
	} `json:"source"`
	RedirectLink struct {
		Href string `json:"href"`
	} `json:"redirect_link"`
}

// gatewayID accepts any JSON scalar for "id"; success only asks that one is
// present, not that it is a string.
type gatewayID string

func (g *gatewayID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*g = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*g = gatewayID(strings.TrimSpace(s))
	default:
		*g = gatewayID(b)
	}
	return nil
}

// ----------------- Constructor -----------------

func NewMoyasarGateway(cfg GatewayConfig) Gateway {
	if cfg.PublicKey == "" {
		logger.L().Warn("Moyasar public API key is empty")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &moyasarGateway{
		cfg:     cfg,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// ----------------- Authorize -----------------

// Authorize creates the payment. A response carrying a redirect link means
// the card needs 3-D Secure, so it is reported as an authorization awaiting
// customer action rather than a capture.
func (m *moyasarGateway) Authorize(ctx context.Context, req PaymentRequest) (*GatewayResult, error) {
	if req.Currency != "" && !m.cfg.SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}

	body := map[string]any{}
	if len(req.Source) > 0 {
		if err := json.Unmarshal(req.Source, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		if body == nil {
			body = map[string]any{}
		}
	}
	body["amount"] = req.Amount
	body["currency"] = req.Currency
	if _, ok := body["description"]; !ok && req.Description != "" {
		body["description"] = req.Description
	}

	res, err := m.call(ctx, KindAuth, "/payments", body, req)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return res, nil
	}

	if res.ActionRequiredData["3ds_url"] != "" {
		res.Kind = KindAuth
		res.ActionRequired = true
	} else {
		res.Kind = KindCapture
		res.ActionRequiredData = nil
	}
	if req.UseApplePay {
		res.PaymentMethodType = "apple_pay"
	}
	return res, nil
}

// ----------------- Capture / Refund / Confirm / Void -----------------

func (m *moyasarGateway) Capture(ctx context.Context, req PaymentRequest) (*GatewayResult, error) {
	return m.paymentAction(ctx, KindCapture, "capture", req)
}

func (m *moyasarGateway) Refund(ctx context.Context, req PaymentRequest) (*GatewayResult, error) {
	return m.paymentAction(ctx, KindRefund, "refund", req)
}

func (m *moyasarGateway) Confirm(ctx context.Context, req PaymentRequest) (*GatewayResult, error) {
	return m.paymentAction(ctx, KindConfirm, "confirm", req)
}

func (m *moyasarGateway) Void(ctx context.Context, req PaymentRequest) (*GatewayResult, error) {
	return m.paymentAction(ctx, KindVoid, "void", req)
}

func (m *moyasarGateway) paymentAction(ctx context.Context, kind TransactionKind, action string, req PaymentRequest) (*GatewayResult, error) {
	if req.Token == "" {
		return nil, ErrMissingToken
	}
	path := fmt.Sprintf("/payments/%s/%s", url.PathEscape(req.Token), action)

	res, err := m.call(ctx, kind, path, map[string]any{}, req)
	if err != nil {
		return nil, err
	}
	res.ActionRequired = false
	res.ActionRequiredData = nil
	return res, nil
}

// ----------------- HTTP -----------------

// call issues one POST and maps the body to a result. The only success
// predicate is a non-empty "id" in the body; the HTTP status is recorded
// and logged but deliberately not consulted.
func (m *moyasarGateway) call(ctx context.Context, kind TransactionKind, path string, body any, req PaymentRequest) (*GatewayResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("operation", string(kind)),
		zap.String("path", path),
		zap.Int64("payment_id", req.PaymentID),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency),
	)
	start := time.Now()

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Error("Failed to marshal gateway request", zap.Error(err))
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		log.Error("Failed creating request", zap.Error(err))
		return nil, err
	}
	httpReq.SetBasicAuth(m.cfg.PublicKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	log.Info("Sending request to Moyasar")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		log.Error("Moyasar request failed", zap.Error(err))
		metrics.ObserveGatewayCall(string(kind), metrics.ResultTransportError, time.Since(start))
		return m.failure(kind, req, msgTransportFailure, nil, 0), nil
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Error("Failed to read response body", zap.Error(err))
		metrics.ObserveGatewayCall(string(kind), metrics.ResultTransportError, time.Since(start))
		return m.failure(kind, req, msgTransportFailure, nil, resp.StatusCode), nil
	}

	var res moyasarPayment
	if err := json.Unmarshal(bodyBytes, &res); err != nil {
		log.Error("Failed decoding Moyasar response",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", bodyBytes),
			zap.Error(err),
		)
		metrics.ObserveGatewayCall(string(kind), metrics.ResultDeclined, time.Since(start))
		return m.failure(kind, req, msgInvalidResponse, rawJSON(bodyBytes), resp.StatusCode), nil
	}

	raw := json.RawMessage(bodyBytes)

	if res.ID == "" {
		msg := msgGatewayFailure
		if res.Message != "" {
			msg = res.Message
		}
		log.Warn("Moyasar response has no payment id",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", bodyBytes),
		)
		metrics.ObserveGatewayCall(string(kind), metrics.ResultDeclined, time.Since(start))
		return m.failure(kind, req, msg, raw, resp.StatusCode), nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn("Moyasar returned an error status with a payment id; treating as success",
			zap.Int("status", resp.StatusCode),
			zap.String("transaction_id", string(res.ID)),
		)
	}

	log.Info("Moyasar call succeeded",
		zap.String("transaction_id", string(res.ID)),
		zap.String("status", res.Status),
	)
	metrics.ObserveGatewayCall(string(kind), metrics.ResultSuccess, time.Since(start))

	result := &GatewayResult{
		Success:           true,
		Kind:              kind,
		TransactionID:     string(res.ID),
		Amount:            req.Amount,
		Currency:          req.Currency,
		RawResponse:       raw,
		HTTPStatus:        resp.StatusCode,
		CustomerID:        req.CustomerID,
		PaymentMethodType: "card",
	}
	if link := redirectLink(res); link != "" {
		result.ActionRequiredData = map[string]string{"3ds_url": link}
	}
	return result, nil
}

func (m *moyasarGateway) failure(kind TransactionKind, req PaymentRequest, msg string, raw json.RawMessage, status int) *GatewayResult {
	return &GatewayResult{
		Success:           false,
		Kind:              kind,
		Amount:            req.Amount,
		Currency:          req.Currency,
		ErrorMessage:      msg,
		RawResponse:       raw,
		HTTPStatus:        status,
		CustomerID:        req.CustomerID,
		PaymentMethodType: "card",
	}
}

// redirectLink prefers an explicit redirect_link and falls back to the
// card source's transaction_url while the payment is still initiated.
func redirectLink(p moyasarPayment) string {
	if p.RedirectLink.Href != "" {
		return p.RedirectLink.Href
	}
	if p.Status == "initiated" && p.Source.TransactionURL != "" {
		return p.Source.TransactionURL
	}
	return ""
}

// rawJSON keeps a non-JSON body storable as a JSON string.
func rawJSON(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	encoded, _ := json.Marshal(string(body))
	return encoded
}
