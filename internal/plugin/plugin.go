package plugin

import (
	"context"
	"errors"
	"net/http"

	"moyasar-gateway/internal/logger"
	"moyasar-gateway/internal/payment"

	"go.uber.org/zap"
)

var ErrPluginInactive = errors.New("payment plugin is not active")

const (
	PaidPath           = "/paid/"
	MessageInvalidPath = "This path is not valid!"
	ConfigFieldAPIKey  = "api_key"
)

// Plugin is the capability set the platform drives a payment gateway through.
type Plugin interface {
	payment.Gateway
	SupportedCurrencies() ([]string, error)
	HandleWebhook(w http.ResponseWriter, r *http.Request, path string)
	ClientToken() string
	PaymentConfig() ([]ConfigField, error)
	Active() bool
}

var _ Plugin = (*MoyasarPlugin)(nil)

type ConfigField struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type MoyasarPlugin struct {
	cfg     payment.GatewayConfig
	active  bool
	gateway payment.Gateway
	webhook http.Handler
}

// NewMoyasarPlugin refuses an active plugin with missing credentials.
func NewMoyasarPlugin(cfg payment.GatewayConfig, active bool, gateway payment.Gateway) (*MoyasarPlugin, error) {
	if err := cfg.Validate(active); err != nil {
		return nil, err
	}
	if cfg.GatewayName == "" {
		cfg.GatewayName = payment.GatewayName
	}
	return &MoyasarPlugin{
		cfg:     cfg,
		active:  active,
		gateway: gateway,
	}, nil
}

// SetWebhookHandler installs the handler behind PaidPath. The webhook
// reverses payments through the plugin, so it is attached after
// construction.
func (p *MoyasarPlugin) SetWebhookHandler(h http.Handler) {
	p.webhook = h
}

func (p *MoyasarPlugin) Active() bool { return p.active }

func (p *MoyasarPlugin) ClientToken() string { return p.cfg.PublicKey }

func (p *MoyasarPlugin) SupportedCurrencies() ([]string, error) {
	if !p.active {
		return nil, ErrPluginInactive
	}
	out := make([]string, len(p.cfg.SupportedCurrencies))
	copy(out, p.cfg.SupportedCurrencies)
	return out, nil
}

// PaymentConfig is what the storefront needs to render the payment form.
func (p *MoyasarPlugin) PaymentConfig() ([]ConfigField, error) {
	if !p.active {
		return nil, ErrPluginInactive
	}
	return []ConfigField{{Field: ConfigFieldAPIKey, Value: p.cfg.PublicKey}}, nil
}

func (p *MoyasarPlugin) Authorize(ctx context.Context, req payment.PaymentRequest) (*payment.GatewayResult, error) {
	return p.call(ctx, "authorize", req, p.gateway.Authorize)
}

func (p *MoyasarPlugin) Capture(ctx context.Context, req payment.PaymentRequest) (*payment.GatewayResult, error) {
	return p.call(ctx, "capture", req, p.gateway.Capture)
}

func (p *MoyasarPlugin) Refund(ctx context.Context, req payment.PaymentRequest) (*payment.GatewayResult, error) {
	return p.call(ctx, "refund", req, p.gateway.Refund)
}

func (p *MoyasarPlugin) Confirm(ctx context.Context, req payment.PaymentRequest) (*payment.GatewayResult, error) {
	return p.call(ctx, "confirm", req, p.gateway.Confirm)
}

func (p *MoyasarPlugin) Void(ctx context.Context, req payment.PaymentRequest) (*payment.GatewayResult, error) {
	return p.call(ctx, "void", req, p.gateway.Void)
}

func (p *MoyasarPlugin) call(
	ctx context.Context,
	op string,
	req payment.PaymentRequest,
	fn func(context.Context, payment.PaymentRequest) (*payment.GatewayResult, error),
) (*payment.GatewayResult, error) {
	if !p.active {
		return nil, ErrPluginInactive
	}
	ctx = logger.WithGateway(ctx, p.cfg.GatewayName)
	logger.FromCtx(ctx).Debug("plugin call",
		zap.String("operation", op),
		zap.Int64("payment_id", req.PaymentID),
	)
	return fn(ctx, req)
}

// HandleWebhook dispatches on the path below the plugin mount point.
func (p *MoyasarPlugin) HandleWebhook(w http.ResponseWriter, r *http.Request, path string) {
	if path != PaidPath || r.Method != http.MethodPost {
		http.Error(w, MessageInvalidPath, http.StatusNotFound)
		return
	}
	if !p.active || p.webhook == nil {
		http.Error(w, MessageInvalidPath, http.StatusNotFound)
		return
	}

	ctx := logger.WithGateway(r.Context(), p.cfg.GatewayName)
	p.webhook.ServeHTTP(w, r.WithContext(ctx))
	logger.FromCtx(ctx).Info("finished handling webhook")
}
