package payment

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	FieldPublicAPIKey        = "public_api_key"
	FieldSecretAPIKey        = "secret_api_key"
	FieldSupportedCurrencies = "supported_currencies"

	ErrCodePluginMisconfigured = "PLUGIN_MISCONFIGURED"
)

// GatewayConfig is fixed for the lifetime of a plugin instance.
type GatewayConfig struct {
	GatewayName         string
	PublicKey           string
	PrivateKey          string
	SupportedCurrencies []string
	AutoCapture         bool
	BaseURL             string
	Timeout             time.Duration
}

type FieldError struct {
	Field   string
	Code    string
	Message string
}

// ValidationError carries one entry per misconfigured field.
type ValidationError struct {
	Fields map[string]FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "To enable a plugin, you need to provide values for the following fields: " + strings.Join(names, ", ")
}

// Validate only complains when the plugin is being activated; an inactive
// plugin may be saved half-configured.
func (c GatewayConfig) Validate(active bool) error {
	if !active {
		return nil
	}

	var missing []string
	if strings.TrimSpace(c.PublicKey) == "" {
		missing = append(missing, FieldPublicAPIKey)
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		missing = append(missing, FieldSecretAPIKey)
	}
	if len(c.SupportedCurrencies) == 0 {
		missing = append(missing, FieldSupportedCurrencies)
	}
	if len(missing) == 0 {
		return nil
	}

	verr := &ValidationError{Fields: make(map[string]FieldError, len(missing))}
	for _, f := range missing {
		verr.Fields[f] = FieldError{
			Field:   f,
			Code:    ErrCodePluginMisconfigured,
			Message: fmt.Sprintf("To enable a plugin, you need to provide a value for %s", f),
		}
	}
	return verr
}

func (c GatewayConfig) SupportsCurrency(currency string) bool {
	for _, cur := range c.SupportedCurrencies {
		if strings.EqualFold(cur, currency) {
			return true
		}
	}
	return false
}
