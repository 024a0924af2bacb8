package payment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayConfig_Validate(t *testing.T) {
	valid := GatewayConfig{
		PublicKey:           "pk_test",
		PrivateKey:          "sk_test",
		SupportedCurrencies: []string{"SAR"},
	}

	t.Run("Valid active config", func(t *testing.T) {
		assert.NoError(t, valid.Validate(true))
	})

	t.Run("Inactive config is never rejected", func(t *testing.T) {
		assert.NoError(t, GatewayConfig{}.Validate(false))
	})

	t.Run("Missing fields reported per field", func(t *testing.T) {
		cfg := GatewayConfig{PublicKey: "  "}

		err := cfg.Validate(true)
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Len(t, verr.Fields, 3)
		for _, f := range []string{FieldPublicAPIKey, FieldSecretAPIKey, FieldSupportedCurrencies} {
			assert.Equal(t, ErrCodePluginMisconfigured, verr.Fields[f].Code)
			assert.Equal(t, f, verr.Fields[f].Field)
		}
		assert.Contains(t, err.Error(), "public_api_key, secret_api_key, supported_currencies")
	})

	t.Run("Only secret missing", func(t *testing.T) {
		cfg := valid
		cfg.PrivateKey = ""

		var verr *ValidationError
		require.ErrorAs(t, cfg.Validate(true), &verr)
		assert.Len(t, verr.Fields, 1)
		assert.Contains(t, verr.Fields, FieldSecretAPIKey)
	})
}

func TestGatewayConfig_SupportsCurrency(t *testing.T) {
	cfg := GatewayConfig{SupportedCurrencies: []string{"SAR", "USD"}}

	assert.True(t, cfg.SupportsCurrency("sar"))
	assert.True(t, cfg.SupportsCurrency("USD"))
	assert.False(t, cfg.SupportsCurrency("EUR"))
}
