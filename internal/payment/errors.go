package payment

import "errors"

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrMissingToken        = errors.New("payment has no gateway token")
	ErrInvalidSource       = errors.New("invalid gateway payload in payment metadata")
	ErrUnsupportedCurrency = errors.New("currency not supported by gateway")
)
