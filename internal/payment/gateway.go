package payment

import "context"

// Gateway is one call per lifecycle step. Gateway-side declines and
// transport failures come back as an unsuccessful result; the error return
// is reserved for requests that could not be built or were refused locally.
type Gateway interface {
	Authorize(ctx context.Context, req PaymentRequest) (*GatewayResult, error)
	Capture(ctx context.Context, req PaymentRequest) (*GatewayResult, error)
	Refund(ctx context.Context, req PaymentRequest) (*GatewayResult, error)
	Confirm(ctx context.Context, req PaymentRequest) (*GatewayResult, error)
	Void(ctx context.Context, req PaymentRequest) (*GatewayResult, error)
}
