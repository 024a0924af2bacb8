package checkout

import "time"

type Checkout struct {
	ID             string
	Email          string
	Currency       string
	ShippingPrice  int64
	Discount       int64
	GiftCardAmount int64
	CompletedAt    *time.Time
}

// Line is a checkout line joined with the live state of its variant.
type Line struct {
	ID          int64
	VariantID   string
	VariantName string
	Quantity    int
	UnitPrice   int64
	Stock       int
	Available   bool
}

func (l Line) Subtotal() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

// Unavailable reports whether the line can no longer be fulfilled.
func (l Line) Unavailable() bool {
	return !l.Available || l.Stock < l.Quantity
}

type OrderStatus string

const (
	OrderStatusUnfulfilled OrderStatus = "unfulfilled"
)

type Order struct {
	ID         int64
	Number     string
	CheckoutID string
	PaymentID  int64
	Status     OrderStatus
	Email      string
	Total      int64
	Currency   string
	CreatedAt  time.Time
}

// CompletionInput carries what the payment side knows about the checkout
// it is trying to turn into an order.
type CompletionInput struct {
	CheckoutID   string
	PaymentID    int64
	PaymentTotal int64
}
