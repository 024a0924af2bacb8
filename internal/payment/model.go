package payment

import (
	"encoding/json"
	"fmt"
	"time"
)

const GatewayName = "moyasar"

type ChargeStatus string

const (
	ChargeStatusNotCharged       ChargeStatus = "not-charged"
	ChargeStatusPartiallyCharged ChargeStatus = "partially-charged"
	ChargeStatusFullyCharged     ChargeStatus = "fully-charged"
	ChargeStatusRefunded         ChargeStatus = "refunded"
	ChargeStatusCancelled        ChargeStatus = "cancelled"
)

type TransactionKind string

const (
	KindAuth    TransactionKind = "auth"
	KindCapture TransactionKind = "capture"
	KindRefund  TransactionKind = "refund"
	KindVoid    TransactionKind = "void"
	KindConfirm TransactionKind = "confirm"
)

// Amounts are kept in minor units (halalas for SAR).
type Payment struct {
	ID             int64
	CheckoutID     *string
	OrderID        *int64
	Gateway        string
	Token          string
	Total          int64
	CapturedAmount int64
	Currency       string
	ChargeStatus   ChargeStatus
	IsActive       bool
	CustomerEmail  string
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Closed reports whether the payment was already voided, refunded or
// deactivated. A closed payment never backs a new order.
func (p *Payment) Closed() bool {
	return !p.IsActive ||
		p.ChargeStatus == ChargeStatusCancelled ||
		p.ChargeStatus == ChargeStatusRefunded
}

// Metadata is the free-form JSON bag attached to a payment by the storefront.
type Metadata map[string]json.RawMessage

// Source returns the stored gateway payload (card or Apple Pay token blob).
func (m Metadata) Source() json.RawMessage {
	return m["moyasar_data"]
}

func (m Metadata) UseApplePay() bool {
	var v bool
	if raw, ok := m["use_apple_pay"]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

type Transaction struct {
	ID              int64
	PaymentID       int64
	Kind            TransactionKind
	IsSuccess       bool
	Token           string
	Amount          int64
	Currency        string
	Error           string
	ActionRequired  bool
	GatewayResponse json.RawMessage
	CreatedAt       time.Time
}

// PaymentRequest is what the platform hands the gateway for a single call.
type PaymentRequest struct {
	PaymentID   int64
	Token       string
	Amount      int64
	Currency    string
	Description string
	CustomerID  string
	Source      json.RawMessage
	UseApplePay bool
}

// GatewayResult is the normalized outcome of one gateway call.
type GatewayResult struct {
	Success            bool
	Kind               TransactionKind
	TransactionID      string
	Amount             int64
	Currency           string
	ErrorMessage       string
	RawResponse        json.RawMessage
	HTTPStatus         int
	ActionRequired     bool
	ActionRequiredData map[string]string
	CustomerID         string
	PaymentMethodType  string
}

// FormatMinor renders minor units as a two-decimal major amount, e.g. 20000 -> "200.00".
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// ChargeStatusFor decides the charge status after capturing captured out of total.
func ChargeStatusFor(captured, total int64) ChargeStatus {
	if captured >= total {
		return ChargeStatusFullyCharged
	}
	return ChargeStatusPartiallyCharged
}
