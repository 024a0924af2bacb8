package checkout

import (
	"context"
	"fmt"
	"time"

	"moyasar-gateway/internal/db"
	"moyasar-gateway/internal/logger"

	"go.uber.org/zap"
)

// Completer turns a paid checkout into an order. It runs on q so the caller
// decides the transaction boundary.
type Completer interface {
	Complete(ctx context.Context, q db.DBTX, in CompletionInput) (*Order, error)
}

type completer struct {
	newRepo func(db.DBTX) Repository
}

func NewCompleter() Completer {
	return &completer{newRepo: NewRepository}
}

// Complete fails with ErrLinesUnavailable or ErrTotalMismatch when the
// checkout drifted since the payment was taken; the caller owns the
// refund in that case.
func (c *completer) Complete(ctx context.Context, q db.DBTX, in CompletionInput) (*Order, error) {
	repo := c.newRepo(q)
	log := logger.FromCtx(ctx).With(
		zap.String("checkout_id", in.CheckoutID),
		zap.Int64("payment_id", in.PaymentID),
	)

	co, err := repo.GetCheckout(ctx, in.CheckoutID)
	if err != nil {
		return nil, err
	}
	if co.CompletedAt != nil {
		return nil, ErrCheckoutCompleted
	}

	lines, err := repo.FetchLines(ctx, in.CheckoutID)
	if err != nil {
		return nil, fmt.Errorf("fetch checkout lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrLinesUnavailable
	}
	for _, l := range lines {
		if l.Unavailable() {
			log.Warn("checkout line unavailable",
				zap.String("variant_id", l.VariantID),
				zap.Int("quantity", l.Quantity),
				zap.Int("stock", l.Stock),
			)
			return nil, ErrLinesUnavailable
		}
	}

	total := CalculateTotal(co, lines)
	if total != in.PaymentTotal {
		log.Warn("checkout total drifted",
			zap.Int64("checkout_total", total),
			zap.Int64("payment_total", in.PaymentTotal),
		)
		return nil, ErrTotalMismatch
	}

	order := &Order{
		Number:     GenerateOrderNumber(time.Now()),
		CheckoutID: co.ID,
		PaymentID:  in.PaymentID,
		Status:     OrderStatusUnfulfilled,
		Email:      co.Email,
		Total:      total,
		Currency:   co.Currency,
	}
	if err := repo.CreateOrder(ctx, order, lines); err != nil {
		return nil, err
	}
	if err := repo.AttachPayment(ctx, in.PaymentID, order.ID); err != nil {
		return nil, fmt.Errorf("attach payment: %w", err)
	}
	if err := repo.MarkCompleted(ctx, co.ID); err != nil {
		return nil, fmt.Errorf("mark checkout completed: %w", err)
	}

	log.Info("order created", zap.Int64("order_id", order.ID), zap.String("number", order.Number))
	return order, nil
}

// CalculateTotal is the gross the customer owes: line subtotals plus
// shipping, less discounts and gift cards, never below zero.
func CalculateTotal(co *Checkout, lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.Subtotal()
	}
	total += co.ShippingPrice
	total -= co.Discount + co.GiftCardAmount
	if total < 0 {
		return 0
	}
	return total
}
