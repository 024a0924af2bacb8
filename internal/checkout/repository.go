package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"moyasar-gateway/internal/db"
)

type Repository interface {
	// GetCheckout locks the checkout row for the rest of the transaction.
	GetCheckout(ctx context.Context, checkoutID string) (*Checkout, error)
	FetchLines(ctx context.Context, checkoutID string) ([]Line, error)
	CreateOrder(ctx context.Context, order *Order, lines []Line) error
	AttachPayment(ctx context.Context, paymentID, orderID int64) error
	MarkCompleted(ctx context.Context, checkoutID string) error
}

type repository struct {
	db db.DBTX
}

func NewRepository(q db.DBTX) Repository {
	return &repository{db: q}
}

func (r *repository) GetCheckout(ctx context.Context, checkoutID string) (*Checkout, error) {
	query := `
		SELECT id, email, currency, shipping_price, discount, gift_card_amount, completed_at
		FROM checkouts
		WHERE id = $1
		FOR UPDATE
	`

	var (
		c           Checkout
		completedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, checkoutID).Scan(
		&c.ID,
		&c.Email,
		&c.Currency,
		&c.ShippingPrice,
		&c.Discount,
		&c.GiftCardAmount,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

func (r *repository) FetchLines(ctx context.Context, checkoutID string) ([]Line, error) {
	query := `
		SELECT
			cl.id,
			cl.variant_id,
			v.name,
			cl.quantity,
			v.price,
			v.stock,
			v.is_available
		FROM checkout_lines cl
		JOIN product_variants v ON v.id = cl.variant_id
		WHERE cl.checkout_id = $1
		ORDER BY cl.id
	`

	rows, err := r.db.QueryContext(ctx, query, checkoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(
			&l.ID,
			&l.VariantID,
			&l.VariantName,
			&l.Quantity,
			&l.UnitPrice,
			&l.Stock,
			&l.Available,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}

	return lines, rows.Err()
}

// CreateOrder inserts the order with its lines and deducts stock. A variant
// that lost stock in the meantime fails with ErrLinesUnavailable.
func (r *repository) CreateOrder(ctx context.Context, order *Order, lines []Line) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			number, checkout_id, payment_id, status,
			email, total, currency
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at
	`,
		order.Number,
		order.CheckoutID,
		order.PaymentID,
		order.Status,
		order.Email,
		order.Total,
		order.Currency,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, line := range lines {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO order_lines (
				order_id, variant_id, variant_name,
				quantity, unit_price, subtotal
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			order.ID,
			line.VariantID,
			line.VariantName,
			line.Quantity,
			line.UnitPrice,
			line.Subtotal(),
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}

		res, err := r.db.ExecContext(ctx, `
			UPDATE product_variants
			SET stock = stock - $1
			WHERE id = $2 AND stock >= $1
		`, line.Quantity, line.VariantID)
		if err != nil {
			return fmt.Errorf("deduct stock: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("variant %s: %w", line.VariantID, ErrLinesUnavailable)
		}
	}

	return nil
}

func (r *repository) AttachPayment(ctx context.Context, paymentID, orderID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET order_id = $1, updated_at = now() WHERE id = $2
	`, orderID, paymentID)
	return err
}

func (r *repository) MarkCompleted(ctx context.Context, checkoutID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE checkouts SET completed_at = now() WHERE id = $1
	`, checkoutID)
	return err
}
