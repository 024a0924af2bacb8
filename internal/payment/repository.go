package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"moyasar-gateway/internal/db"
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Payment, error)
	// LockLatestByToken returns the newest payment for token+gateway and holds
	// a row lock on it until the surrounding transaction ends.
	LockLatestByToken(ctx context.Context, token, gateway string) (*Payment, error)
	UpdateCapture(ctx context.Context, p *Payment) error
	UpdateAfterGateway(ctx context.Context, p *Payment) error
	SaveTransaction(ctx context.Context, t *Transaction) error
	DeleteSiblings(ctx context.Context, checkoutID string, keepID int64) (int64, error)

	SavePaymentWebhook(
		ctx context.Context,
		provider string,
		eventID string,
		eventType string,
		externalID string,
		payload json.RawMessage,
		signatureValid bool,
	) (webhookID int64, isDuplicate bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db db.DBTX
}

// NewRepository works against either the pool or an open transaction.
func NewRepository(q db.DBTX) Repository {
	return &repository{db: q}
}

const paymentColumns = `
	id, checkout_id, order_id, gateway, token, total, captured_amount,
	currency, charge_status, is_active, customer_email, metadata, created_at, updated_at`

func scanPayment(row interface{ Scan(dest ...any) error }) (*Payment, error) {
	var (
		p          Payment
		checkoutID sql.NullString
		orderID    sql.NullInt64
		metadata   []byte
	)
	err := row.Scan(
		&p.ID, &checkoutID, &orderID, &p.Gateway, &p.Token, &p.Total, &p.CapturedAmount,
		&p.Currency, &p.ChargeStatus, &p.IsActive, &p.CustomerEmail, &metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if checkoutID.Valid {
		p.CheckoutID = &checkoutID.String
	}
	if orderID.Valid {
		p.OrderID = &orderID.Int64
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment %d metadata: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+paymentColumns+`
		FROM payments WHERE id = $1 AND is_active = true
	`, id)
	return scanPayment(row)
}

func (r *repository) LockLatestByToken(ctx context.Context, token, gateway string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+paymentColumns+`
		FROM payments
		WHERE token = $1 AND gateway = $2
		ORDER BY id DESC
		LIMIT 1
		FOR UPDATE
	`, token, gateway)
	return scanPayment(row)
}

// UpdateCapture persists only captured_amount and charge_status.
func (r *repository) UpdateCapture(ctx context.Context, p *Payment) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET captured_amount = $1, charge_status = $2 WHERE id = $3
	`, p.CapturedAmount, p.ChargeStatus, p.ID)
	return err
}

func (r *repository) UpdateAfterGateway(ctx context.Context, p *Payment) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET token = $1, captured_amount = $2, charge_status = $3, is_active = $4, updated_at = now()
		WHERE id = $5
	`, p.Token, p.CapturedAmount, p.ChargeStatus, p.IsActive, p.ID)
	return err
}

func (r *repository) SaveTransaction(ctx context.Context, t *Transaction) error {
	raw := t.GatewayResponse
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO payment_transactions (
			payment_id, kind, is_success, token, amount, currency,
			error, action_required, gateway_response
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`,
		t.PaymentID, t.Kind, t.IsSuccess, t.Token, t.Amount, t.Currency,
		t.Error, t.ActionRequired, []byte(raw),
	).Scan(&t.ID, &t.CreatedAt)
}

// DeleteSiblings removes every other payment on the checkout, transactions first.
func (r *repository) DeleteSiblings(ctx context.Context, checkoutID string, keepID int64) (int64, error) {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM payment_transactions
		WHERE payment_id IN (SELECT id FROM payments WHERE checkout_id = $1 AND id <> $2)
	`, checkoutID, keepID)
	if err != nil {
		return 0, fmt.Errorf("delete sibling transactions: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM payments WHERE checkout_id = $1 AND id <> $2
	`, checkoutID, keepID)
	if err != nil {
		return 0, fmt.Errorf("delete sibling payments: %w", err)
	}
	return res.RowsAffected()
}

// SavePaymentWebhook records a delivery. A repeat of an event that was
// already processed returns isDuplicate; a repeat of one that failed is
// handed back for another attempt.
func (r *repository) SavePaymentWebhook(
	ctx context.Context,
	provider string,
	eventID string,
	eventType string,
	externalID string,
	payload json.RawMessage,
	signatureValid bool,
) (int64, bool, error) {

	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_id,
		event_type,
		external_id,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET attempts = payment_webhooks.attempts + 1
	WHERE payment_webhooks.processed_at IS NULL
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(
		ctx,
		q,
		provider,
		eventID,
		eventType,
		externalID,
		signatureValid,
		[]byte(payload),
	).Scan(&id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, err
	}

	return id, false, nil
}

func (r *repository) MarkWebhookProcessed(
	ctx context.Context,
	webhookID int64,
) error {

	const q = `
	UPDATE payment_webhooks
	SET processed_at = now(), process_error = NULL
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(
	ctx context.Context,
	webhookID int64,
	reason string,
) error {

	const q = `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID, reason)
	return err
}
