package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"moyasar-gateway/internal/checkout"
	"moyasar-gateway/internal/db"
	"moyasar-gateway/internal/logger"
	"moyasar-gateway/internal/payment"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeOrderNotCreated  Outcome = "order_not_created"
	OutcomePaymentClosed    Outcome = "payment_closed"
)

const (
	MessageOK              = "OK"
	MessagePaymentNotFound = "Payment not found"
	MessageOrderNotCreated = "Order not created"
)

// Result is the acknowledgment for a structurally handled event.
type Result struct {
	Outcome Outcome
	Message string
	OrderID int64
}

// Refunder reverses money taken for a payment whose order could not be
// created.
type Refunder interface {
	RefundOrVoid(ctx context.Context, q db.DBTX, p *payment.Payment) (*payment.GatewayResult, error)
}

type Processor struct {
	pool        db.DBTX
	tx          db.Transactor
	newPayments func(db.DBTX) payment.Repository
	completer   checkout.Completer
	refunder    Refunder
	gateway     string
}

func NewProcessor(pool db.DBTX, tx db.Transactor, completer checkout.Completer, refunder Refunder, gateway string) *Processor {
	return &Processor{
		pool:        pool,
		tx:          tx,
		newPayments: payment.NewRepository,
		completer:   completer,
		refunder:    refunder,
		gateway:     gateway,
	}
}

// errDrift marks a completion that must be undone and refunded.
type errDrift struct {
	cause error
}

func (e *errDrift) Error() string { return e.cause.Error() }
func (e *errDrift) Unwrap() error { return e.cause }

// Process applies a verified event. The returned error is reserved for
// infrastructure failures that should make the gateway deliver again.
func (p *Processor) Process(ctx context.Context, ev *Event, raw json.RawMessage) (Result, error) {
	ctx = logger.WithEventID(ctx, ev.Key())
	log := logger.FromCtx(ctx).With(
		zap.String("event_type", ev.Type),
		zap.String("token", ev.Data.ID),
	)

	if ev.Type != EventPaymentPaid {
		log.Debug("webhook event ignored")
		return Result{Outcome: OutcomeIgnored, Message: MessageOK}, nil
	}
	if ev.Data.ID == "" {
		return Result{Outcome: OutcomeNotFound, Message: MessagePaymentNotFound}, nil
	}

	store := p.newPayments(p.pool)
	webhookID, isDup, err := store.SavePaymentWebhook(ctx, p.gateway, ev.Key(), ev.Type, ev.Data.ID, raw, true)
	if err != nil {
		return Result{}, fmt.Errorf("record webhook: %w", err)
	}
	if isDup {
		log.Info("duplicate webhook ignored")
		return Result{Outcome: OutcomeDuplicate, Message: MessageOK}, nil
	}

	var (
		res    Result
		locked *payment.Payment
	)
	err = p.tx.WithTx(ctx, func(ctx context.Context, q db.DBTX) error {
		var err error
		res, locked, err = p.complete(ctx, q, ev)
		return err
	})

	var drift *errDrift
	switch {
	case err == nil && res.Outcome == OutcomeNotFound:
		// left unprocessed so a redelivery looks the payment up again
		if markErr := store.MarkWebhookFailed(ctx, webhookID, "payment not found"); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		return res, nil

	case err == nil:
		if markErr := store.MarkWebhookProcessed(ctx, webhookID); markErr != nil {
			log.Error("failed to mark webhook processed", zap.Error(markErr))
		}
		return res, nil

	case errors.As(err, &drift):
		log.Warn("order not created, reversing payment", zap.Error(err))
		p.reverse(ctx, log, locked)
		if markErr := store.MarkWebhookProcessed(ctx, webhookID); markErr != nil {
			log.Error("failed to mark webhook processed", zap.Error(markErr))
		}
		return Result{Outcome: OutcomeOrderNotCreated, Message: MessageOrderNotCreated}, nil

	default:
		log.Error("order completion failed", zap.Error(err))
		if markErr := store.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		return Result{Outcome: OutcomeOrderNotCreated, Message: MessageOrderNotCreated}, nil
	}
}

// complete runs under the payment row lock. Any returned error rolls the
// whole attempt back.
func (p *Processor) complete(ctx context.Context, q db.DBTX, ev *Event) (Result, *payment.Payment, error) {
	repo := p.newPayments(q)

	pay, err := repo.LockLatestByToken(ctx, ev.Data.ID, p.gateway)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		return Result{Outcome: OutcomeNotFound, Message: MessagePaymentNotFound}, nil, nil
	}
	if err != nil {
		return Result{}, nil, fmt.Errorf("lock payment: %w", err)
	}
	if pay.CheckoutID == nil {
		return Result{Outcome: OutcomeNotFound, Message: MessagePaymentNotFound}, pay, nil
	}
	if pay.OrderID != nil {
		return Result{Outcome: OutcomeAlreadyCompleted, Message: MessageOK, OrderID: *pay.OrderID}, pay, nil
	}
	if pay.Closed() {
		logger.FromCtx(ctx).Info("payment already closed",
			zap.Int64("payment_id", pay.ID),
			zap.String("charge_status", string(pay.ChargeStatus)),
		)
		return Result{Outcome: OutcomePaymentClosed, Message: MessageOrderNotCreated}, pay, nil
	}

	amount, err := ev.Data.AmountMinor()
	if err != nil {
		return Result{}, pay, err
	}

	order, err := p.completer.Complete(ctx, q, checkout.CompletionInput{
		CheckoutID:   *pay.CheckoutID,
		PaymentID:    pay.ID,
		PaymentTotal: pay.Total,
	})
	if errors.Is(err, checkout.ErrLinesUnavailable) || errors.Is(err, checkout.ErrTotalMismatch) {
		return Result{}, pay, &errDrift{cause: err}
	}
	if err != nil {
		return Result{}, pay, fmt.Errorf("complete checkout: %w", err)
	}

	pay.CapturedAmount = amount
	pay.ChargeStatus = payment.ChargeStatusFor(amount, pay.Total)
	if err := repo.UpdateCapture(ctx, pay); err != nil {
		return Result{}, pay, fmt.Errorf("update capture: %w", err)
	}

	removed, err := repo.DeleteSiblings(ctx, *pay.CheckoutID, pay.ID)
	if err != nil {
		return Result{}, pay, err
	}

	logger.FromCtx(ctx).Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", pay.ID),
		zap.String("captured", payment.FormatMinor(pay.CapturedAmount)),
		zap.String("charge_status", string(pay.ChargeStatus)),
		zap.Int64("siblings_removed", removed),
	)
	return Result{Outcome: OutcomeProcessed, Message: MessageOK, OrderID: order.ID}, pay, nil
}

// reverse issues the refund-or-void once, in its own transaction, after the
// failed completion has been rolled back.
func (p *Processor) reverse(ctx context.Context, log *zap.Logger, pay *payment.Payment) {
	if pay == nil {
		return
	}
	err := p.tx.WithTx(ctx, func(ctx context.Context, q db.DBTX) error {
		fresh, err := p.newPayments(q).LockLatestByToken(ctx, pay.Token, p.gateway)
		if err != nil {
			return fmt.Errorf("relock payment: %w", err)
		}
		if fresh.OrderID != nil || fresh.Closed() {
			log.Info("payment already settled, not reversing",
				zap.Int64("payment_id", fresh.ID),
				zap.String("charge_status", string(fresh.ChargeStatus)),
			)
			return nil
		}
		res, err := p.refunder.RefundOrVoid(ctx, q, fresh)
		if err != nil {
			return err
		}
		log.Info("payment reversed",
			zap.String("kind", string(res.Kind)),
			zap.Bool("success", res.Success),
			zap.String("error", res.ErrorMessage),
		)
		return nil
	})
	if err != nil {
		log.Error("refund or void failed", zap.Error(err))
	}
}
