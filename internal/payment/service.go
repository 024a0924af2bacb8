package payment

import (
	"context"
	"fmt"

	"moyasar-gateway/internal/db"
	"moyasar-gateway/internal/logger"
	"moyasar-gateway/internal/metrics"

	"go.uber.org/zap"
)

// Service runs platform lifecycle calls against the gateway and keeps the
// local payment and its transaction journal in step with the outcome.
type Service interface {
	Authorize(ctx context.Context, paymentID int64) (*GatewayResult, error)
	Capture(ctx context.Context, paymentID int64) (*GatewayResult, error)
	Refund(ctx context.Context, paymentID int64) (*GatewayResult, error)
	Confirm(ctx context.Context, paymentID int64) (*GatewayResult, error)
	// RefundOrVoid refunds a charged payment and voids anything else. It
	// runs on q so it can share the caller's transaction and row lock.
	RefundOrVoid(ctx context.Context, q db.DBTX, p *Payment) (*GatewayResult, error)
}

type gatewayCall func(ctx context.Context, req PaymentRequest) (*GatewayResult, error)

type service struct {
	gateway Gateway
	db      db.DBTX
	newRepo func(db.DBTX) Repository
}

func NewService(gateway Gateway, q db.DBTX) Service {
	return &service{gateway: gateway, db: q, newRepo: NewRepository}
}

func (s *service) Authorize(ctx context.Context, paymentID int64) (*GatewayResult, error) {
	return s.run(ctx, paymentID, func(p *Payment) (PaymentRequest, gatewayCall) {
		req := requestFor(p, p.Total)
		req.Source = p.Metadata.Source()
		req.UseApplePay = p.Metadata.UseApplePay()
		return req, s.gateway.Authorize
	})
}

func (s *service) Capture(ctx context.Context, paymentID int64) (*GatewayResult, error) {
	return s.run(ctx, paymentID, func(p *Payment) (PaymentRequest, gatewayCall) {
		return requestFor(p, p.Total), s.gateway.Capture
	})
}

func (s *service) Refund(ctx context.Context, paymentID int64) (*GatewayResult, error) {
	return s.run(ctx, paymentID, func(p *Payment) (PaymentRequest, gatewayCall) {
		return requestFor(p, p.CapturedAmount), s.gateway.Refund
	})
}

func (s *service) Confirm(ctx context.Context, paymentID int64) (*GatewayResult, error) {
	return s.run(ctx, paymentID, func(p *Payment) (PaymentRequest, gatewayCall) {
		return requestFor(p, p.Total), s.gateway.Confirm
	})
}

func (s *service) RefundOrVoid(ctx context.Context, q db.DBTX, p *Payment) (*GatewayResult, error) {
	repo := s.newRepo(q)

	call, amount := s.gateway.Void, p.Total
	if isCharged(p) {
		call, amount = s.gateway.Refund, p.CapturedAmount
	}

	res, err := s.apply(ctx, repo, p, requestFor(p, amount), call)
	if err != nil {
		return nil, err
	}
	metrics.RefundOrVoid(string(res.Kind), res.Success)
	return res, nil
}

func (s *service) run(ctx context.Context, paymentID int64, build func(p *Payment) (PaymentRequest, gatewayCall)) (*GatewayResult, error) {
	repo := s.newRepo(s.db)

	p, err := repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	req, call := build(p)
	return s.apply(ctx, repo, p, req, call)
}

// apply performs one gateway call, journals it, and on success moves the
// payment to the state implied by the result kind.
func (s *service) apply(ctx context.Context, repo Repository, p *Payment, req PaymentRequest, call gatewayCall) (*GatewayResult, error) {
	log := logger.FromCtx(ctx).With(zap.Int64("payment_id", p.ID), zap.String("token", p.Token))

	res, err := call(ctx, req)
	if err != nil {
		log.Warn("gateway call refused", zap.Error(err))
		return nil, err
	}

	token := res.TransactionID
	if token == "" {
		token = p.Token
	}
	txn := &Transaction{
		PaymentID:       p.ID,
		Kind:            res.Kind,
		IsSuccess:       res.Success,
		Token:           token,
		Amount:          res.Amount,
		Currency:        res.Currency,
		Error:           res.ErrorMessage,
		ActionRequired:  res.ActionRequired,
		GatewayResponse: res.RawResponse,
	}
	if err := repo.SaveTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("save %s transaction: %w", res.Kind, err)
	}

	if !res.Success {
		log.Info("gateway call declined", zap.String("kind", string(res.Kind)), zap.String("error", res.ErrorMessage))
		return res, nil
	}

	applyResult(p, res)
	if err := repo.UpdateAfterGateway(ctx, p); err != nil {
		return nil, fmt.Errorf("update payment after %s: %w", res.Kind, err)
	}

	log.Info("gateway call applied",
		zap.String("kind", string(res.Kind)),
		zap.String("charge_status", string(p.ChargeStatus)),
	)
	return res, nil
}

func applyResult(p *Payment, res *GatewayResult) {
	if res.TransactionID != "" {
		p.Token = res.TransactionID
	}

	switch res.Kind {
	case KindCapture, KindConfirm:
		p.CapturedAmount = res.Amount
		p.ChargeStatus = ChargeStatusFor(p.CapturedAmount, p.Total)
	case KindRefund:
		p.CapturedAmount = 0
		p.ChargeStatus = ChargeStatusRefunded
	case KindVoid:
		p.ChargeStatus = ChargeStatusCancelled
		p.IsActive = false
	}
}

func isCharged(p *Payment) bool {
	switch p.ChargeStatus {
	case ChargeStatusFullyCharged, ChargeStatusPartiallyCharged:
		return p.CapturedAmount > 0
	}
	return false
}

func requestFor(p *Payment, amount int64) PaymentRequest {
	return PaymentRequest{
		PaymentID:   p.ID,
		Token:       p.Token,
		Amount:      amount,
		Currency:    p.Currency,
		Description: fmt.Sprintf("Payment #%d", p.ID),
		CustomerID:  p.CustomerEmail,
	}
}
