package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"moyasar-gateway/internal/checkout"
	"moyasar-gateway/internal/db"
	"moyasar-gateway/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id int64) (*payment.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}
func (m *MockPaymentRepository) LockLatestByToken(ctx context.Context, token, gateway string) (*payment.Payment, error) {
	args := m.Called(ctx, token, gateway)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}
func (m *MockPaymentRepository) UpdateCapture(ctx context.Context, p *payment.Payment) error {
	return m.Called(ctx, p).Error(0)
}
func (m *MockPaymentRepository) UpdateAfterGateway(ctx context.Context, p *payment.Payment) error {
	return m.Called(ctx, p).Error(0)
}
func (m *MockPaymentRepository) SaveTransaction(ctx context.Context, t *payment.Transaction) error {
	return m.Called(ctx, t).Error(0)
}
func (m *MockPaymentRepository) DeleteSiblings(ctx context.Context, checkoutID string, keepID int64) (int64, error) {
	args := m.Called(ctx, checkoutID, keepID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockPaymentRepository) SavePaymentWebhook(ctx context.Context, provider, eventID, eventType, externalID string, payload json.RawMessage, signatureValid bool) (int64, bool, error) {
	args := m.Called(ctx, provider, eventID, eventType, externalID, payload, signatureValid)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}
func (m *MockPaymentRepository) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	return m.Called(ctx, webhookID).Error(0)
}
func (m *MockPaymentRepository) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	return m.Called(ctx, webhookID, reason).Error(0)
}

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, q db.DBTX, in checkout.CompletionInput) (*checkout.Order, error) {
	args := m.Called(ctx, q, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Order), args.Error(1)
}

type MockRefunder struct {
	mock.Mock
}

func (m *MockRefunder) RefundOrVoid(ctx context.Context, q db.DBTX, p *payment.Payment) (*payment.GatewayResult, error) {
	args := m.Called(ctx, q, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.GatewayResult), args.Error(1)
}

// fakeTransactor runs fn without a database and reports fn's error.
type fakeTransactor struct {
	calls int
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, q db.DBTX) error) error {
	f.calls++
	return fn(ctx, nil)
}

type processorFixture struct {
	repo      *MockPaymentRepository
	completer *MockCompleter
	refunder  *MockRefunder
	tx        *fakeTransactor
	proc      *Processor
}

func newFixture() *processorFixture {
	f := &processorFixture{
		repo:      new(MockPaymentRepository),
		completer: new(MockCompleter),
		refunder:  new(MockRefunder),
		tx:        &fakeTransactor{},
	}
	f.proc = &Processor{
		tx:          f.tx,
		newPayments: func(db.DBTX) payment.Repository { return f.repo },
		completer:   f.completer,
		refunder:    f.refunder,
		gateway:     payment.GatewayName,
	}
	return f
}

func paidEvent(amount string) *Event {
	return &Event{
		Type: EventPaymentPaid,
		Data: EventData{ID: "pay_123", Amount: json.Number(amount)},
	}
}

func pendingPayment() *payment.Payment {
	checkoutID := "chk-1"
	return &payment.Payment{
		ID:           11,
		CheckoutID:   &checkoutID,
		Gateway:      payment.GatewayName,
		Token:        "pay_123",
		Total:        20000,
		Currency:     "SAR",
		ChargeStatus: payment.ChargeStatusNotCharged,
		IsActive:     true,
	}
}

func (f *processorFixture) expectRecorded(webhookID int64, dup bool) {
	f.repo.On("SavePaymentWebhook", mock.Anything, payment.GatewayName, "payment_paid:pay_123", EventPaymentPaid, "pay_123", mock.Anything, true).
		Return(webhookID, dup, nil)
}

func TestProcessor_Paid(t *testing.T) {
	ctx := context.Background()
	raw := json.RawMessage(`{"type":"payment_paid","data":{"id":"pay_123","amount":20000}}`)

	t.Run("Full amount creates order", func(t *testing.T) {
		f := newFixture()
		pay := pendingPayment()

		f.expectRecorded(1, false)
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil)
		f.completer.On("Complete", mock.Anything, nil, checkout.CompletionInput{
			CheckoutID: "chk-1", PaymentID: 11, PaymentTotal: 20000,
		}).Return(&checkout.Order{ID: 501}, nil)
		f.repo.On("UpdateCapture", mock.Anything, pay).Return(nil)
		f.repo.On("DeleteSiblings", mock.Anything, "chk-1", int64(11)).Return(int64(2), nil)
		f.repo.On("MarkWebhookProcessed", mock.Anything, int64(1)).Return(nil)

		res, err := f.proc.Process(ctx, paidEvent("20000"), raw)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, res.Outcome)
		assert.Equal(t, MessageOK, res.Message)
		assert.Equal(t, int64(501), res.OrderID)

		assert.Equal(t, int64(20000), pay.CapturedAmount)
		assert.Equal(t, "200.00", payment.FormatMinor(pay.CapturedAmount))
		assert.Equal(t, payment.ChargeStatusFullyCharged, pay.ChargeStatus)

		f.repo.AssertExpectations(t)
		f.refunder.AssertNotCalled(t, "RefundOrVoid", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Short amount is partially charged", func(t *testing.T) {
		f := newFixture()
		pay := pendingPayment()

		f.expectRecorded(1, false)
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil)
		f.completer.On("Complete", mock.Anything, nil, mock.Anything).Return(&checkout.Order{ID: 502}, nil)
		f.repo.On("UpdateCapture", mock.Anything, pay).Return(nil)
		f.repo.On("DeleteSiblings", mock.Anything, "chk-1", int64(11)).Return(int64(0), nil)
		f.repo.On("MarkWebhookProcessed", mock.Anything, int64(1)).Return(nil)

		res, err := f.proc.Process(ctx, paidEvent("15000"), raw)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, res.Outcome)
		assert.Equal(t, int64(15000), pay.CapturedAmount)
		assert.Equal(t, payment.ChargeStatusPartiallyCharged, pay.ChargeStatus)
	})

	t.Run("Payment not found", func(t *testing.T) {
		f := newFixture()

		f.expectRecorded(1, false)
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(nil, payment.ErrPaymentNotFound)
		f.repo.On("MarkWebhookFailed", mock.Anything, int64(1), "payment not found").Return(nil)

		res, err := f.proc.Process(ctx, paidEvent("20000"), raw)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, res.Outcome)
		assert.Equal(t, MessagePaymentNotFound, res.Message)

		f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "UpdateCapture", mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "DeleteSiblings", mock.Anything, mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "MarkWebhookProcessed", mock.Anything, mock.Anything)
	})

	t.Run("Payment not found on every redelivery", func(t *testing.T) {
		f := newFixture()

		// an unprocessed row is handed back on conflict, so the store never
		// reports the redelivery as a duplicate
		f.expectRecorded(1, false)
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(nil, payment.ErrPaymentNotFound)
		f.repo.On("MarkWebhookFailed", mock.Anything, int64(1), "payment not found").Return(nil)

		for i := 0; i < 2; i++ {
			res, err := f.proc.Process(ctx, paidEvent("20000"), raw)
			require.NoError(t, err)
			assert.Equal(t, OutcomeNotFound, res.Outcome)
			assert.Equal(t, MessagePaymentNotFound, res.Message)
		}

		f.repo.AssertNumberOfCalls(t, "LockLatestByToken", 2)
		f.repo.AssertNotCalled(t, "MarkWebhookProcessed", mock.Anything, mock.Anything)
	})

	t.Run("Payment arriving after first delivery", func(t *testing.T) {
		f := newFixture()
		pay := pendingPayment()

		f.expectRecorded(1, false)
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(nil, payment.ErrPaymentNotFound).Once()
		f.repo.On("MarkWebhookFailed", mock.Anything, int64(1), "payment not found").Return(nil).Once()
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil).Once()
		f.completer.On("Complete", mock.Anything, nil, mock.Anything).Return(&checkout.Order{ID: 503}, nil)
		f.repo.On("UpdateCapture", mock.Anything, pay).Return(nil)
		f.repo.On("DeleteSiblings", mock.Anything, "chk-1", int64(11)).Return(int64(0), nil)
		f.repo.On("MarkWebhookProcessed", mock.Anything, int64(1)).Return(nil)

		first, err := f.proc.Process(ctx, paidEvent("20000"), raw)
		require.NoError(t, err)
		assert.Equal(t, MessagePaymentNotFound, first.Message)

		second, err := f.proc.Process(ctx, paidEvent("20000"), raw)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, second.Outcome)
		assert.Equal(t, int64(503), second.OrderID)
	})

	t.Run("Closed payment backs no order", func(t *testing.T) {
		for _, status := range []payment.ChargeStatus{payment.ChargeStatusCancelled, payment.ChargeStatusRefunded} {
			t.Run(string(status), func(t *testing.T) {
				f := newFixture()
				pay := pendingPayment()
				pay.ChargeStatus = status
				pay.IsActive = false

				f.expectRecorded(1, false)
				f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil)
				f.repo.On("MarkWebhookProcessed", mock.Anything, int64(1)).Return(nil)

				res, err := f.proc.Process(ctx, paidEvent("20000"), raw)
				require.NoError(t, err)
				assert.Equal(t, OutcomePaymentClosed, res.Outcome)
				assert.Equal(t, MessageOrderNotCreated, res.Message)

				f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
				f.refunder.AssertNotCalled(t, "RefundOrVoid", mock.Anything, mock.Anything, mock.Anything)
				f.repo.AssertNotCalled(t, "UpdateCapture", mock.Anything, mock.Anything)
				assert.Equal(t, status, pay.ChargeStatus)
			})
		}
	})

	t.Run("Payment without checkout", func(t *testing.T) {
		f := newFixture()
		pay := pendingPayment()
		pay.CheckoutID = nil

		f.expectRecorded(1, false)
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil)
		f.repo.On("MarkWebhookFailed", mock.Anything, int64(1), "payment not found").Return(nil)

		res, err := f.proc.Process(ctx, paidEvent("20000"), raw)
		require.NoError(t, err)
		assert.Equal(t, MessagePaymentNotFound, res.Message)
		f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Order already exists", func(t *testing.T) {
		f := newFixture()
		pay := pendingPayment()
		orderID := int64(77)
		pay.OrderID = &orderID

		f.expectRecorded(1, false)
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil)
		f.repo.On("MarkWebhookProcessed", mock.Anything, int64(1)).Return(nil)

		res, err := f.proc.Process(ctx, paidEvent("20000"), raw)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyCompleted, res.Outcome)
		assert.Equal(t, int64(77), res.OrderID)
		f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Duplicate delivery", func(t *testing.T) {
		f := newFixture()
		f.expectRecorded(0, true)

		res, err := f.proc.Process(ctx, paidEvent("20000"), raw)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
		assert.Equal(t, 0, f.tx.calls)
		f.repo.AssertNotCalled(t, "LockLatestByToken", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestProcessor_Drift(t *testing.T) {
	ctx := context.Background()

	for _, cause := range []error{checkout.ErrTotalMismatch, checkout.ErrLinesUnavailable} {
		t.Run(cause.Error(), func(t *testing.T) {
			f := newFixture()
			pay := pendingPayment()

			f.expectRecorded(1, false)
			f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil)
			f.completer.On("Complete", mock.Anything, nil, mock.Anything).Return(nil, cause)
			f.refunder.On("RefundOrVoid", mock.Anything, nil, pay).
				Return(&payment.GatewayResult{Success: true, Kind: payment.KindVoid}, nil).Once()
			f.repo.On("MarkWebhookProcessed", mock.Anything, int64(1)).Return(nil)

			res, err := f.proc.Process(ctx, paidEvent("20000"), nil)
			require.NoError(t, err)
			assert.Equal(t, OutcomeOrderNotCreated, res.Outcome)
			assert.Equal(t, MessageOrderNotCreated, res.Message)

			f.refunder.AssertNumberOfCalls(t, "RefundOrVoid", 1)
			f.repo.AssertNotCalled(t, "UpdateCapture", mock.Anything, mock.Anything)
			f.repo.AssertNotCalled(t, "DeleteSiblings", mock.Anything, mock.Anything, mock.Anything)
			assert.Equal(t, 2, f.tx.calls)
		})
	}
}

func TestProcessor_DriftAfterConcurrentReversal(t *testing.T) {
	f := newFixture()
	pay := pendingPayment()

	voided := pendingPayment()
	voided.ChargeStatus = payment.ChargeStatusCancelled
	voided.IsActive = false

	// the first lock sees the payment open; by the relock a concurrent
	// delivery of the same event has voided it
	f.expectRecorded(1, false)
	f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil).Once()
	f.completer.On("Complete", mock.Anything, nil, mock.Anything).Return(nil, checkout.ErrTotalMismatch)
	f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(voided, nil).Once()
	f.repo.On("MarkWebhookProcessed", mock.Anything, int64(1)).Return(nil)

	res, err := f.proc.Process(context.Background(), paidEvent("20000"), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrderNotCreated, res.Outcome)

	f.refunder.AssertNotCalled(t, "RefundOrVoid", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 2, f.tx.calls)
}

func TestProcessor_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("Completion error rolls back without refund", func(t *testing.T) {
		f := newFixture()
		pay := pendingPayment()

		f.expectRecorded(1, false)
		f.repo.On("LockLatestByToken", mock.Anything, "pay_123", payment.GatewayName).Return(pay, nil)
		f.completer.On("Complete", mock.Anything, nil, mock.Anything).Return(nil, errors.New("db down"))
		f.repo.On("MarkWebhookFailed", mock.Anything, int64(1), mock.MatchedBy(func(reason string) bool {
			return reason == "complete checkout: db down"
		})).Return(nil)

		res, err := f.proc.Process(ctx, paidEvent("20000"), nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeOrderNotCreated, res.Outcome)
		f.refunder.AssertNotCalled(t, "RefundOrVoid", mock.Anything, mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "MarkWebhookProcessed", mock.Anything, mock.Anything)
	})

	t.Run("Record failure is surfaced", func(t *testing.T) {
		f := newFixture()
		f.repo.On("SavePaymentWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(int64(0), false, errors.New("db down"))

		_, err := f.proc.Process(ctx, paidEvent("20000"), nil)
		assert.ErrorContains(t, err, "record webhook")
	})

	t.Run("Other event types are ignored", func(t *testing.T) {
		f := newFixture()

		res, err := f.proc.Process(ctx, &Event{Type: "payment_failed", Data: EventData{ID: "pay_123"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, res.Outcome)
		assert.Equal(t, MessageOK, res.Message)
		f.repo.AssertNotCalled(t, "SavePaymentWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Missing payment id", func(t *testing.T) {
		f := newFixture()

		res, err := f.proc.Process(ctx, &Event{Type: EventPaymentPaid}, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, res.Outcome)
	})
}
