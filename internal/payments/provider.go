// Package payments integrates card payment providers for marketplace orders.
package payments

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is the provider-neutral state of a payment attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var (
	// ErrInvalidRequest indicates the charge or refund request is malformed.
	ErrInvalidRequest = errors.New("payments: invalid request")
	// ErrPaymentNotFound indicates the provider has no record of the payment.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrProviderUnavailable indicates the provider rejected or timed out.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
)

// ChargeRequest describes a card charge for a single order. Amount is in the
// currency's minor unit.
type ChargeRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	BuyerEmail     string
	Description    string
	IdempotencyKey string
}

// RefundRequest reverses a previously captured charge. A zero Amount refunds
// the full charge.
type RefundRequest struct {
	PaymentID      string
	OrderID        string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// Payment is the provider's view of a charge after any operation.
type Payment struct {
	ID           string
	Status       Status
	Amount       int64
	Currency     string
	ClientSecret string
	FailureCode  string
	CreatedAt    time.Time
}

// Provider is implemented per payment backend. All operations are idempotent
// when the request carries an idempotency key.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (Payment, error)
	Refund(ctx context.Context, req RefundRequest) (Payment, error)
	LookupPayment(ctx context.Context, paymentID string) (Payment, error)
}

func (r ChargeRequest) validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return errors.New("order id is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if strings.TrimSpace(r.Currency) == "" {
		return errors.New("currency is required")
	}
	return nil
}

func (r RefundRequest) validate() error {
	if strings.TrimSpace(r.PaymentID) == "" {
		return errors.New("payment id is required")
	}
	if r.Amount < 0 {
		return errors.New("amount must not be negative")
	}
	return nil
}
