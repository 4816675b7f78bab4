package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/paymentintent"
	"github.com/stripe/stripe-go/v78/refund"
)

// stripeIntentAPI and stripeRefundAPI wrap the stripe-go clients so tests can
// inject fakes without a network.
type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeClients bundles the stripe API surfaces the provider depends on.
// Leave fields nil to use the real clients built from the API key.
type StripeClients struct {
	Intents stripeIntentAPI
	Refunds stripeRefundAPI
}

// StripeProviderConfig configures the Stripe-backed provider.
type StripeProviderConfig struct {
	APIKey  string
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Clients StripeClients
}

// StripeProvider charges marketplace orders through Stripe payment intents.
type StripeProvider struct {
	intents stripeIntentAPI
	refunds stripeRefundAPI
	clock   func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider builds a provider from the config. The API key is
// required unless both client surfaces are injected.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	intents := cfg.Clients.Intents
	refunds := cfg.Clients.Refunds
	if intents == nil || refunds == nil {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("payments: stripe api key is required")
		}
		backend := stripe.GetBackend(stripe.APIBackend)
		if intents == nil {
			intents = &paymentintent.Client{B: backend, Key: cfg.APIKey}
		}
		if refunds == nil {
			refunds = &refund.Client{B: backend, Key: cfg.APIKey}
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &StripeProvider{
		intents: intents,
		refunds: refunds,
		clock:   func() time.Time { return clock().UTC() },
		logger:  cfg.Logger,
	}, nil
}

// Charge creates and confirms a payment intent for the order amount.
func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (Payment, error) {
	if err := req.validate(); err != nil {
		return Payment{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Metadata: map[string]string{
			"orderId":     req.OrderID,
			"orderNumber": req.OrderNumber,
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.BuyerEmail != "" {
		params.ReceiptEmail = stripe.String(req.BuyerEmail)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Payment{}, p.wrapStripeError(ctx, "payment.charge.failed", req.OrderID, err)
	}

	p.log(ctx, "payment.charge.created", map[string]any{
		"orderId":   req.OrderID,
		"paymentId": intent.ID,
		"amount":    req.Amount,
	})
	return p.paymentFromIntent(intent), nil
}

// Refund reverses a captured payment, fully when Amount is zero.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (Payment, error) {
	if err := req.validate(); err != nil {
		return Payment{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentID),
	}
	params.Context = ctx
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if req.Reason != "" {
		params.Metadata = map[string]string{"reason": req.Reason}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	ref, err := p.refunds.New(params)
	if err != nil {
		return Payment{}, p.wrapStripeError(ctx, "payment.refund.failed", req.OrderID, err)
	}

	payment := Payment{
		ID:        req.PaymentID,
		Status:    StatusRefunded,
		Amount:    ref.Amount,
		Currency:  strings.ToUpper(string(ref.Currency)),
		CreatedAt: time.Unix(ref.Created, 0).UTC(),
	}
	if ref.Status == stripe.RefundStatusFailed {
		payment.Status = StatusFailed
		payment.FailureCode = string(ref.FailureReason)
	}

	p.log(ctx, "payment.refund.created", map[string]any{
		"orderId":   req.OrderID,
		"paymentId": req.PaymentID,
		"amount":    ref.Amount,
	})
	return payment, nil
}

// LookupPayment fetches the current provider state of a payment.
func (p *StripeProvider) LookupPayment(ctx context.Context, paymentID string) (Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrInvalidRequest)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(paymentID, params)
	if err != nil {
		return Payment{}, p.wrapStripeError(ctx, "payment.lookup.failed", "", err)
	}
	return p.paymentFromIntent(intent), nil
}

func (p *StripeProvider) paymentFromIntent(intent *stripe.PaymentIntent) Payment {
	createdAt := p.clock()
	if intent.Created > 0 {
		createdAt = time.Unix(intent.Created, 0).UTC()
	}
	payment := Payment{
		ID:           intent.ID,
		Status:       statusFromIntent(intent),
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		ClientSecret: intent.ClientSecret,
		CreatedAt:    createdAt,
	}
	if intent.LastPaymentError != nil {
		payment.FailureCode = string(intent.LastPaymentError.Code)
	}
	return payment
}

func statusFromIntent(intent *stripe.PaymentIntent) Status {
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func (p *StripeProvider) wrapStripeError(ctx context.Context, event, orderID string, err error) error {
	fields := map[string]any{"error": err.Error()}
	if orderID != "" {
		fields["orderId"] = orderID
	}
	p.log(ctx, event, fields)

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeInvalidRequest:
			if stripeErr.HTTPStatusCode == 404 {
				return fmt.Errorf("%w: %s", ErrPaymentNotFound, stripeErr.Code)
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, stripeErr.Code)
		case stripe.ErrorTypeCard:
			return fmt.Errorf("%w: %s", ErrInvalidRequest, stripeErr.Code)
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

func (p *StripeProvider) log(ctx context.Context, event string, fields map[string]any) {
	if p.logger != nil {
		p.logger(ctx, event, fields)
	}
}
