package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/stripe/stripe-go/v82"
)

const defaultStripeTimeout = 10 * time.Second

// StripeGateway implements PaymentGateway using Stripe
type StripeGateway struct {
	client  *stripe.Client
	timeout time.Duration
}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey string
	Timeout   time.Duration

	// Backends overrides the Stripe API endpoint, used by tests
	Backends *stripe.Backends
}

// NewStripeGateway creates a new Stripe gateway with its own client
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	var opts []stripe.ClientOption
	if config.Backends != nil {
		opts = append(opts, stripe.WithBackends(config.Backends))
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}

	return &StripeGateway{
		client:  stripe.NewClient(config.SecretKey, opts...),
		timeout: timeout,
	}, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}

// CreateIntent creates a Stripe PaymentIntent and returns its client secret
func (g *StripeGateway) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error) {
	if req == nil {
		return nil, fmt.Errorf("payment intent request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	minor, err := ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: make(map[string]string, len(req.Metadata)),
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, classifyStripeError(ctx, err)
	}
	return intentFromStripe(pi), nil
}

// RetrieveIntent fetches a PaymentIntent with its latest charge expanded so
// refunds are visible
func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}

	params := &stripe.PaymentIntentRetrieveParams{}
	params.AddExpand("latest_charge")

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, intentID, params)
	if err != nil {
		return nil, classifyStripeError(ctx, err)
	}
	return intentFromStripe(pi), nil
}

// CreateRefund refunds a PaymentIntent
func (g *StripeGateway) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	if req == nil || req.IntentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}
	if req.IdempotencyKey == "" {
		return nil, domain.NewValidationError("idempotency_key", "is required")
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	params.Reason = stripe.String(string(stripe.RefundReasonRequestedByCustomer))
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	r, err := g.client.V1Refunds.Create(ctx, params)
	if err != nil {
		return nil, classifyStripeError(ctx, err)
	}

	currency := strings.ToUpper(string(r.Currency))
	return &RefundResult{
		ID:          r.ID,
		IntentID:    req.IntentID,
		Amount:      FromMinorUnits(r.Amount, currency),
		MinorAmount: r.Amount,
		Currency:    currency,
		Status:      refundStatusFromStripe(r.Status),
	}, nil
}

// CancelIntent cancels a PaymentIntent that has not captured. Stripe answers
// payment_intent_unexpected_state when the intent already succeeded.
func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pi, err := g.client.V1PaymentIntents.Cancel(ctx, intentID, params)
	if err != nil {
		return nil, classifyStripeError(ctx, err)
	}
	return intentFromStripe(pi), nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	currency := strings.ToUpper(string(pi.Currency))
	intent := &Intent{
		ID:             pi.ID,
		Amount:         FromMinorUnits(pi.Amount, currency),
		MinorAmount:    pi.Amount,
		Currency:       currency,
		AmountRefunded: FromMinorUnits(0, currency),
		ClientSecret:   pi.ClientSecret,
		Metadata:       pi.Metadata,
		CreatedAt:      time.Unix(pi.Created, 0).UTC(),
	}
	if pi.LastPaymentError != nil {
		intent.FailureCode = string(pi.LastPaymentError.Code)
		if pi.LastPaymentError.DeclineCode != "" {
			intent.FailureCode = string(pi.LastPaymentError.DeclineCode)
		}
		intent.FailureMessage = pi.LastPaymentError.Msg
	}

	var refunded int64
	fullyRefunded := false
	if pi.LatestCharge != nil {
		refunded = pi.LatestCharge.AmountRefunded
		fullyRefunded = pi.LatestCharge.Refunded
	}
	intent.AmountRefunded = FromMinorUnits(refunded, currency)
	intent.Status = intentStatusFromStripe(pi, refunded, fullyRefunded)
	return intent
}

// intentStatusFromStripe decodes Stripe's status string into the fixed set
// the rest of the service works with
func intentStatusFromStripe(pi *stripe.PaymentIntent, refunded int64, fullyRefunded bool) domain.IntentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		switch {
		case fullyRefunded || (refunded > 0 && refunded >= pi.Amount):
			return domain.IntentStatusRefunded
		case refunded > 0:
			return domain.IntentStatusPartiallyRefunded
		}
		return domain.IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return domain.IntentStatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// a declined attempt drops the intent back to requires_payment_method
		if pi.LastPaymentError != nil {
			return domain.IntentStatusFailed
		}
		return domain.IntentStatusCreated
	case stripe.PaymentIntentStatusRequiresConfirmation:
		return domain.IntentStatusCreated
	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresCapture:
		return domain.IntentStatusRequiresAction
	}
	return domain.IntentStatusCreated
}

func refundStatusFromStripe(s stripe.RefundStatus) RefundStatus {
	switch s {
	case stripe.RefundStatusSucceeded:
		return RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return RefundStatusFailed
	}
	return RefundStatusPending
}

// classifyStripeError turns any error from the Stripe client into *Error
func classifyStripeError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Transient("timeout", "stripe request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return Transient("canceled", "stripe request canceled", err)
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		code := string(se.Code)
		if se.DeclineCode != "" {
			code = string(se.DeclineCode)
		}
		if code == "" {
			code = string(se.Type)
		}

		switch {
		case se.HTTPStatusCode == http.StatusTooManyRequests,
			se.HTTPStatusCode >= http.StatusInternalServerError,
			se.Type == stripe.ErrorTypeAPI:
			return Transient(code, se.Msg, err)
		case se.HTTPStatusCode == http.StatusConflict:
			// concurrent request with the same idempotency key still in flight
			return Transient(code, se.Msg, err)
		}
		return Permanent(code, se.Msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient("network", netErr.Error(), err)
	}
	return Transient("unknown", err.Error(), err)
}
