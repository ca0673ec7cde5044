package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentGateway defines the interface for payment processing
type PaymentGateway interface {
	// CreateIntent creates a payment intent. The idempotency key makes a
	// repeated call with the same key return the same intent.
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error)

	// RetrieveIntent fetches the authoritative state of an intent
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)

	// CreateRefund refunds a captured intent, in full when Amount is nil
	CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// CancelIntent cancels an intent that has not captured so a late
	// checkout can no longer succeed. Cancelling a captured intent fails
	// with a permanent error.
	CancelIntent(ctx context.Context, intentID string) (*Intent, error)

	// Name returns the gateway name
	Name() string
}

// CreateIntentRequest represents a payment intent request. Amount is in
// major units of Currency.
type CreateIntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Validate checks the request before it reaches the gateway
func (r *CreateIntentRequest) Validate() error {
	if r.IdempotencyKey == "" {
		return domain.NewValidationError("idempotency_key", "is required")
	}
	if len(r.Currency) != 3 {
		return domain.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if !r.Amount.IsPositive() {
		return domain.NewValidationError("amount", "must be greater than zero")
	}
	return nil
}

// Intent is a payment intent as reported by the gateway. It is also the
// snapshot the idempotency ledger records, so it must round-trip through JSON.
type Intent struct {
	ID             string              `json:"id"`
	Amount         decimal.Decimal     `json:"amount"`
	MinorAmount    int64               `json:"minor_amount"`
	Currency       string              `json:"currency"`
	AmountRefunded decimal.Decimal     `json:"amount_refunded"`
	Status         domain.IntentStatus `json:"status"`
	ClientSecret   string              `json:"client_secret,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
	FailureCode    string              `json:"failure_code,omitempty"`
	FailureMessage string              `json:"failure_message,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// BookingID returns the booking id recorded in the intent metadata
func (i *Intent) BookingID() string {
	if i.Metadata == nil {
		return ""
	}
	return i.Metadata[domain.MetadataBookingID]
}

// RefundRequest represents a refund request. Amount is in minor units.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
}

// RefundStatus is the gateway-side state of a refund
type RefundStatus string

const (
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusFailed    RefundStatus = "failed"
)

// RefundResult represents a refund response
type RefundResult struct {
	ID          string          `json:"id"`
	IntentID    string          `json:"intent_id"`
	Amount      decimal.Decimal `json:"amount"`
	MinorAmount int64           `json:"minor_amount"`
	Currency    string          `json:"currency"`
	Status      RefundStatus    `json:"status"`
}

// ErrorKind classifies a gateway failure
type ErrorKind string

const (
	// ErrorKindTransient covers timeouts, network failures, rate limits and
	// 5xx responses. Nothing changed at the gateway, or the same idempotency
	// key will resolve it on retry.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindPermanent covers declines and rejected requests. Retrying the
	// same request gives the same answer.
	ErrorKindPermanent ErrorKind = "permanent"
)

// Error is the single error type returned by gateway implementations
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s gateway error (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s gateway error: %s", e.Kind, e.Message)
}

// Unwrap exposes the domain sentinel for the kind and the underlying cause
func (e *Error) Unwrap() []error {
	errs := []error{domain.ErrPermanentGateway}
	if e.Kind == ErrorKindTransient {
		errs[0] = domain.ErrTransientGateway
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Transient builds a transient gateway error
func Transient(code, message string, cause error) *Error {
	return &Error{Kind: ErrorKindTransient, Code: code, Message: message, Err: cause}
}

// Permanent builds a permanent gateway error
func Permanent(code, message string, cause error) *Error {
	return &Error{Kind: ErrorKindPermanent, Code: code, Message: message, Err: cause}
}

// GatewayConfig holds common gateway configuration
type GatewayConfig struct {
	SecretKey string
	Timeout   time.Duration
	Mock      *MockGatewayConfig
}
