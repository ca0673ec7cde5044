package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the gateway-side state of a payment intent, decoded once
// at the adapter boundary
type IntentStatus string

const (
	IntentStatusCreated           IntentStatus = "created"
	IntentStatusRequiresAction    IntentStatus = "requires_action"
	IntentStatusSucceeded         IntentStatus = "succeeded"
	IntentStatusFailed            IntentStatus = "failed"
	IntentStatusRefunded          IntentStatus = "refunded"
	IntentStatusPartiallyRefunded IntentStatus = "partially_refunded"
)

// IsFinal reports whether the gateway will not move the intent on its own
func (s IntentStatus) IsFinal() bool {
	switch s {
	case IntentStatusSucceeded, IntentStatusFailed, IntentStatusRefunded, IntentStatusPartiallyRefunded:
		return true
	}
	return false
}

// HasCaptured reports whether money was taken from the guest at some point
func (s IntentStatus) HasCaptured() bool {
	switch s {
	case IntentStatusSucceeded, IntentStatusRefunded, IntentStatusPartiallyRefunded:
		return true
	}
	return false
}

// MetadataBookingID is the intent metadata key that links an intent to its booking
const MetadataBookingID = "booking_id"

// PaymentIntent is the local record of a gateway payment intent
type PaymentIntent struct {
	ID             string            `json:"id"`
	BookingID      string            `json:"booking_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	AmountRefunded decimal.Decimal   `json:"amount_refunded"`
	IdempotencyKey string            `json:"idempotency_key"`
	Status         IntentStatus      `json:"status"`
	ClientSecret   string            `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Superseded     bool              `json:"superseded"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy
func (p *PaymentIntent) Clone() *PaymentIntent {
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
